package cil

import (
	"fmt"
	"math/bits"
)

// tableHeaderSize covers Reserved, MajorVersion, MinorVersion, HeapSizes,
// Reserved, Valid and Sorted (II.24.2.6).
const tableHeaderSize = 24

type tableLayout struct {
	rows    uint32
	rowSize int
	offset  int // from the start of the #~ stream
	cols    []int
	widths  []int
}

// tableStream is a decoded #~ stream header plus the computed position of
// every present table.
type tableStream struct {
	data      []byte
	heapSizes byte
	valid     uint64
	sorted    uint64
	tables    [numTables]tableLayout
	end       int // first byte after the last table
}

func parseTableStream(data []byte) (*tableStream, error) {
	if len(data) < tableHeaderSize {
		return nil, formatErr("#~ stream", fmt.Errorf("header truncated"))
	}
	ts := &tableStream{
		data:      data,
		heapSizes: data[6],
		valid:     le.Uint64(data[8:]),
		sorted:    le.Uint64(data[16:]),
	}
	if ts.valid>>numTables != 0 {
		return nil, fmt.Errorf("%w: table mask 0x%x references tables beyond 0x%x", ErrUnsupported, ts.valid, numTables-1)
	}
	for _, t := range unsupportedTables {
		if ts.has(t) {
			return nil, fmt.Errorf("%w: table 0x%02x present", ErrUnsupported, t)
		}
	}

	pos := tableHeaderSize
	for t := tableID(0); t < numTables; t++ {
		if !ts.has(t) {
			continue
		}
		if pos+4 > len(data) {
			return nil, formatErr("#~ stream", fmt.Errorf("row counts truncated"))
		}
		ts.tables[t].rows = le.Uint32(data[pos:])
		pos += 4
	}
	if ts.heapSizes&heapExtraData != 0 {
		pos += 4
	}

	for t := tableID(0); t < numTables; t++ {
		if !ts.has(t) {
			continue
		}
		l := &ts.tables[t]
		l.offset = pos
		l.cols = make([]int, len(schema[t]))
		l.widths = make([]int, len(schema[t]))
		for i, c := range schema[t] {
			w := ts.width(c)
			l.cols[i] = l.rowSize
			l.widths[i] = w
			l.rowSize += w
		}
		pos += int(l.rows) * l.rowSize
		if pos > len(data) {
			return nil, formatErr("#~ stream", fmt.Errorf("table 0x%02x overruns stream", t))
		}
	}
	ts.end = pos
	return ts, nil
}

func (ts *tableStream) has(t tableID) bool {
	return ts.valid&(1<<t) != 0
}

func (ts *tableStream) rows(t tableID) uint32 {
	return ts.tables[t].rows
}

func (ts *tableStream) width(c column) int {
	switch c.kind {
	case colFixed:
		return c.size
	case colString:
		return ts.heapWidth(heapBigStrings)
	case colGUID:
		return ts.heapWidth(heapBigGUID)
	case colBlob:
		return ts.heapWidth(heapBigBlob)
	case colIndex:
		if ts.rows(c.table) < 1<<16 {
			return 2
		}
		return 4
	case colCoded:
		var most uint32
		for _, t := range c.coded.tables {
			if t != noTable && ts.rows(t) > most {
				most = ts.rows(t)
			}
		}
		if most < 1<<(16-c.coded.bits) {
			return 2
		}
		return 4
	}
	panic(fmt.Sprintf("unknown column kind %d", c.kind))
}

func (ts *tableStream) heapWidth(flag byte) int {
	if ts.heapSizes&flag != 0 {
		return 4
	}
	return 2
}

// row returns the raw bytes of a 1-based row.
func (ts *tableStream) row(t tableID, r uint32) []byte {
	l := &ts.tables[t]
	start := l.offset + int(r-1)*l.rowSize
	return ts.data[start : start+l.rowSize]
}

// cell reads column col of the 1-based row r.
func (ts *tableStream) cell(t tableID, r uint32, col int) uint32 {
	l := &ts.tables[t]
	start := l.offset + int(r-1)*l.rowSize + l.cols[col]
	if l.widths[col] == 2 {
		return uint32(le.Uint16(ts.data[start:]))
	}
	return le.Uint32(ts.data[start:])
}

func (ts *tableStream) presentCount() int {
	return bits.OnesCount64(ts.valid)
}
