package cil

import (
	"bytes"
	"fmt"
)

// Write serializes the module with every attribute that was removed from a
// Type or Member attribute list dropped from the CustomAttribute table.
//
// Only the #~ stream changes. It keeps its declared size and is zero-padded
// after the last table, so no other stream, section or RVA moves. The PE
// checksum is recomputed when the input carried one.
func (m *Module) Write() ([]byte, error) {
	keep, err := m.liveAttributes()
	if err != nil {
		return nil, err
	}

	stream, err := m.img.tables.rebuild(keep)
	if err != nil {
		return nil, err
	}
	if len(stream) > m.img.tablesSize {
		return nil, fmt.Errorf("rebuilt table stream grew from %d to %d bytes", m.img.tablesSize, len(stream))
	}

	out := bytes.Clone(m.img.data)
	dst := out[m.img.tablesOffset : m.img.tablesOffset+m.img.tablesSize]
	n := copy(dst, stream)
	clear(dst[n:])

	if m.img.checksum != 0 {
		if m.img.checksumOffset+4 > len(out) {
			return nil, formatErr("optional header", fmt.Errorf("checksum offset %d out of range", m.img.checksumOffset))
		}
		le.PutUint32(out[m.img.checksumOffset:], 0)
		le.PutUint32(out[m.img.checksumOffset:], peChecksum(out))
	}
	return out, nil
}

// liveAttributes marks which CustomAttribute rows survive. Attributes on
// owners outside the Type/Member view (parameters, assembly, module, ...)
// are always kept.
func (m *Module) liveAttributes() ([]bool, error) {
	ts := m.img.tables
	parent := func(row uint32) token {
		pt, prow, _ := codedHasCustomAttribute.decode(ts.cell(tableCustomAttribute, row, 0))
		return tok(pt, prow)
	}

	keep := make([]bool, len(m.attributes))
	for r := uint32(1); r <= uint32(len(m.attributes)); r++ {
		_, owned := m.owners[parent(r)]
		keep[r-1] = !owned
	}
	for owner, list := range m.owners {
		for _, a := range *list {
			if a.module != m {
				return nil, fmt.Errorf("attribute row %d belongs to another module", a.row)
			}
			if parent(a.row) != owner {
				return nil, fmt.Errorf("attribute row %d was moved to a different owner", a.row)
			}
			keep[a.row-1] = true
		}
	}
	return keep, nil
}

// rebuild re-emits the table stream with only the kept CustomAttribute rows.
func (ts *tableStream) rebuild(keep []bool) ([]byte, error) {
	ca := &ts.tables[tableCustomAttribute]
	if len(keep) != int(ca.rows) {
		return nil, fmt.Errorf("attribute mask has %d entries for %d rows", len(keep), ca.rows)
	}
	var kept uint32
	for _, k := range keep {
		if k {
			kept++
		}
	}

	valid, sorted := ts.valid, ts.sorted
	if kept == 0 {
		valid &^= 1 << tableCustomAttribute
		sorted &^= 1 << tableCustomAttribute
	}

	var buf bytes.Buffer
	buf.Grow(len(ts.data))
	buf.Write(ts.data[:8])
	var word [8]byte
	le.PutUint64(word[:], valid)
	buf.Write(word[:])
	le.PutUint64(word[:], sorted)
	buf.Write(word[:])

	for t := tableID(0); t < numTables; t++ {
		if valid&(1<<t) == 0 {
			continue
		}
		rows := ts.tables[t].rows
		if t == tableCustomAttribute {
			rows = kept
		}
		le.PutUint32(word[:4], rows)
		buf.Write(word[:4])
	}
	if ts.heapSizes&heapExtraData != 0 {
		pos := tableHeaderSize + 4*ts.presentCount()
		buf.Write(ts.data[pos : pos+4])
	}

	for t := tableID(0); t < numTables; t++ {
		if !ts.has(t) {
			continue
		}
		if t != tableCustomAttribute {
			l := &ts.tables[t]
			buf.Write(ts.data[l.offset : l.offset+int(l.rows)*l.rowSize])
			continue
		}
		for r := uint32(1); r <= ca.rows; r++ {
			if keep[r-1] {
				buf.Write(ts.row(tableCustomAttribute, r))
			}
		}
	}
	return buf.Bytes(), nil
}

// peChecksum computes the PE image checksum; the checksum field itself must
// already be zeroed.
func peChecksum(data []byte) uint32 {
	var sum uint64
	n := len(data)
	for i := 0; i+1 < n; i += 2 {
		sum += uint64(le.Uint16(data[i:]))
		sum = (sum & 0xFFFF) + (sum >> 16)
	}
	if n%2 == 1 {
		sum += uint64(data[n-1])
		sum = (sum & 0xFFFF) + (sum >> 16)
	}
	sum = (sum & 0xFFFF) + (sum >> 16)
	return uint32(sum) + uint32(n)
}
