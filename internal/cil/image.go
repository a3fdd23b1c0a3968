package cil

import (
	"bytes"
	"debug/pe"
	"encoding/binary"
	"fmt"
	"io"
	"slices"
)

const (
	metadataSignature = 0x424A5342 // "BSJB"

	// clrDirectory is the index of the CLI header in the optional header data directories.
	clrDirectory = 14

	cliFlagStrongNameSigned = 0x08

	heapBigStrings = 0x01
	heapBigGUID    = 0x02
	heapBigBlob    = 0x04
	heapExtraData  = 0x40
)

var le = binary.LittleEndian

// image is the raw view of a CLI PE file: where the metadata streams live and
// how the table stream is laid out.
type image struct {
	data []byte

	cliFlags       uint32
	checksumOffset int
	checksum       uint32

	strings []byte
	blobs   []byte

	tablesOffset int // file offset of the #~ stream
	tablesSize   int
	tables       *tableStream
}

type streamHeader struct {
	offset uint32
	size   uint32
	name   string
}

// readyToRunOS are the values ReadyToRun images built for a non-Windows
// target XOR into the COFF Machine field.
var readyToRunOS = []uint16{
	0x4644, // Apple
	0xADC4, // FreeBSD
	0x7B79, // Linux
	0x1993, // NetBSD
	0x1992, // SunOS
}

var nativeMachines = []uint16{
	pe.IMAGE_FILE_MACHINE_I386,
	pe.IMAGE_FILE_MACHINE_AMD64,
	pe.IMAGE_FILE_MACHINE_ARMNT,
	pe.IMAGE_FILE_MACHINE_ARM64,
}

// nativeMachine returns the machine a COFF Machine value stands for, undoing
// the ReadyToRun OS tag. ok is false when the value is neither native nor a
// tagged native machine.
func nativeMachine(machine uint16) (native uint16, tagged bool, ok bool) {
	if slices.Contains(nativeMachines, machine) {
		return machine, false, true
	}
	for _, tag := range readyToRunOS {
		if m := machine ^ tag; slices.Contains(nativeMachines, m) {
			return m, true, true
		}
	}
	return 0, false, false
}

// machineReader presents data with the COFF Machine field replaced, so that
// debug/pe accepts ReadyToRun images tagged for a non-Windows OS.
type machineReader struct {
	data    []byte
	off     int64
	machine [2]byte
}

func (r *machineReader) ReadAt(p []byte, off int64) (int, error) {
	n, err := bytes.NewReader(r.data).ReadAt(p, off)
	for i := range r.machine {
		if pos := r.off + int64(i) - off; pos >= 0 && pos < int64(n) {
			p[pos] = r.machine[i]
		}
	}
	return n, err
}

// peReader returns the reader debug/pe should parse data from.
func peReader(data []byte) io.ReaderAt {
	if len(data) < 0x40 {
		return bytes.NewReader(data)
	}
	off := int64(le.Uint32(data[0x3C:])) + 4
	if off+2 > int64(len(data)) {
		return bytes.NewReader(data)
	}
	native, tagged, ok := nativeMachine(le.Uint16(data[off:]))
	if !ok || !tagged {
		return bytes.NewReader(data)
	}
	r := &machineReader{data: data, off: off}
	le.PutUint16(r.machine[:], native)
	return r
}

func parseImage(data []byte) (*image, error) {
	f, err := pe.NewFile(peReader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNotCLI, err)
	}
	defer f.Close()

	var dirs []pe.DataDirectory
	var checksum uint32
	switch oh := f.OptionalHeader.(type) {
	case *pe.OptionalHeader32:
		dirs = oh.DataDirectory[:min(int(oh.NumberOfRvaAndSizes), len(oh.DataDirectory))]
		checksum = oh.CheckSum
	case *pe.OptionalHeader64:
		dirs = oh.DataDirectory[:min(int(oh.NumberOfRvaAndSizes), len(oh.DataDirectory))]
		checksum = oh.CheckSum
	default:
		return nil, fmt.Errorf("%w: missing optional header", ErrNotCLI)
	}
	if len(dirs) <= clrDirectory || dirs[clrDirectory].VirtualAddress == 0 {
		return nil, fmt.Errorf("%w: no CLI header", ErrNotCLI)
	}

	img := &image{data: data, checksum: checksum}

	// e_lfanew + PE signature + COFF header + offset of CheckSum in the optional header.
	img.checksumOffset = int(le.Uint32(data[0x3C:])) + 4 + 20 + 64

	cliOff, err := rvaToOffset(f, dirs[clrDirectory].VirtualAddress)
	if err != nil {
		return nil, err
	}
	cli, err := slice(data, cliOff, 72)
	if err != nil {
		return nil, formatErr("CLI header", err)
	}
	img.cliFlags = le.Uint32(cli[16:])

	mdOff, err := rvaToOffset(f, le.Uint32(cli[8:]))
	if err != nil {
		return nil, err
	}
	mdSize := int(le.Uint32(cli[12:]))
	md, err := slice(data, mdOff, mdSize)
	if err != nil {
		return nil, formatErr("metadata root", err)
	}

	streams, err := parseStreamHeaders(md)
	if err != nil {
		return nil, err
	}

	for _, sh := range streams {
		body, err := slice(md, int(sh.offset), int(sh.size))
		if err != nil {
			return nil, formatErr("stream "+sh.name, err)
		}
		switch sh.name {
		case "#~":
			img.tablesOffset = mdOff + int(sh.offset)
			img.tablesSize = int(sh.size)
		case "#-":
			return nil, fmt.Errorf("%w: uncompressed metadata tables (#-)", ErrUnsupported)
		case "#Strings":
			img.strings = body
		case "#Blob":
			img.blobs = body
		}
	}
	if img.tablesSize == 0 {
		return nil, formatErr("metadata", fmt.Errorf("no #~ stream"))
	}

	img.tables, err = parseTableStream(data[img.tablesOffset : img.tablesOffset+img.tablesSize])
	if err != nil {
		return nil, err
	}
	return img, nil
}

func parseStreamHeaders(md []byte) ([]streamHeader, error) {
	if len(md) < 16 || le.Uint32(md) != metadataSignature {
		return nil, fmt.Errorf("%w: bad metadata signature", ErrNotCLI)
	}
	versionLen := int(le.Uint32(md[12:]))
	pos := 16 + versionLen
	if pos+4 > len(md) {
		return nil, formatErr("metadata root", fmt.Errorf("version string overruns root"))
	}
	count := int(le.Uint16(md[pos+2:]))
	pos += 4

	streams := make([]streamHeader, 0, count)
	for i := 0; i < count; i++ {
		if pos+8 > len(md) {
			return nil, formatErr("stream headers", fmt.Errorf("header %d truncated", i))
		}
		sh := streamHeader{offset: le.Uint32(md[pos:]), size: le.Uint32(md[pos+4:])}
		pos += 8
		end := bytes.IndexByte(md[pos:], 0)
		if end < 0 || end > 32 {
			return nil, formatErr("stream headers", fmt.Errorf("header %d has no name", i))
		}
		sh.name = string(md[pos : pos+end])
		pos += (end + 4) &^ 3
		streams = append(streams, sh)
	}
	return streams, nil
}

func rvaToOffset(f *pe.File, rva uint32) (int, error) {
	for _, s := range f.Sections {
		size := s.VirtualSize
		if size == 0 {
			size = s.Size
		}
		if rva >= s.VirtualAddress && rva < s.VirtualAddress+size {
			return int(rva - s.VirtualAddress + s.Offset), nil
		}
	}
	return 0, formatErr("rva", fmt.Errorf("0x%x is not mapped by any section", rva))
}

func slice(b []byte, off, n int) ([]byte, error) {
	if off < 0 || n < 0 || off+n > len(b) {
		return nil, fmt.Errorf("range [%d,%d) outside %d bytes", off, off+n, len(b))
	}
	return b[off : off+n], nil
}

// str reads a NUL-terminated UTF-8 string from the #Strings heap.
func (img *image) str(off uint32) string {
	if int(off) >= len(img.strings) {
		return ""
	}
	s := img.strings[off:]
	if end := bytes.IndexByte(s, 0); end >= 0 {
		s = s[:end]
	}
	return string(s)
}

// blob returns the contents of a #Blob heap entry.
func (img *image) blob(off uint32) ([]byte, error) {
	if int(off) >= len(img.blobs) {
		return nil, formatErr("blob heap", fmt.Errorf("offset %d out of range", off))
	}
	n, used, err := uncompress(img.blobs[off:])
	if err != nil {
		return nil, formatErr("blob heap", err)
	}
	start := int(off) + used
	return slice(img.blobs, start, int(n))
}

// uncompress decodes an ECMA-335 compressed unsigned integer (II.23.2).
func uncompress(b []byte) (uint32, int, error) {
	if len(b) == 0 {
		return 0, 0, fmt.Errorf("empty compressed integer")
	}
	switch {
	case b[0]&0x80 == 0:
		return uint32(b[0]), 1, nil
	case b[0]&0xC0 == 0x80:
		if len(b) < 2 {
			return 0, 0, fmt.Errorf("truncated compressed integer")
		}
		return uint32(b[0]&0x3F)<<8 | uint32(b[1]), 2, nil
	case b[0]&0xE0 == 0xC0:
		if len(b) < 4 {
			return 0, 0, fmt.Errorf("truncated compressed integer")
		}
		return uint32(b[0]&0x1F)<<24 | uint32(b[1])<<16 | uint32(b[2])<<8 | uint32(b[3]), 4, nil
	}
	return 0, 0, fmt.Errorf("invalid compressed integer prefix 0x%02x", b[0])
}
