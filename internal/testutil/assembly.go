package testutil

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"sort"
)

var le = binary.LittleEndian

// AssemblyRef is a row in the AssemblyRef table of the assembly being built.
type AssemblyRef uint32

// TypeRef is a row in the TypeRef table of the assembly being built.
type TypeRef uint32

// Ctor is an attribute constructor: a MemberRef, or a .ctor method declared
// on a type of the same assembly.
type Ctor struct {
	memberRef uint32
	method    *memberEntry
}

type memberEntry struct {
	name  string
	attrs []Ctor
	row   uint32
}

// TypeBuilder adds members and attributes to one TypeDef.
type TypeBuilder struct {
	b          *AssemblyBuilder
	ns, name   string
	enclosing  *TypeBuilder
	attrs      []Ctor
	fields     []*memberEntry
	methods    []*memberEntry
	properties []*memberEntry

	row                            uint32
	fieldList, methodList, propList uint32
}

// AssemblyBuilder produces small but well-formed CLI PE images for tests.
//
//	b := testutil.NewAssembly("Game")
//	unity := b.AssemblyRef("UnityEngine")
//	serialize := b.Ctor(b.TypeRef(unity, "UnityEngine", "SerializeField"))
//	b.Type("Game", "Player").Field("hp", serialize)
//	data := b.Bytes()
type AssemblyBuilder struct {
	name       string
	checksum   bool
	strongName bool
	machine    uint16

	strings *stringHeap
	blobs   *blobHeap

	assemblyRefs  []uint32
	typeRefs      [][3]uint32
	memberRefs    [][3]uint32
	typeSpecs     []uint32
	exported      [][5]uint32
	types         []*TypeBuilder
	assemblyAttrs []Ctor
}

// NewAssembly starts an assembly named name whose module is name + ".dll".
// The <Module> type is created first, as compilers do.
func NewAssembly(name string) *AssemblyBuilder {
	b := &AssemblyBuilder{
		name:    name,
		strings: newStringHeap(),
		blobs:   newBlobHeap(),
		machine: 0x014C,
	}
	b.Type("", "<Module>")
	return b
}

// WithChecksum makes Bytes fill in the PE optional header checksum.
func (b *AssemblyBuilder) WithChecksum() *AssemblyBuilder {
	b.checksum = true
	return b
}

// WithMachine sets the COFF Machine field, e.g. a ReadyToRun value XORed
// with an OS tag.
func (b *AssemblyBuilder) WithMachine(machine uint16) *AssemblyBuilder {
	b.machine = machine
	return b
}

// StrongNamed sets the strong-name-signed flag in the CLI header.
func (b *AssemblyBuilder) StrongNamed() *AssemblyBuilder {
	b.strongName = true
	return b
}

// AssemblyRef adds a reference to another assembly.
func (b *AssemblyBuilder) AssemblyRef(name string) AssemblyRef {
	b.assemblyRefs = append(b.assemblyRefs, b.strings.add(name))
	return AssemblyRef(len(b.assemblyRefs))
}

// TypeRef adds a reference to a type defined in another assembly.
func (b *AssemblyBuilder) TypeRef(scope AssemblyRef, ns, name string) TypeRef {
	return b.typeRef(uint32(scope)<<2|2, ns, name)
}

// NestedTypeRef adds a reference to a type nested in outer.
func (b *AssemblyBuilder) NestedTypeRef(outer TypeRef, name string) TypeRef {
	return b.NestedTypeRefNS(outer, "", name)
}

// NestedTypeRefNS is NestedTypeRef for a nested type with its own namespace.
func (b *AssemblyBuilder) NestedTypeRefNS(outer TypeRef, ns, name string) TypeRef {
	return b.typeRef(uint32(outer)<<2|3, ns, name)
}

// LocalTypeRef adds a reference scoped to this module.
func (b *AssemblyBuilder) LocalTypeRef(ns, name string) TypeRef {
	return b.typeRef(1<<2|0, ns, name)
}

func (b *AssemblyBuilder) typeRef(scope uint32, ns, name string) TypeRef {
	b.typeRefs = append(b.typeRefs, [3]uint32{scope, b.strings.add(name), b.strings.add(ns)})
	return TypeRef(len(b.typeRefs))
}

// Ctor adds a MemberRef to the parameterless constructor of t.
func (b *AssemblyBuilder) Ctor(t TypeRef) Ctor {
	return b.memberRef(uint32(t)<<3|1, ".ctor")
}

// GenericCtor adds a constructor MemberRef on a generic instantiation of t.
// args are primitive element types, e.g. 0x08 for System.Int32.
func (b *AssemblyBuilder) GenericCtor(t TypeRef, args ...byte) Ctor {
	sig := []byte{0x15, 0x12}
	sig = append(sig, compress(uint32(t)<<2|1)...)
	sig = append(sig, compress(uint32(len(args)))...)
	sig = append(sig, args...)
	b.typeSpecs = append(b.typeSpecs, b.blobs.add(sig))
	return b.memberRef(uint32(len(b.typeSpecs))<<3|4, ".ctor")
}

func (b *AssemblyBuilder) memberRef(parent uint32, name string) Ctor {
	b.memberRefs = append(b.memberRefs, [3]uint32{parent, b.strings.add(name), b.blobs.add([]byte{0x20, 0x00, 0x01})})
	return Ctor{memberRef: uint32(len(b.memberRefs))}
}

// Forward adds an ExportedType row forwarding ns.name to another assembly.
func (b *AssemblyBuilder) Forward(ns, name string, to AssemblyRef) {
	b.exported = append(b.exported, [5]uint32{0x00200000, 0, b.strings.add(name), b.strings.add(ns), uint32(to)<<2 | 1})
}

// AssemblyAttr attaches attributes to the assembly manifest.
func (b *AssemblyBuilder) AssemblyAttr(ctors ...Ctor) {
	b.assemblyAttrs = append(b.assemblyAttrs, ctors...)
}

// Type adds a top-level TypeDef.
func (b *AssemblyBuilder) Type(ns, name string) *TypeBuilder {
	tb := &TypeBuilder{b: b, ns: ns, name: name}
	b.types = append(b.types, tb)
	return tb
}

// Nested adds a TypeDef nested in t.
func (t *TypeBuilder) Nested(name string) *TypeBuilder {
	return t.NestedNS("", name)
}

// NestedNS adds a nested TypeDef that carries its own namespace.
func (t *TypeBuilder) NestedNS(ns, name string) *TypeBuilder {
	nt := t.b.Type(ns, name)
	nt.enclosing = t
	return nt
}

// Attr attaches attributes to the type itself.
func (t *TypeBuilder) Attr(ctors ...Ctor) *TypeBuilder {
	t.attrs = append(t.attrs, ctors...)
	return t
}

// Field adds a field carrying the given attributes.
func (t *TypeBuilder) Field(name string, ctors ...Ctor) *TypeBuilder {
	t.fields = append(t.fields, &memberEntry{name: name, attrs: ctors})
	return t
}

// Method adds a method carrying the given attributes.
func (t *TypeBuilder) Method(name string, ctors ...Ctor) *TypeBuilder {
	t.methods = append(t.methods, &memberEntry{name: name, attrs: ctors})
	return t
}

// Property adds a property carrying the given attributes.
func (t *TypeBuilder) Property(name string, ctors ...Ctor) *TypeBuilder {
	t.properties = append(t.properties, &memberEntry{name: name, attrs: ctors})
	return t
}

// Ctor declares a .ctor on t, making t usable as a local attribute type.
func (t *TypeBuilder) Ctor() Ctor {
	m := &memberEntry{name: ".ctor"}
	t.methods = append(t.methods, m)
	return Ctor{method: m}
}

type caRow struct {
	parent uint32
	ctor   uint32
}

// Bytes lays out the metadata and wraps it in a single-section PE32 image.
func (b *AssemblyBuilder) Bytes() []byte {
	var fieldRow, methodRow, propRow uint32 = 1, 1, 1
	for i, t := range b.types {
		t.row = uint32(i + 1)
		t.fieldList, t.methodList, t.propList = fieldRow, methodRow, propRow
		for _, f := range t.fields {
			f.row = fieldRow
			fieldRow++
		}
		for _, m := range t.methods {
			m.row = methodRow
			methodRow++
		}
		for _, p := range t.properties {
			p.row = propRow
			propRow++
		}
	}

	var attrs []caRow
	add := func(parent uint32, ctors []Ctor) {
		for _, c := range ctors {
			attrs = append(attrs, caRow{parent: parent, ctor: ctorCoded(c)})
		}
	}
	for _, t := range b.types {
		add(t.row<<5|3, t.attrs)
		for _, f := range t.fields {
			add(f.row<<5|1, f.attrs)
		}
		for _, m := range t.methods {
			add(m.row<<5|0, m.attrs)
		}
		for _, p := range t.properties {
			add(p.row<<5|9, p.attrs)
		}
	}
	add(1<<5|14, b.assemblyAttrs)
	sort.SliceStable(attrs, func(i, j int) bool { return attrs[i].parent < attrs[j].parent })

	tables := map[int]*table{}
	tbl := func(id int) *table {
		if tables[id] == nil {
			tables[id] = &table{}
		}
		return tables[id]
	}

	mod := tbl(0x00)
	mod.row(u16(0), u16(b.strings.add(b.name+".dll")), u16(1), u16(0), u16(0))

	for _, r := range b.typeRefs {
		tbl(0x01).row(u16(r[0]), u16(r[1]), u16(r[2]))
	}
	for _, t := range b.types {
		flags := uint32(0x00100001)
		if t.row == 1 {
			flags = 0
		}
		tbl(0x02).row(u32(flags), u16(b.strings.add(t.name)), u16(b.strings.add(t.ns)), u16(0), u16(t.fieldList), u16(t.methodList))
	}
	fieldSig := b.blobs.add([]byte{0x06, 0x08})
	methodSig := b.blobs.add([]byte{0x20, 0x00, 0x01})
	propSig := b.blobs.add([]byte{0x28, 0x00, 0x08})
	attrValue := b.blobs.add([]byte{0x01, 0x00, 0x00, 0x00})
	for _, t := range b.types {
		for _, f := range t.fields {
			tbl(0x04).row(u16(0x0006), u16(b.strings.add(f.name)), u16(fieldSig))
		}
	}
	for _, t := range b.types {
		for _, m := range t.methods {
			tbl(0x06).row(u32(0), u16(0), u16(0x0006), u16(b.strings.add(m.name)), u16(methodSig), u16(1))
		}
	}
	for _, r := range b.memberRefs {
		tbl(0x0A).row(u16(r[0]), u16(r[1]), u16(r[2]))
	}
	for _, a := range attrs {
		tbl(0x0C).row(u16(a.parent), u16(a.ctor), u16(attrValue))
	}
	for _, t := range b.types {
		if len(t.properties) == 0 {
			continue
		}
		tbl(0x15).row(u16(t.row), u16(t.propList))
		for _, p := range t.properties {
			tbl(0x17).row(u16(0), u16(b.strings.add(p.name)), u16(propSig))
		}
	}
	for _, sig := range b.typeSpecs {
		tbl(0x1B).row(u16(sig))
	}
	tbl(0x20).row(u32(0x8004), u16(1), u16(0), u16(0), u16(0), u32(0), u16(0), u16(b.strings.add(b.name)), u16(0))
	for _, name := range b.assemblyRefs {
		tbl(0x23).row(u16(1), u16(0), u16(0), u16(0), u32(0), u16(0), u16(name), u16(0), u16(0))
	}
	for _, e := range b.exported {
		tbl(0x27).row(u32(e[0]), u32(e[1]), u16(e[2]), u16(e[3]), u16(e[4]))
	}
	for _, t := range b.types {
		if t.enclosing != nil {
			tbl(0x29).row(u16(t.row), u16(t.enclosing.row))
		}
	}

	return b.image(b.metadata(tables))
}

func ctorCoded(c Ctor) uint32 {
	if c.method != nil {
		return c.method.row<<3 | 2
	}
	return c.memberRef<<3 | 3
}

type table struct {
	rows int
	buf  bytes.Buffer
}

func (t *table) row(cells ...[]byte) {
	if t.rows >= 2000 {
		panic("testutil: table too large for 2-byte indexes")
	}
	for _, c := range cells {
		t.buf.Write(c)
	}
	t.rows++
}

func u16(v uint32) []byte {
	if v > 0xFFFF {
		panic(fmt.Sprintf("testutil: value %d does not fit a 2-byte column", v))
	}
	return le.AppendUint16(nil, uint16(v))
}

func u32(v uint32) []byte { return le.AppendUint32(nil, v) }

func (b *AssemblyBuilder) metadata(tables map[int]*table) []byte {
	var valid uint64
	for id, t := range tables {
		if t.rows > 0 {
			valid |= 1 << id
		}
	}

	var ts bytes.Buffer
	ts.Write(u32(0))
	ts.Write([]byte{2, 0, 0, 1})
	ts.Write(le.AppendUint64(nil, valid))
	ts.Write(le.AppendUint64(nil, 0x000016003325FA00))
	for id := 0; id < 64; id++ {
		if valid&(1<<id) != 0 {
			ts.Write(u32(uint32(tables[id].rows)))
		}
	}
	for id := 0; id < 64; id++ {
		if valid&(1<<id) != 0 {
			ts.Write(tables[id].buf.Bytes())
		}
	}

	guids := make([]byte, 16)
	for i := range guids {
		guids[i] = byte(i + 1)
	}

	streams := []struct {
		name string
		data []byte
	}{
		{"#~", pad4(ts.Bytes())},
		{"#Strings", pad4(b.strings.buf.Bytes())},
		{"#US", []byte{0, 0, 0, 0}},
		{"#GUID", guids},
		{"#Blob", pad4(b.blobs.buf.Bytes())},
	}

	version := pad4([]byte("v4.0.30319\x00"))
	headerSize := 16 + len(version) + 4
	for _, s := range streams {
		headerSize += 8 + len(pad4(append([]byte(s.name), 0)))
	}

	var md bytes.Buffer
	md.Write(u32(0x424A5342))
	md.Write(u16(1))
	md.Write(u16(1))
	md.Write(u32(0))
	md.Write(u32(uint32(len(version))))
	md.Write(version)
	md.Write(u16(0))
	md.Write(u16(uint32(len(streams))))
	offset := headerSize
	for _, s := range streams {
		md.Write(u32(uint32(offset)))
		md.Write(u32(uint32(len(s.data))))
		md.Write(pad4(append([]byte(s.name), 0)))
		offset += len(s.data)
	}
	for _, s := range streams {
		md.Write(s.data)
	}
	return md.Bytes()
}

const (
	peHeaderOffset = 0x80
	fileAlignment  = 0x200
	sectionRVA     = 0x2000
	cliHeaderSize  = 72
)

func (b *AssemblyBuilder) image(md []byte) []byte {
	var text bytes.Buffer
	cliFlags := uint32(0x01)
	if b.strongName {
		cliFlags |= 0x08
	}
	text.Write(u32(cliHeaderSize))
	text.Write(u16(2))
	text.Write(u16(5))
	text.Write(u32(sectionRVA + cliHeaderSize))
	text.Write(u32(uint32(len(md))))
	text.Write(u32(cliFlags))
	text.Write(make([]byte, cliHeaderSize-20))
	text.Write(md)

	virtualSize := uint32(text.Len())
	rawSize := align(virtualSize, fileAlignment)
	out := make([]byte, fileAlignment+int(rawSize))

	out[0], out[1] = 'M', 'Z'
	le.PutUint32(out[0x3C:], peHeaderOffset)
	copy(out[peHeaderOffset:], "PE\x00\x00")

	coff := out[peHeaderOffset+4:]
	le.PutUint16(coff[0:], b.machine)
	le.PutUint16(coff[2:], 1)
	le.PutUint16(coff[16:], 224)
	le.PutUint16(coff[18:], 0x2102)

	opt := out[peHeaderOffset+24:]
	le.PutUint16(opt[0:], 0x010B)
	opt[2] = 8
	le.PutUint32(opt[4:], rawSize)
	le.PutUint32(opt[20:], sectionRVA)
	le.PutUint32(opt[28:], 0x10000000)
	le.PutUint32(opt[32:], 0x2000)
	le.PutUint32(opt[36:], fileAlignment)
	le.PutUint16(opt[40:], 4)
	le.PutUint16(opt[48:], 4)
	le.PutUint32(opt[56:], sectionRVA+align(virtualSize, 0x2000))
	le.PutUint32(opt[60:], fileAlignment)
	le.PutUint16(opt[68:], 3)
	le.PutUint16(opt[70:], 0x8540)
	le.PutUint32(opt[72:], 0x100000)
	le.PutUint32(opt[76:], 0x1000)
	le.PutUint32(opt[80:], 0x100000)
	le.PutUint32(opt[84:], 0x1000)
	le.PutUint32(opt[92:], 16)
	le.PutUint32(opt[96+14*8:], sectionRVA)
	le.PutUint32(opt[96+14*8+4:], cliHeaderSize)

	sec := out[peHeaderOffset+24+224:]
	copy(sec[0:8], ".text")
	le.PutUint32(sec[8:], virtualSize)
	le.PutUint32(sec[12:], sectionRVA)
	le.PutUint32(sec[16:], rawSize)
	le.PutUint32(sec[20:], fileAlignment)
	le.PutUint32(sec[36:], 0x60000020)

	copy(out[fileAlignment:], text.Bytes())

	if b.checksum {
		le.PutUint32(out[ChecksumOffset(out):], PEChecksum(out))
	}
	return out
}

// ChecksumOffset returns the file offset of the PE optional header checksum.
func ChecksumOffset(image []byte) int {
	return int(le.Uint32(image[0x3C:])) + 4 + 20 + 64
}

// PEChecksum computes the PE checksum of image, treating the checksum field as zero.
func PEChecksum(image []byte) uint32 {
	data := bytes.Clone(image)
	off := ChecksumOffset(data)
	le.PutUint32(data[off:], 0)

	var sum uint64
	for i := 0; i+1 < len(data); i += 2 {
		sum += uint64(le.Uint16(data[i:]))
		sum = (sum & 0xFFFF) + (sum >> 16)
	}
	if len(data)%2 == 1 {
		sum += uint64(data[len(data)-1])
		sum = (sum & 0xFFFF) + (sum >> 16)
	}
	sum = (sum & 0xFFFF) + (sum >> 16)
	return uint32(sum) + uint32(len(data))
}

func align(v, to uint32) uint32 {
	return (v + to - 1) &^ (to - 1)
}

func pad4(b []byte) []byte {
	for len(b)%4 != 0 {
		b = append(b, 0)
	}
	return b
}

func compress(v uint32) []byte {
	switch {
	case v < 0x80:
		return []byte{byte(v)}
	case v < 0x4000:
		return []byte{byte(v>>8) | 0x80, byte(v)}
	default:
		return []byte{byte(v>>24) | 0xC0, byte(v >> 16), byte(v >> 8), byte(v)}
	}
}

type stringHeap struct {
	buf   bytes.Buffer
	index map[string]uint32
}

func newStringHeap() *stringHeap {
	h := &stringHeap{index: map[string]uint32{"": 0}}
	h.buf.WriteByte(0)
	return h
}

func (h *stringHeap) add(s string) uint32 {
	if off, ok := h.index[s]; ok {
		return off
	}
	off := uint32(h.buf.Len())
	h.buf.WriteString(s)
	h.buf.WriteByte(0)
	h.index[s] = off
	return off
}

type blobHeap struct {
	buf bytes.Buffer
}

func newBlobHeap() *blobHeap {
	h := &blobHeap{}
	h.buf.WriteByte(0)
	return h
}

func (h *blobHeap) add(b []byte) uint32 {
	off := uint32(h.buf.Len())
	h.buf.Write(compress(uint32(len(b))))
	h.buf.Write(b)
	return off
}
