package cil

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

const (
	maxNesting      = 64
	maxForwardDepth = 8
)

var errTypeNotFound = errors.New("type not found")

func (m *Module) ctorTypeName(t tableID, r uint32) (string, error) {
	ts := m.img.tables
	switch t {
	case tableMethodDef:
		owner := m.methodOwner[r-1]
		if owner == 0 {
			return "", formatErr("MethodDef", fmt.Errorf("constructor %d has no declaring type", r))
		}
		return m.typeDefs[owner-1].FullName, nil
	case tableMemberRef:
		pt, pr, ok := codedMemberRefParent.decode(ts.cell(tableMemberRef, r, 0))
		if !ok || pr == 0 || pr > ts.rows(pt) {
			return "", formatErr("MemberRef", fmt.Errorf("row %d has an invalid parent", r))
		}
		switch pt {
		case tableTypeDef, tableTypeRef, tableTypeSpec:
			return m.typeName(pt, pr, 0)
		}
		return "", fmt.Errorf("%w: attribute constructor parent in table 0x%02x", ErrUnsupported, pt)
	}
	return "", formatErr("CustomAttribute", fmt.Errorf("constructor in table 0x%02x", t))
}

// typeName names a TypeDef, TypeRef or TypeSpec row. TypeRefs are resolved
// through the module's resolver before their name is returned.
func (m *Module) typeName(t tableID, r uint32, depth int) (string, error) {
	if r == 0 || r > m.img.tables.rows(t) {
		return "", formatErr("type reference", fmt.Errorf("row %d outside table 0x%02x", r, t))
	}
	switch t {
	case tableTypeDef:
		return m.typeDefs[r-1].FullName, nil
	case tableTypeRef:
		if err := m.checkTypeRef(r); err != nil {
			return "", err
		}
		return m.typeRefName(r, 0)
	case tableTypeSpec:
		if depth > maxNesting {
			return "", formatErr("TypeSpec", fmt.Errorf("signature nesting too deep"))
		}
		sig, err := m.img.blob(m.img.tables.cell(tableTypeSpec, r, 0))
		if err != nil {
			return "", err
		}
		sr := &sigReader{m: m, b: sig, depth: depth + 1}
		return sr.typeName()
	}
	return "", formatErr("type reference", fmt.Errorf("table 0x%02x is not a type table", t))
}

func (m *Module) typeRefName(r uint32, depth int) (string, error) {
	ts := m.img.tables
	name := joinName(m.img.str(ts.cell(tableTypeRef, r, 2)), m.img.str(ts.cell(tableTypeRef, r, 1)))
	st, sr, ok := codedResolutionScope.decode(ts.cell(tableTypeRef, r, 0))
	if ok && st == tableTypeRef && sr != 0 && sr <= ts.rows(tableTypeRef) {
		if depth > maxNesting {
			return "", formatErr("TypeRef", fmt.Errorf("nesting cycle at %s", name))
		}
		outer, err := m.typeRefName(sr, depth+1)
		if err != nil {
			return "", err
		}
		return outer + "/" + name, nil
	}
	return name, nil
}

func (m *Module) checkTypeRef(r uint32) error {
	if err, ok := m.refChecked[r]; ok {
		return err
	}
	_, _, err := m.resolveTypeRef(r, 0)
	m.refChecked[r] = err
	return err
}

// resolveTypeRef locates the TypeDef a TypeRef points at. A nil module with a
// nil error means the reference is scoped to a ModuleRef and was accepted
// without inspection.
func (m *Module) resolveTypeRef(r uint32, depth int) (*Module, uint32, error) {
	ts := m.img.tables
	ns := m.img.str(ts.cell(tableTypeRef, r, 2))
	name := m.img.str(ts.cell(tableTypeRef, r, 1))
	if depth > maxNesting {
		return nil, 0, formatErr("TypeRef", fmt.Errorf("nesting cycle at %s", joinName(ns, name)))
	}

	st, sr, ok := codedResolutionScope.decode(ts.cell(tableTypeRef, r, 0))
	if !ok || (sr == 0 || sr > ts.rows(st)) && st != tableModule {
		return nil, 0, formatErr("TypeRef", fmt.Errorf("row %d has an invalid resolution scope", r))
	}

	switch st {
	case tableModule:
		return m.findTopLevel(ns, name, 0)
	case tableModuleRef:
		return nil, 0, nil
	case tableTypeRef:
		outer, outerRow, err := m.resolveTypeRef(sr, depth+1)
		if err != nil || outer == nil {
			return nil, 0, err
		}
		if row := outer.findNested(outerRow, ns, name); row != 0 {
			return outer, row, nil
		}
		full, _ := m.typeRefName(r, 0)
		return nil, 0, &ResolutionError{Type: full, Assembly: outer.displayName(), Err: errTypeNotFound}
	case tableAssemblyRef:
		ref := m.assemblyRef(sr)
		target, err := m.resolveAssembly(ref)
		if err != nil {
			return nil, 0, &ResolutionError{Type: joinName(ns, name), Assembly: ref.Name, Err: err}
		}
		return target.findTopLevel(ns, name, 1)
	}
	return nil, 0, formatErr("TypeRef", fmt.Errorf("row %d scoped to table 0x%02x", r, st))
}

func (m *Module) resolveAssembly(ref AssemblyName) (*Module, error) {
	if m.resolver == nil {
		return nil, fmt.Errorf("%w: no resolver configured", ErrAssemblyNotFound)
	}
	return m.resolver.Resolve(ref, m.Path)
}

// findTopLevel looks a type up in this module, following ExportedType
// forwarders into other assemblies.
func (m *Module) findTopLevel(ns, name string, depth int) (*Module, uint32, error) {
	if row, ok := m.topLevel[ns+"\x00"+name]; ok {
		return m, row, nil
	}
	if depth > maxForwardDepth {
		return nil, 0, &ResolutionError{Type: joinName(ns, name), Assembly: m.displayName(), Err: errors.New("forwarding chain too long")}
	}

	ts := m.img.tables
	for e := uint32(1); e <= ts.rows(tableExportedType); e++ {
		if m.img.str(ts.cell(tableExportedType, e, 2)) != name || m.img.str(ts.cell(tableExportedType, e, 3)) != ns {
			continue
		}
		it, ir, ok := codedImplementation.decode(ts.cell(tableExportedType, e, 4))
		if !ok || it != tableAssemblyRef || ir == 0 || ir > ts.rows(tableAssemblyRef) {
			continue
		}
		ref := m.assemblyRef(ir)
		target, err := m.resolveAssembly(ref)
		if err != nil {
			return nil, 0, &ResolutionError{Type: joinName(ns, name), Assembly: ref.Name, Err: err}
		}
		return target.findTopLevel(ns, name, depth+1)
	}
	return nil, 0, &ResolutionError{Type: joinName(ns, name), Assembly: m.displayName(), Err: errTypeNotFound}
}

func (m *Module) findNested(enclosing uint32, ns, name string) uint32 {
	for _, t := range m.typeDefs[enclosing-1].NestedTypes {
		if t.Name == name && t.Namespace == ns {
			return t.row
		}
	}
	return 0
}

func (m *Module) displayName() string {
	if asm, ok := m.Assembly(); ok {
		return asm.Name
	}
	return m.Name
}

// Element types used in TypeSpec signatures (II.23.1.16).
const (
	elemVoid        = 0x01
	elemPtr         = 0x0F
	elemByRef       = 0x10
	elemValueType   = 0x11
	elemClass       = 0x12
	elemVar         = 0x13
	elemArray       = 0x14
	elemGenericInst = 0x15
	elemSZArray     = 0x1D
	elemMVar        = 0x1E
)

var primitiveNames = map[byte]string{
	elemVoid: "System.Void",
	0x02:     "System.Boolean",
	0x03:     "System.Char",
	0x04:     "System.SByte",
	0x05:     "System.Byte",
	0x06:     "System.Int16",
	0x07:     "System.UInt16",
	0x08:     "System.Int32",
	0x09:     "System.UInt32",
	0x0A:     "System.Int64",
	0x0B:     "System.UInt64",
	0x0C:     "System.Single",
	0x0D:     "System.Double",
	0x0E:     "System.String",
	0x16:     "System.TypedReference",
	0x18:     "System.IntPtr",
	0x19:     "System.UIntPtr",
	0x1C:     "System.Object",
}

type sigReader struct {
	m     *Module
	b     []byte
	pos   int
	depth int
}

func (s *sigReader) readByte() (byte, error) {
	if s.pos >= len(s.b) {
		return 0, formatErr("signature", fmt.Errorf("truncated"))
	}
	c := s.b[s.pos]
	s.pos++
	return c, nil
}

func (s *sigReader) readUint() (uint32, error) {
	if s.pos >= len(s.b) {
		return 0, formatErr("signature", fmt.Errorf("truncated"))
	}
	v, n, err := uncompress(s.b[s.pos:])
	if err != nil {
		return 0, formatErr("signature", err)
	}
	s.pos += n
	return v, nil
}

func (s *sigReader) typeDefOrRef() (string, error) {
	v, err := s.readUint()
	if err != nil {
		return "", err
	}
	t, r, ok := codedTypeDefOrRef.decode(v)
	if !ok {
		return "", formatErr("signature", fmt.Errorf("bad type token 0x%x", v))
	}
	return s.m.typeName(t, r, s.depth)
}

// typeName renders a type signature the way type full names are matched:
// Ns.Generic`1<System.Int32>, Ns.Type[], !0.
func (s *sigReader) typeName() (string, error) {
	if s.depth > maxNesting {
		return "", formatErr("signature", fmt.Errorf("nesting too deep"))
	}
	et, err := s.readByte()
	if err != nil {
		return "", err
	}
	if name, ok := primitiveNames[et]; ok {
		return name, nil
	}
	switch et {
	case elemClass, elemValueType:
		return s.typeDefOrRef()
	case elemSZArray:
		inner, err := s.nested()
		if err != nil {
			return "", err
		}
		return inner + "[]", nil
	case elemPtr, elemByRef:
		inner, err := s.nested()
		if err != nil {
			return "", err
		}
		if et == elemPtr {
			return inner + "*", nil
		}
		return inner + "&", nil
	case elemVar, elemMVar:
		n, err := s.readUint()
		if err != nil {
			return "", err
		}
		prefix := "!"
		if et == elemMVar {
			prefix = "!!"
		}
		return prefix + strconv.Itoa(int(n)), nil
	case elemGenericInst:
		kind, err := s.readByte()
		if err != nil {
			return "", err
		}
		if kind != elemClass && kind != elemValueType {
			return "", formatErr("signature", fmt.Errorf("generic instance of element 0x%02x", kind))
		}
		base, err := s.typeDefOrRef()
		if err != nil {
			return "", err
		}
		count, err := s.readUint()
		if err != nil {
			return "", err
		}
		if int(count) > len(s.b) {
			return "", formatErr("signature", fmt.Errorf("generic argument count %d", count))
		}
		args := make([]string, 0, count)
		for i := uint32(0); i < count; i++ {
			arg, err := s.nested()
			if err != nil {
				return "", err
			}
			args = append(args, arg)
		}
		return base + "<" + strings.Join(args, ",") + ">", nil
	case elemArray:
		return "", fmt.Errorf("%w: multi-dimensional array in type signature", ErrUnsupported)
	}
	return "", fmt.Errorf("%w: element type 0x%02x in type signature", ErrUnsupported, et)
}

func (s *sigReader) nested() (string, error) {
	s.depth++
	defer func() { s.depth-- }()
	return s.typeName()
}
