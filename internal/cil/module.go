package cil

import (
	"fmt"
	"strings"
)

// AssemblyName identifies an assembly by simple name, version and culture.
type AssemblyName struct {
	Name    string
	Version [4]uint16
	Culture string
}

func (n AssemblyName) String() string {
	culture := n.Culture
	if culture == "" {
		culture = "neutral"
	}
	return fmt.Sprintf("%s, Version=%d.%d.%d.%d, Culture=%s",
		n.Name, n.Version[0], n.Version[1], n.Version[2], n.Version[3], culture)
}

// AssemblyResolver locates referenced assemblies while attribute types are
// being resolved. requester is the path of the module holding the reference
// and may be empty for in-memory modules.
type AssemblyResolver interface {
	Resolve(ref AssemblyName, requester string) (*Module, error)
}

// LoadOption configures Load.
type LoadOption func(*Module)

// WithResolver sets the resolver used for cross-assembly type references.
func WithResolver(r AssemblyResolver) LoadOption {
	return func(m *Module) { m.resolver = r }
}

// WithPath records where the module was read from.
func WithPath(path string) LoadOption {
	return func(m *Module) { m.Path = path }
}

// MemberKind distinguishes the member collections of a Type.
type MemberKind uint8

const (
	FieldMember MemberKind = iota
	PropertyMember
	MethodMember
)

func (k MemberKind) String() string {
	switch k {
	case FieldMember:
		return "field"
	case PropertyMember:
		return "property"
	case MethodMember:
		return "method"
	}
	return "unknown"
}

// Member is a field, property or method of a Type.
type Member struct {
	Name       string
	Kind       MemberKind
	Attributes []*Attribute
}

// Type is a TypeDef with its members and nested types.
type Type struct {
	Namespace   string
	Name        string
	FullName    string
	Attributes  []*Attribute
	Fields      []*Member
	Properties  []*Member
	Methods     []*Member
	NestedTypes []*Type

	row       uint32
	enclosing uint32
}

// Attribute is one custom attribute attached to a Type or Member.
type Attribute struct {
	module    *Module
	row       uint32
	ctorTable tableID
	ctorRow   uint32

	resolved bool
	name     string
	err      error
}

// Row is the attribute's 1-based row in the CustomAttribute table.
func (a *Attribute) Row() uint32 { return a.row }

// TypeName returns the full name of the type declaring the attribute
// constructor, resolving cross-assembly references on first use.
func (a *Attribute) TypeName() (string, error) {
	if !a.resolved {
		a.name, a.err = a.module.ctorTypeName(a.ctorTable, a.ctorRow)
		a.resolved = true
	}
	return a.name, a.err
}

// Module is a loaded CLI module. Types holds the top-level types in table
// order, starting with <Module>. A Module is not safe for concurrent mutation.
type Module struct {
	// Name is the module name from the Module table (e.g. "Game.dll").
	Name  string
	Path  string
	Types []*Type

	img      *image
	resolver AssemblyResolver

	typeDefs    []*Type
	methodOwner []uint32
	attributes  []*Attribute
	owners      map[token]*[]*Attribute
	topLevel    map[string]uint32
	refChecked  map[uint32]error
}

type token uint32

func tok(t tableID, row uint32) token {
	return token(uint32(t)<<24 | row)
}

// Load parses a CLI PE image. data must not be modified while the module is in use.
func Load(data []byte, opts ...LoadOption) (*Module, error) {
	img, err := parseImage(data)
	if err != nil {
		return nil, err
	}
	m := &Module{
		img:        img,
		owners:     make(map[token]*[]*Attribute),
		topLevel:   make(map[string]uint32),
		refChecked: make(map[uint32]error),
	}
	for _, opt := range opts {
		opt(m)
	}

	ts := img.tables
	if ts.rows(tableModule) > 0 {
		m.Name = img.str(ts.cell(tableModule, 1, 1))
	}
	if err := m.buildTypes(); err != nil {
		return nil, err
	}
	if err := m.buildAttributes(); err != nil {
		return nil, err
	}
	return m, nil
}

func (m *Module) buildTypes() error {
	ts := m.img.tables
	n := ts.rows(tableTypeDef)
	fieldRows := ts.rows(tableField)
	methodRows := ts.rows(tableMethodDef)

	m.typeDefs = make([]*Type, n)
	m.methodOwner = make([]uint32, methodRows)

	for r := uint32(1); r <= n; r++ {
		t := &Type{
			row:       r,
			Name:      m.img.str(ts.cell(tableTypeDef, r, 1)),
			Namespace: m.img.str(ts.cell(tableTypeDef, r, 2)),
		}
		m.typeDefs[r-1] = t
		m.owners[tok(tableTypeDef, r)] = &t.Attributes

		fStart, fEnd := memberRange(ts, r, 4, fieldRows)
		for f := fStart; f < fEnd; f++ {
			mem := &Member{Name: m.img.str(ts.cell(tableField, f, 1)), Kind: FieldMember}
			t.Fields = append(t.Fields, mem)
			m.owners[tok(tableField, f)] = &mem.Attributes
		}

		mStart, mEnd := memberRange(ts, r, 5, methodRows)
		for md := mStart; md < mEnd; md++ {
			mem := &Member{Name: m.img.str(ts.cell(tableMethodDef, md, 3)), Kind: MethodMember}
			t.Methods = append(t.Methods, mem)
			m.owners[tok(tableMethodDef, md)] = &mem.Attributes
			m.methodOwner[md-1] = r
		}
	}

	propRows := ts.rows(tableProperty)
	mapRows := ts.rows(tablePropertyMap)
	for i := uint32(1); i <= mapRows; i++ {
		parent := ts.cell(tablePropertyMap, i, 0)
		if parent == 0 || parent > n {
			return formatErr("PropertyMap", fmt.Errorf("row %d has parent %d", i, parent))
		}
		start := ts.cell(tablePropertyMap, i, 1)
		end := propRows + 1
		if i < mapRows {
			end = ts.cell(tablePropertyMap, i+1, 1)
		}
		start, end = clampRange(start, end, propRows)
		t := m.typeDefs[parent-1]
		for p := start; p < end; p++ {
			mem := &Member{Name: m.img.str(ts.cell(tableProperty, p, 1)), Kind: PropertyMember}
			t.Properties = append(t.Properties, mem)
			m.owners[tok(tableProperty, p)] = &mem.Attributes
		}
	}

	for i := uint32(1); i <= ts.rows(tableNestedClass); i++ {
		nested := ts.cell(tableNestedClass, i, 0)
		enclosing := ts.cell(tableNestedClass, i, 1)
		if nested == 0 || nested > n || enclosing == 0 || enclosing > n || nested == enclosing {
			return formatErr("NestedClass", fmt.Errorf("row %d links %d to %d", i, nested, enclosing))
		}
		m.typeDefs[nested-1].enclosing = enclosing
		m.typeDefs[enclosing-1].NestedTypes = append(m.typeDefs[enclosing-1].NestedTypes, m.typeDefs[nested-1])
	}

	for _, t := range m.typeDefs {
		name, err := m.typeDefName(t, 0)
		if err != nil {
			return err
		}
		t.FullName = name
		if t.enclosing == 0 {
			m.Types = append(m.Types, t)
			m.topLevel[t.Namespace+"\x00"+t.Name] = t.row
		}
	}
	return nil
}

func (m *Module) typeDefName(t *Type, depth int) (string, error) {
	if depth > maxNesting {
		return "", formatErr("NestedClass", fmt.Errorf("nesting cycle at %s", t.Name))
	}
	if t.enclosing != 0 {
		outer, err := m.typeDefName(m.typeDefs[t.enclosing-1], depth+1)
		if err != nil {
			return "", err
		}
		return outer + "/" + joinName(t.Namespace, t.Name), nil
	}
	return joinName(t.Namespace, t.Name), nil
}

func (m *Module) buildAttributes() error {
	ts := m.img.tables
	n := ts.rows(tableCustomAttribute)
	m.attributes = make([]*Attribute, n)
	for r := uint32(1); r <= n; r++ {
		pt, prow, ok := codedHasCustomAttribute.decode(ts.cell(tableCustomAttribute, r, 0))
		if !ok || prow == 0 || prow > ts.rows(pt) {
			return formatErr("CustomAttribute", fmt.Errorf("row %d has an invalid parent", r))
		}
		ct, crow, ok := codedCustomAttributeType.decode(ts.cell(tableCustomAttribute, r, 1))
		if !ok || crow == 0 || crow > ts.rows(ct) {
			return formatErr("CustomAttribute", fmt.Errorf("row %d has an invalid constructor", r))
		}
		a := &Attribute{module: m, row: r, ctorTable: ct, ctorRow: crow}
		m.attributes[r-1] = a
		if list, ok := m.owners[tok(pt, prow)]; ok {
			*list = append(*list, a)
		}
	}
	return nil
}

// memberRange returns the [start, end) rows of a TypeDef member list column.
func memberRange(ts *tableStream, r uint32, col int, total uint32) (uint32, uint32) {
	start := ts.cell(tableTypeDef, r, col)
	end := total + 1
	if r < ts.rows(tableTypeDef) {
		end = ts.cell(tableTypeDef, r+1, col)
	}
	return clampRange(start, end, total)
}

func clampRange(start, end, total uint32) (uint32, uint32) {
	if start == 0 {
		start = 1
	}
	if end > total+1 {
		end = total + 1
	}
	if start > end {
		start = end
	}
	return start, end
}

func joinName(namespace, name string) string {
	if namespace == "" {
		return name
	}
	return namespace + "." + name
}

// FindType returns the top-level type with the given namespace and name, or nil.
func (m *Module) FindType(namespace, name string) *Type {
	row, ok := m.topLevel[namespace+"\x00"+name]
	if !ok {
		return nil
	}
	return m.typeDefs[row-1]
}

// Assembly returns the identity of the assembly manifest held by this module.
func (m *Module) Assembly() (AssemblyName, bool) {
	ts := m.img.tables
	if ts.rows(tableAssembly) == 0 {
		return AssemblyName{}, false
	}
	return AssemblyName{
		Name: m.img.str(ts.cell(tableAssembly, 1, 7)),
		Version: [4]uint16{
			uint16(ts.cell(tableAssembly, 1, 1)),
			uint16(ts.cell(tableAssembly, 1, 2)),
			uint16(ts.cell(tableAssembly, 1, 3)),
			uint16(ts.cell(tableAssembly, 1, 4)),
		},
		Culture: m.img.str(ts.cell(tableAssembly, 1, 8)),
	}, true
}

// References returns the assemblies this module references, in table order.
func (m *Module) References() []AssemblyName {
	n := m.img.tables.rows(tableAssemblyRef)
	refs := make([]AssemblyName, 0, n)
	for r := uint32(1); r <= n; r++ {
		refs = append(refs, m.assemblyRef(r))
	}
	return refs
}

func (m *Module) assemblyRef(r uint32) AssemblyName {
	ts := m.img.tables
	return AssemblyName{
		Name: m.img.str(ts.cell(tableAssemblyRef, r, 6)),
		Version: [4]uint16{
			uint16(ts.cell(tableAssemblyRef, r, 0)),
			uint16(ts.cell(tableAssemblyRef, r, 1)),
			uint16(ts.cell(tableAssemblyRef, r, 2)),
			uint16(ts.cell(tableAssemblyRef, r, 3)),
		},
		Culture: m.img.str(ts.cell(tableAssemblyRef, r, 7)),
	}
}

// StrongNamed reports whether the image carries a strong-name signature,
// which a rewrite invalidates.
func (m *Module) StrongNamed() bool {
	return m.img.cliFlags&cliFlagStrongNameSigned != 0
}

// AttributeCount returns the number of attributes currently attached to
// types and members.
func (m *Module) AttributeCount() int {
	n := 0
	for _, list := range m.owners {
		n += len(*list)
	}
	return n
}

// String is used in log fields.
func (m *Module) String() string {
	var b strings.Builder
	b.WriteString(m.Name)
	if m.Path != "" {
		b.WriteString(" (")
		b.WriteString(m.Path)
		b.WriteString(")")
	}
	return b.String()
}
