package cil

// tableID is the ECMA-335 metadata table number (II.22).
type tableID uint8

const (
	tableModule                 tableID = 0x00
	tableTypeRef                tableID = 0x01
	tableTypeDef                tableID = 0x02
	tableFieldPtr               tableID = 0x03
	tableField                  tableID = 0x04
	tableMethodPtr              tableID = 0x05
	tableMethodDef              tableID = 0x06
	tableParamPtr               tableID = 0x07
	tableParam                  tableID = 0x08
	tableInterfaceImpl          tableID = 0x09
	tableMemberRef              tableID = 0x0A
	tableConstant               tableID = 0x0B
	tableCustomAttribute        tableID = 0x0C
	tableFieldMarshal           tableID = 0x0D
	tableDeclSecurity           tableID = 0x0E
	tableClassLayout            tableID = 0x0F
	tableFieldLayout            tableID = 0x10
	tableStandAloneSig          tableID = 0x11
	tableEventMap               tableID = 0x12
	tableEventPtr               tableID = 0x13
	tableEvent                  tableID = 0x14
	tablePropertyMap            tableID = 0x15
	tablePropertyPtr            tableID = 0x16
	tableProperty               tableID = 0x17
	tableMethodSemantics        tableID = 0x18
	tableMethodImpl             tableID = 0x19
	tableModuleRef              tableID = 0x1A
	tableTypeSpec               tableID = 0x1B
	tableImplMap                tableID = 0x1C
	tableFieldRVA               tableID = 0x1D
	tableEncLog                 tableID = 0x1E
	tableEncMap                 tableID = 0x1F
	tableAssembly               tableID = 0x20
	tableAssemblyProcessor      tableID = 0x21
	tableAssemblyOS             tableID = 0x22
	tableAssemblyRef            tableID = 0x23
	tableAssemblyRefProcessor   tableID = 0x24
	tableAssemblyRefOS          tableID = 0x25
	tableFile                   tableID = 0x26
	tableExportedType           tableID = 0x27
	tableManifestResource       tableID = 0x28
	tableNestedClass            tableID = 0x29
	tableGenericParam           tableID = 0x2A
	tableMethodSpec             tableID = 0x2B
	tableGenericParamConstraint tableID = 0x2C

	numTables = 0x2D

	// noTable marks an unused tag value inside a coded index.
	noTable tableID = 0xFF
)

// codedIndex describes a tagged reference into one of several tables (II.24.2.6).
type codedIndex struct {
	bits   uint
	tables []tableID
}

var (
	codedTypeDefOrRef       = &codedIndex{2, []tableID{tableTypeDef, tableTypeRef, tableTypeSpec}}
	codedHasConstant        = &codedIndex{2, []tableID{tableField, tableParam, tableProperty}}
	codedHasCustomAttribute = &codedIndex{5, []tableID{
		tableMethodDef, tableField, tableTypeRef, tableTypeDef, tableParam,
		tableInterfaceImpl, tableMemberRef, tableModule, tableDeclSecurity, tableProperty,
		tableEvent, tableStandAloneSig, tableModuleRef, tableTypeSpec, tableAssembly,
		tableAssemblyRef, tableFile, tableExportedType, tableManifestResource, tableGenericParam,
		tableGenericParamConstraint, tableMethodSpec,
	}}
	codedHasFieldMarshal     = &codedIndex{1, []tableID{tableField, tableParam}}
	codedHasDeclSecurity     = &codedIndex{2, []tableID{tableTypeDef, tableMethodDef, tableAssembly}}
	codedMemberRefParent     = &codedIndex{3, []tableID{tableTypeDef, tableTypeRef, tableModuleRef, tableMethodDef, tableTypeSpec}}
	codedHasSemantics        = &codedIndex{1, []tableID{tableEvent, tableProperty}}
	codedMethodDefOrRef      = &codedIndex{1, []tableID{tableMethodDef, tableMemberRef}}
	codedMemberForwarded     = &codedIndex{1, []tableID{tableField, tableMethodDef}}
	codedImplementation      = &codedIndex{2, []tableID{tableFile, tableAssemblyRef, tableExportedType}}
	codedCustomAttributeType = &codedIndex{3, []tableID{noTable, noTable, tableMethodDef, tableMemberRef, noTable}}
	codedResolutionScope     = &codedIndex{2, []tableID{tableModule, tableModuleRef, tableAssemblyRef, tableTypeRef}}
	codedTypeOrMethodDef     = &codedIndex{1, []tableID{tableTypeDef, tableMethodDef}}
)

// decode splits a coded index value into its target table and 1-based row.
func (c *codedIndex) decode(v uint32) (tableID, uint32, bool) {
	tag := v & (1<<c.bits - 1)
	if int(tag) >= len(c.tables) || c.tables[tag] == noTable {
		return noTable, 0, false
	}
	return c.tables[tag], v >> c.bits, true
}

type columnKind uint8

const (
	colFixed columnKind = iota
	colString
	colGUID
	colBlob
	colIndex
	colCoded
)

type column struct {
	kind  columnKind
	size  int // colFixed only
	table tableID
	coded *codedIndex
}

func u16() column { return column{kind: colFixed, size: 2} }
func u32() column { return column{kind: colFixed, size: 4} }
func str() column { return column{kind: colString} }
func guid() column { return column{kind: colGUID} }
func blob() column { return column{kind: colBlob} }
func idx(t tableID) column { return column{kind: colIndex, table: t} }
func coded(c *codedIndex) column { return column{kind: colCoded, coded: c} }

// schema lists the columns of every table in the compressed (#~) stream.
var schema = [numTables][]column{
	tableModule:                 {u16(), str(), guid(), guid(), guid()},
	tableTypeRef:                {coded(codedResolutionScope), str(), str()},
	tableTypeDef:                {u32(), str(), str(), coded(codedTypeDefOrRef), idx(tableField), idx(tableMethodDef)},
	tableFieldPtr:               {idx(tableField)},
	tableField:                  {u16(), str(), blob()},
	tableMethodPtr:              {idx(tableMethodDef)},
	tableMethodDef:              {u32(), u16(), u16(), str(), blob(), idx(tableParam)},
	tableParamPtr:               {idx(tableParam)},
	tableParam:                  {u16(), u16(), str()},
	tableInterfaceImpl:          {idx(tableTypeDef), coded(codedTypeDefOrRef)},
	tableMemberRef:              {coded(codedMemberRefParent), str(), blob()},
	tableConstant:               {u16(), coded(codedHasConstant), blob()},
	tableCustomAttribute:        {coded(codedHasCustomAttribute), coded(codedCustomAttributeType), blob()},
	tableFieldMarshal:           {coded(codedHasFieldMarshal), blob()},
	tableDeclSecurity:           {u16(), coded(codedHasDeclSecurity), blob()},
	tableClassLayout:            {u16(), u32(), idx(tableTypeDef)},
	tableFieldLayout:            {u32(), idx(tableField)},
	tableStandAloneSig:          {blob()},
	tableEventMap:               {idx(tableTypeDef), idx(tableEvent)},
	tableEventPtr:               {idx(tableEvent)},
	tableEvent:                  {u16(), str(), coded(codedTypeDefOrRef)},
	tablePropertyMap:            {idx(tableTypeDef), idx(tableProperty)},
	tablePropertyPtr:            {idx(tableProperty)},
	tableProperty:               {u16(), str(), blob()},
	tableMethodSemantics:        {u16(), idx(tableMethodDef), coded(codedHasSemantics)},
	tableMethodImpl:             {idx(tableTypeDef), coded(codedMethodDefOrRef), coded(codedMethodDefOrRef)},
	tableModuleRef:              {str()},
	tableTypeSpec:               {blob()},
	tableImplMap:                {u16(), coded(codedMemberForwarded), str(), idx(tableModuleRef)},
	tableFieldRVA:               {u32(), idx(tableField)},
	tableEncLog:                 {u32(), u32()},
	tableEncMap:                 {u32()},
	tableAssembly:               {u32(), u16(), u16(), u16(), u16(), u32(), blob(), str(), str()},
	tableAssemblyProcessor:      {u32()},
	tableAssemblyOS:             {u32(), u32(), u32()},
	tableAssemblyRef:            {u16(), u16(), u16(), u16(), u32(), blob(), str(), str(), blob()},
	tableAssemblyRefProcessor:   {u32(), idx(tableAssemblyRef)},
	tableAssemblyRefOS:          {u32(), u32(), u32(), idx(tableAssemblyRef)},
	tableFile:                   {u32(), str(), blob()},
	tableExportedType:           {u32(), u32(), str(), str(), coded(codedImplementation)},
	tableManifestResource:       {u32(), u32(), str(), coded(codedImplementation)},
	tableNestedClass:            {idx(tableTypeDef), idx(tableTypeDef)},
	tableGenericParam:           {u16(), u16(), coded(codedTypeOrMethodDef), str()},
	tableMethodSpec:             {coded(codedMethodDefOrRef), blob()},
	tableGenericParamConstraint: {idx(tableGenericParam), coded(codedTypeDefOrRef)},
}

// unsupportedTables are only legal in edit-and-continue deltas or the
// uncompressed (#-) stream.
var unsupportedTables = []tableID{
	tableFieldPtr, tableMethodPtr, tableParamPtr, tableEventPtr, tablePropertyPtr,
	tableEncLog, tableEncMap,
}
