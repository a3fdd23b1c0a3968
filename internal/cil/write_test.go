package cil_test

import (
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/coral-mesh/attrstrip/internal/cil"
	"github.com/coral-mesh/attrstrip/internal/testutil"
)

func gameAssembly() *testutil.AssemblyBuilder {
	b := testutil.NewAssembly("Game")
	keep := b.Type("Game", "KeepAttribute").Ctor()
	drop := b.Type("Game", "DropAttribute").Ctor()

	player := b.Type("Game", "Player").
		Attr(keep, drop).
		Field("hp", drop, keep).
		Method("Update", drop).
		Property("Score", drop)
	player.Nested("Stats").Field("speed", drop)
	return b
}

// removeAll drops every attribute whose type is name from the whole module.
func removeAll(t *testing.T, mod *cil.Module, name string) {
	t.Helper()
	filter := func(attrs []*cil.Attribute) []*cil.Attribute {
		out := attrs[:0]
		for _, a := range attrs {
			n, err := a.TypeName()
			require.NoError(t, err)
			if n != name {
				out = append(out, a)
			}
		}
		return out
	}
	var walk func(*cil.Type)
	walk = func(typ *cil.Type) {
		typ.Attributes = filter(typ.Attributes)
		for _, group := range [][]*cil.Member{typ.Fields, typ.Properties, typ.Methods} {
			for _, m := range group {
				m.Attributes = filter(m.Attributes)
			}
		}
		for _, n := range typ.NestedTypes {
			walk(n)
		}
	}
	for _, typ := range mod.Types {
		walk(typ)
	}
}

func TestWrite_Unchanged(t *testing.T) {
	data := gameAssembly().Bytes()
	mod, err := cil.Load(data)
	require.NoError(t, err)

	out, err := mod.Write()
	require.NoError(t, err)
	assert.Equal(t, data, out)
}

func TestWrite_RemovesAttributes(t *testing.T) {
	data := gameAssembly().Bytes()
	mod, err := cil.Load(data)
	require.NoError(t, err)
	require.Equal(t, 7, mod.AttributeCount())

	removeAll(t, mod, "Game.DropAttribute")
	assert.Equal(t, 2, mod.AttributeCount())

	out, err := mod.Write()
	require.NoError(t, err)
	assert.Len(t, out, len(data))

	reloaded, err := cil.Load(out)
	require.NoError(t, err)
	assert.Equal(t, 2, reloaded.AttributeCount())

	player := reloaded.FindType("Game", "Player")
	require.NotNil(t, player)
	require.Len(t, player.Attributes, 1)
	name, err := player.Attributes[0].TypeName()
	require.NoError(t, err)
	assert.Equal(t, "Game.KeepAttribute", name)

	require.Len(t, player.Fields[0].Attributes, 1)
	name, err = player.Fields[0].Attributes[0].TypeName()
	require.NoError(t, err)
	assert.Equal(t, "Game.KeepAttribute", name)

	assert.Empty(t, player.Methods[0].Attributes)
	assert.Empty(t, player.Properties[0].Attributes)
	assert.Empty(t, player.NestedTypes[0].Fields[0].Attributes)
}

func TestWrite_RemovesEveryAttribute(t *testing.T) {
	mod, err := cil.Load(gameAssembly().Bytes())
	require.NoError(t, err)

	removeAll(t, mod, "Game.DropAttribute")
	removeAll(t, mod, "Game.KeepAttribute")
	require.Zero(t, mod.AttributeCount())

	out, err := mod.Write()
	require.NoError(t, err)

	reloaded, err := cil.Load(out)
	require.NoError(t, err)
	assert.Zero(t, reloaded.AttributeCount())
	assert.Len(t, reloaded.FindType("Game", "Player").Fields, 1)
}

func TestWrite_KeepsAttributesOutsideTypes(t *testing.T) {
	b := gameAssembly()
	version := b.Type("Game", "VersionAttribute").Ctor()
	b.AssemblyAttr(version)

	mod, err := cil.Load(b.Bytes())
	require.NoError(t, err)
	removeAll(t, mod, "Game.DropAttribute")
	removeAll(t, mod, "Game.KeepAttribute")

	out, err := mod.Write()
	require.NoError(t, err)

	// The assembly-level attribute row survives, so writing the reloaded
	// module again without changes is a no-op.
	reloaded, err := cil.Load(out)
	require.NoError(t, err)
	again, err := reloaded.Write()
	require.NoError(t, err)
	assert.Equal(t, out, again)
}

func TestWrite_Checksum(t *testing.T) {
	data := gameAssembly().WithChecksum().Bytes()
	offset := testutil.ChecksumOffset(data)
	require.Equal(t, testutil.PEChecksum(data), binary.LittleEndian.Uint32(data[offset:]))

	mod, err := cil.Load(data)
	require.NoError(t, err)
	removeAll(t, mod, "Game.DropAttribute")

	out, err := mod.Write()
	require.NoError(t, err)
	assert.NotEqual(t, data, out)
	assert.Equal(t, testutil.PEChecksum(out), binary.LittleEndian.Uint32(out[offset:]))
}

func TestWrite_NoChecksumStaysZero(t *testing.T) {
	data := gameAssembly().Bytes()
	mod, err := cil.Load(data)
	require.NoError(t, err)
	removeAll(t, mod, "Game.DropAttribute")

	out, err := mod.Write()
	require.NoError(t, err)
	assert.Zero(t, binary.LittleEndian.Uint32(out[testutil.ChecksumOffset(out):]))
}

func TestWrite_RejectsMovedAttribute(t *testing.T) {
	mod, err := cil.Load(gameAssembly().Bytes())
	require.NoError(t, err)

	player := mod.FindType("Game", "Player")
	player.Fields[0].Attributes = append(player.Fields[0].Attributes, player.Methods[0].Attributes...)

	_, err = mod.Write()
	require.Error(t, err)
}

func TestWrite_RejectsForeignAttribute(t *testing.T) {
	mod, err := cil.Load(gameAssembly().Bytes())
	require.NoError(t, err)
	other, err := cil.Load(gameAssembly().Bytes())
	require.NoError(t, err)

	player := mod.FindType("Game", "Player")
	player.Attributes = append(player.Attributes, other.FindType("Game", "Player").Attributes[0])

	_, err = mod.Write()
	require.Error(t, err)
}
