package cil_test

import (
	"encoding/binary"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/coral-mesh/attrstrip/internal/cil"
	"github.com/coral-mesh/attrstrip/internal/testutil"
)

// mapResolver resolves assembly references from an in-memory set.
type mapResolver map[string]*cil.Module

func (r mapResolver) Resolve(ref cil.AssemblyName, _ string) (*cil.Module, error) {
	if m, ok := r[ref.Name]; ok {
		return m, nil
	}
	return nil, fmt.Errorf("%w: %s", cil.ErrAssemblyNotFound, ref.Name)
}

func load(t *testing.T, b *testutil.AssemblyBuilder, opts ...cil.LoadOption) *cil.Module {
	t.Helper()
	mod, err := cil.Load(b.Bytes(), opts...)
	require.NoError(t, err)
	return mod
}

func TestLoad_TypesAndMembers(t *testing.T) {
	b := testutil.NewAssembly("Game")
	marker := b.Type("Game", "MarkerAttribute")
	ctor := marker.Ctor()

	player := b.Type("Game", "Player").
		Attr(ctor).
		Field("hp", ctor, ctor).
		Field("name").
		Method("Update", ctor).
		Property("Score", ctor)
	player.Nested("Stats").Field("speed", ctor)
	b.Type("", "Global")

	mod := load(t, b)

	assert.Equal(t, "Game.dll", mod.Name)
	require.Len(t, mod.Types, 4)
	assert.Equal(t, "<Module>", mod.Types[0].FullName)
	assert.Equal(t, "Game.MarkerAttribute", mod.Types[1].FullName)
	assert.Equal(t, "Global", mod.Types[3].FullName)

	p := mod.FindType("Game", "Player")
	require.NotNil(t, p)
	assert.Equal(t, "Game.Player", p.FullName)
	assert.Len(t, p.Attributes, 1)
	require.Len(t, p.Fields, 2)
	assert.Equal(t, "hp", p.Fields[0].Name)
	assert.Equal(t, cil.FieldMember, p.Fields[0].Kind)
	assert.Len(t, p.Fields[0].Attributes, 2)
	assert.Empty(t, p.Fields[1].Attributes)
	require.Len(t, p.Methods, 1)
	assert.Equal(t, "Update", p.Methods[0].Name)
	require.Len(t, p.Properties, 1)
	assert.Equal(t, "Score", p.Properties[0].Name)
	assert.Equal(t, cil.PropertyMember, p.Properties[0].Kind)

	require.Len(t, p.NestedTypes, 1)
	stats := p.NestedTypes[0]
	assert.Equal(t, "Game.Player/Stats", stats.FullName)
	assert.Len(t, stats.Fields[0].Attributes, 1)

	// MarkerAttribute owns the .ctor method.
	assert.Equal(t, ".ctor", mod.Types[1].Methods[0].Name)

	assert.Equal(t, 6, mod.AttributeCount())
	assert.Nil(t, mod.FindType("Game", "Stats"))
}

func TestLoad_AssemblyIdentity(t *testing.T) {
	b := testutil.NewAssembly("Game")
	b.AssemblyRef("UnityEngine")
	b.AssemblyRef("mscorlib")

	mod := load(t, b)

	asm, ok := mod.Assembly()
	require.True(t, ok)
	assert.Equal(t, "Game", asm.Name)
	assert.Equal(t, "Game, Version=1.0.0.0, Culture=neutral", asm.String())

	refs := mod.References()
	require.Len(t, refs, 2)
	assert.Equal(t, "UnityEngine", refs[0].Name)
	assert.Equal(t, "mscorlib", refs[1].Name)
	assert.False(t, mod.StrongNamed())
}

func TestLoad_StrongNamed(t *testing.T) {
	mod := load(t, testutil.NewAssembly("Signed").StrongNamed())
	assert.True(t, mod.StrongNamed())
}

func TestLoad_WithPath(t *testing.T) {
	mod := load(t, testutil.NewAssembly("Game"), cil.WithPath("/tmp/Game.dll"))
	assert.Equal(t, "/tmp/Game.dll", mod.Path)
	assert.Equal(t, "Game.dll (/tmp/Game.dll)", mod.String())
}

func TestLoad_Rejects(t *testing.T) {
	tests := []struct {
		name string
		data []byte
	}{
		{name: "empty", data: nil},
		{name: "text", data: []byte("definitely not a portable executable")},
		{name: "truncated", data: testutil.NewAssembly("Game").Bytes()[:0x100]},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := cil.Load(tt.data)
			require.Error(t, err)
		})
	}
}

func TestLoad_NotCLI(t *testing.T) {
	data := testutil.NewAssembly("Game").Bytes()
	// Clear the CLI header data directory.
	dir := int(data[0x3C]) + 4 + 20 + 96 + 14*8
	for i := 0; i < 8; i++ {
		data[dir+i] = 0
	}

	_, err := cil.Load(data)
	assert.ErrorIs(t, err, cil.ErrNotCLI)
}

func TestLoad_ReadyToRunMachine(t *testing.T) {
	tests := []struct {
		name    string
		machine uint16
	}{
		{name: "native i386", machine: 0x014C},
		{name: "linux amd64", machine: 0x8664 ^ 0x7B79},
		{name: "osx arm64", machine: 0xAA64 ^ 0x4644},
		{name: "freebsd i386", machine: 0x014C ^ 0xADC4},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data := gameAssembly().WithMachine(tt.machine).Bytes()
			mod, err := cil.Load(data)
			require.NoError(t, err)
			assert.Equal(t, 7, mod.AttributeCount())

			removeAll(t, mod, "Game.DropAttribute")
			out, err := mod.Write()
			require.NoError(t, err)

			machineOff := int(binary.LittleEndian.Uint32(out[0x3C:])) + 4
			assert.Equal(t, tt.machine, binary.LittleEndian.Uint16(out[machineOff:]))

			reloaded, err := cil.Load(out)
			require.NoError(t, err)
			assert.Equal(t, 2, reloaded.AttributeCount())
		})
	}
}

func TestLoad_UnknownMachine(t *testing.T) {
	_, err := cil.Load(gameAssembly().WithMachine(0x1234).Bytes())
	assert.ErrorIs(t, err, cil.ErrNotCLI)
}
