package cil_test

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/coral-mesh/attrstrip/internal/cil"
	"github.com/coral-mesh/attrstrip/internal/testutil"
)

// unityEngine builds a dependency defining a few attribute types.
func unityEngine(t *testing.T) *cil.Module {
	t.Helper()
	b := testutil.NewAssembly("UnityEngine")
	b.Type("UnityEngine", "SerializeField")
	b.Type("UnityEngine", "Generic`1")
	b.Type("UnityEngine", "Outer").Nested("Inner")
	return load(t, b)
}

func TestAttribute_TypeName(t *testing.T) {
	engine := unityEngine(t)

	b := testutil.NewAssembly("Game")
	unity := b.AssemblyRef("UnityEngine")
	serialize := b.Ctor(b.TypeRef(unity, "UnityEngine", "SerializeField"))
	generic := b.GenericCtor(b.TypeRef(unity, "UnityEngine", "Generic`1"), 0x08)
	inner := b.Ctor(b.NestedTypeRef(b.TypeRef(unity, "UnityEngine", "Outer"), "Inner"))
	local := b.Type("Game", "LocalAttribute").Ctor()
	self := b.Ctor(b.LocalTypeRef("Game", "LocalAttribute"))

	b.Type("Game", "Player").
		Field("a", serialize).
		Field("b", generic).
		Field("c", inner).
		Field("d", local).
		Field("e", self)

	mod := load(t, b, cil.WithResolver(mapResolver{"UnityEngine": engine}))
	fields := mod.FindType("Game", "Player").Fields

	want := []string{
		"UnityEngine.SerializeField",
		"UnityEngine.Generic`1<System.Int32>",
		"UnityEngine.Outer/Inner",
		"Game.LocalAttribute",
		"Game.LocalAttribute",
	}
	require.Len(t, fields, len(want))
	for i, f := range fields {
		require.Len(t, f.Attributes, 1)
		name, err := f.Attributes[0].TypeName()
		require.NoError(t, err, f.Name)
		assert.Equal(t, want[i], name, f.Name)
	}
}

func TestAttribute_TypeNameFollowsForwarders(t *testing.T) {
	core := load(t, func() *testutil.AssemblyBuilder {
		b := testutil.NewAssembly("UnityEngine.CoreModule")
		b.Type("UnityEngine", "SerializeField")
		return b
	}())

	facadeBuilder := testutil.NewAssembly("UnityEngine")
	facadeBuilder.Forward("UnityEngine", "SerializeField", facadeBuilder.AssemblyRef("UnityEngine.CoreModule"))

	resolver := mapResolver{"UnityEngine.CoreModule": core}
	facade := load(t, facadeBuilder, cil.WithResolver(resolver))
	resolver["UnityEngine"] = facade

	b := testutil.NewAssembly("Game")
	serialize := b.Ctor(b.TypeRef(b.AssemblyRef("UnityEngine"), "UnityEngine", "SerializeField"))
	b.Type("Game", "Player").Field("hp", serialize)

	mod := load(t, b, cil.WithResolver(resolver))
	name, err := mod.FindType("Game", "Player").Fields[0].Attributes[0].TypeName()
	require.NoError(t, err)
	assert.Equal(t, "UnityEngine.SerializeField", name)
}

func TestAttribute_TypeNameNestedNamespace(t *testing.T) {
	eb := testutil.NewAssembly("UnityEngine")
	eb.Type("UnityEngine", "Outer").NestedNS("Editor", "Inner")
	engine := load(t, eb)

	outer := engine.FindType("UnityEngine", "Outer")
	require.NotNil(t, outer)
	require.Len(t, outer.NestedTypes, 1)
	assert.Equal(t, "UnityEngine.Outer/Editor.Inner", outer.NestedTypes[0].FullName)

	b := testutil.NewAssembly("Game")
	outerRef := b.TypeRef(b.AssemblyRef("UnityEngine"), "UnityEngine", "Outer")
	inner := b.Ctor(b.NestedTypeRefNS(outerRef, "Editor", "Inner"))
	wrongNS := b.Ctor(b.NestedTypeRef(outerRef, "Inner"))
	b.Type("Game", "Player").Field("a", inner).Field("b", wrongNS)

	mod := load(t, b, cil.WithResolver(mapResolver{"UnityEngine": engine}))
	fields := mod.FindType("Game", "Player").Fields

	name, err := fields[0].Attributes[0].TypeName()
	require.NoError(t, err)
	assert.Equal(t, "UnityEngine.Outer/Editor.Inner", name)

	_, err = fields[1].Attributes[0].TypeName()
	var resErr *cil.ResolutionError
	require.ErrorAs(t, err, &resErr)
	assert.Equal(t, "UnityEngine.Outer/Inner", resErr.Type)
}

func TestAttribute_TypeNameResolutionFailures(t *testing.T) {
	engine := unityEngine(t)

	tests := []struct {
		name     string
		resolver cil.AssemblyResolver
		assembly string
		typeName string
		notFound bool
	}{
		{
			name:     "missing assembly",
			resolver: mapResolver{},
			assembly: "UnityEngine",
			typeName: "UnityEngine.SerializeField",
			notFound: true,
		},
		{
			name:     "no resolver",
			assembly: "UnityEngine",
			typeName: "UnityEngine.SerializeField",
			notFound: true,
		},
		{
			name:     "missing type",
			resolver: mapResolver{"UnityEngine": engine},
			assembly: "UnityEngine",
			typeName: "UnityEngine.Removed",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := testutil.NewAssembly("Game")
			parts := []string{"UnityEngine", tt.typeName[len("UnityEngine."):]}
			ctor := b.Ctor(b.TypeRef(b.AssemblyRef(tt.assembly), parts[0], parts[1]))
			b.Type("Game", "Player").Field("hp", ctor)

			var opts []cil.LoadOption
			if tt.resolver != nil {
				opts = append(opts, cil.WithResolver(tt.resolver))
			}
			mod := load(t, b, opts...)

			_, err := mod.FindType("Game", "Player").Fields[0].Attributes[0].TypeName()
			require.Error(t, err)

			var resErr *cil.ResolutionError
			require.True(t, errors.As(err, &resErr), "got %T: %v", err, err)
			assert.Equal(t, tt.typeName, resErr.Type)
			assert.Equal(t, tt.assembly, resErr.Assembly)
			assert.Equal(t, tt.notFound, errors.Is(err, cil.ErrAssemblyNotFound))
		})
	}
}

func TestAttribute_TypeNameCachesResolution(t *testing.T) {
	calls := 0
	engine := unityEngine(t)
	resolver := resolverFunc(func(ref cil.AssemblyName, _ string) (*cil.Module, error) {
		calls++
		return engine, nil
	})

	b := testutil.NewAssembly("Game")
	serialize := b.Ctor(b.TypeRef(b.AssemblyRef("UnityEngine"), "UnityEngine", "SerializeField"))
	b.Type("Game", "Player").Field("a", serialize).Field("b", serialize)

	mod := load(t, b, cil.WithResolver(resolver))
	for _, f := range mod.FindType("Game", "Player").Fields {
		_, err := f.Attributes[0].TypeName()
		require.NoError(t, err)
	}
	assert.Equal(t, 1, calls)
}

type resolverFunc func(ref cil.AssemblyName, requester string) (*cil.Module, error)

func (f resolverFunc) Resolve(ref cil.AssemblyName, requester string) (*cil.Module, error) {
	return f(ref, requester)
}
