package resolve

import (
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/coral-mesh/attrstrip/internal/cil"
	"github.com/coral-mesh/attrstrip/internal/testutil"
)

func writeAssembly(t *testing.T, dir, file string, b *testutil.AssemblyBuilder) string {
	t.Helper()
	path := filepath.Join(dir, file)
	require.NoError(t, os.WriteFile(path, b.Bytes(), 0o644))
	return path
}

func TestResolver_Resolve(t *testing.T) {
	first := t.TempDir()
	second := t.TempDir()
	writeAssembly(t, second, "UnityEngine.dll", testutil.NewAssembly("UnityEngine"))
	writeAssembly(t, first, "Tools.exe", testutil.NewAssembly("Tools"))

	r := New([]string{first, second}, WithLogger(testutil.NewTestLogger(t)))

	mod, err := r.Resolve(cil.AssemblyName{Name: "UnityEngine"}, "")
	require.NoError(t, err)
	assert.Equal(t, "UnityEngine.dll", mod.Name)
	assert.Equal(t, filepath.Join(second, "UnityEngine.dll"), mod.Path)

	mod, err = r.Resolve(cil.AssemblyName{Name: "Tools"}, "")
	require.NoError(t, err)
	assert.Equal(t, "Tools.dll", mod.Name)

	assert.Equal(t, []string{first, second}, r.SearchDirectories())
}

func TestResolver_FirstDirectoryWins(t *testing.T) {
	first := t.TempDir()
	second := t.TempDir()
	writeAssembly(t, first, "UnityEngine.dll", testutil.NewAssembly("UnityEngine"))
	writeAssembly(t, second, "UnityEngine.dll", testutil.NewAssembly("UnityEngine"))

	r := New([]string{first, second})
	mod, err := r.Resolve(cil.AssemblyName{Name: "UnityEngine"}, "")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(first, "UnityEngine.dll"), mod.Path)
}

func TestResolver_NotFound(t *testing.T) {
	dir := t.TempDir()
	r := New([]string{dir})

	_, err := r.Resolve(cil.AssemblyName{Name: "Missing"}, "/game/Game.dll")
	require.Error(t, err)
	assert.ErrorIs(t, err, cil.ErrAssemblyNotFound)
	assert.Contains(t, err.Error(), "Missing")

	// Failures are cached: creating the file afterwards does not change the answer.
	writeAssembly(t, dir, "Missing.dll", testutil.NewAssembly("Missing"))
	_, err = r.Resolve(cil.AssemblyName{Name: "missing"}, "")
	assert.ErrorIs(t, err, cil.ErrAssemblyNotFound)
	assert.Empty(t, r.Resolved())
}

func TestResolver_NotFoundMessage(t *testing.T) {
	dir := t.TempDir()
	_, err := New([]string{dir}).Resolve(cil.AssemblyName{Name: "Missing"}, "")
	require.ErrorIs(t, err, cil.ErrAssemblyNotFound)
	assert.Contains(t, err.Error(), "(searched "+dir+")")

	_, err = New(nil).Resolve(cil.AssemblyName{Name: "Missing"}, "")
	require.ErrorIs(t, err, cil.ErrAssemblyNotFound)
	assert.Contains(t, err.Error(), "Missing (no search directories)")
	assert.NotContains(t, err.Error(), "searched")
}

func TestResolver_InvalidCandidate(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "Broken.dll"), []byte("garbage"), 0o644))

	r := New([]string{dir})
	_, err := r.Resolve(cil.AssemblyName{Name: "Broken"}, "")
	require.Error(t, err)
	assert.ErrorIs(t, err, cil.ErrNotCLI)
}

func TestResolver_MaxFileSize(t *testing.T) {
	dir := t.TempDir()
	writeAssembly(t, dir, "UnityEngine.dll", testutil.NewAssembly("UnityEngine"))

	r := New([]string{dir}, WithMaxFileSize(16))
	_, err := r.Resolve(cil.AssemblyName{Name: "UnityEngine"}, "")
	require.Error(t, err)
}

func TestResolver_ConcurrentResolveLoadsOnce(t *testing.T) {
	dir := t.TempDir()
	path := writeAssembly(t, dir, "UnityEngine.dll", testutil.NewAssembly("UnityEngine"))

	r := New(nil)
	r.AddSearchDirectory(dir)

	var wg sync.WaitGroup
	mods := make([]*cil.Module, 16)
	for i := range mods {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			mod, err := r.Resolve(cil.AssemblyName{Name: "UnityEngine"}, "")
			assert.NoError(t, err)
			mods[i] = mod
		}(i)
	}
	wg.Wait()

	for _, m := range mods {
		assert.Same(t, mods[0], m)
	}
	assert.Equal(t, []string{path}, r.Resolved())
}
