package discover

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func touch(t *testing.T, dir string, names ...string) {
	t.Helper()
	for _, name := range names {
		path := filepath.Join(dir, name)
		require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
		require.NoError(t, os.WriteFile(path, []byte("MZ"), 0o644))
	}
}

func TestExpand(t *testing.T) {
	dir := t.TempDir()
	touch(t, dir,
		"Game.dll",
		"Assembly-CSharp.dll",
		"UnityEngine.UI.DLL",
		"Game.Editor.dll",
		"Game.pdb",
		"readme.txt",
		"Plugins/Nested.dll",
	)

	tests := []struct {
		name     string
		ignore   string
		excludes []string
		want     []string
	}{
		{
			name: "all assemblies",
			want: []string{"Assembly-CSharp.dll", "Game.Editor.dll", "Game.dll", "UnityEngine.UI.DLL"},
		},
		{
			name:     "exclude pattern",
			excludes: []string{"*.Editor.dll"},
			want:     []string{"Assembly-CSharp.dll", "Game.dll", "UnityEngine.UI.DLL"},
		},
		{
			name:   "ignore file",
			ignore: "# editor only\n*.Editor.dll\nUnityEngine.*\n",
			want:   []string{"Assembly-CSharp.dll", "Game.dll"},
		},
		{
			name:     "ignore file with negation",
			ignore:   "!Game.Editor.dll\n",
			excludes: []string{"Game*"},
			want:     []string{"Assembly-CSharp.dll", "Game.Editor.dll", "UnityEngine.UI.DLL"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ignorePath := filepath.Join(dir, IgnoreFile)
			if tt.ignore != "" {
				require.NoError(t, os.WriteFile(ignorePath, []byte(tt.ignore), 0o644))
				t.Cleanup(func() { _ = os.Remove(ignorePath) })
			}

			got, err := Expand([]string{dir}, tt.excludes)
			require.NoError(t, err)

			want := make([]string, len(tt.want))
			for i, name := range tt.want {
				want[i] = filepath.Join(dir, name)
			}
			assert.Equal(t, want, got)
		})
	}
}

func TestExpand_FilesPassThrough(t *testing.T) {
	dir := t.TempDir()
	touch(t, dir, "Game.dll", "Other.dll")
	missing := filepath.Join(dir, "Missing.dll")
	explicit := filepath.Join(dir, "Other.dll")

	got, err := Expand([]string{missing, explicit, dir}, []string{"*.dll"})
	require.NoError(t, err)
	assert.Equal(t, []string{missing, explicit}, got)
}

func TestExpand_Deduplicates(t *testing.T) {
	dir := t.TempDir()
	touch(t, dir, "A.dll", "B.dll")
	b := filepath.Join(dir, "B.dll")

	got, err := Expand([]string{b, dir, dir + string(filepath.Separator)}, nil)
	require.NoError(t, err)
	assert.Equal(t, []string{b, filepath.Join(dir, "A.dll")}, got)
}

func TestExpand_Empty(t *testing.T) {
	got, err := Expand([]string{t.TempDir()}, nil)
	require.NoError(t, err)
	assert.Empty(t, got)
}
