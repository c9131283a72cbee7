package stage

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
}

func TestCopyDir(t *testing.T) {
	src := t.TempDir()
	writeFile(t, filepath.Join(src, "submit.sh"), "#!/bin/sh\nqsub run\n")
	writeFile(t, filepath.Join(src, "Simulation", "input.dat"), "1 2 3")

	dst := filepath.Join(t.TempDir(), "run1")
	files, n, err := CopyDir(src, dst)
	require.NoError(t, err)
	assert.Equal(t, 2, files)
	assert.Equal(t, int64(len("#!/bin/sh\nqsub run\n")+len("1 2 3")), n)

	data, err := os.ReadFile(filepath.Join(dst, "Simulation", "input.dat"))
	require.NoError(t, err)
	assert.Equal(t, "1 2 3", string(data))
}

func TestCopyDirRejectsFile(t *testing.T) {
	src := filepath.Join(t.TempDir(), "file")
	writeFile(t, src, "x")
	_, _, err := CopyDir(src, t.TempDir())
	assert.Error(t, err)
}

func TestIsEmptyDir(t *testing.T) {
	dir := t.TempDir()

	empty, err := IsEmptyDir(filepath.Join(dir, "missing"))
	require.NoError(t, err)
	assert.True(t, empty)

	empty, err = IsEmptyDir(dir)
	require.NoError(t, err)
	assert.True(t, empty)

	writeFile(t, filepath.Join(dir, "a"), "x")
	empty, err = IsEmptyDir(dir)
	require.NoError(t, err)
	assert.False(t, empty)
}
