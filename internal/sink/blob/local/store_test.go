package local

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNewRequiresDirectory(t *testing.T) {
	t.Parallel()

	_, err := New(Config{})
	require.Error(t, err)

	file := filepath.Join(t.TempDir(), "file")
	require.NoError(t, os.WriteFile(file, []byte("x"), 0o600))
	_, err = New(Config{BaseDir: file})
	require.Error(t, err)

	nested := filepath.Join(t.TempDir(), "a", "b")
	_, err = New(Config{BaseDir: nested})
	require.NoError(t, err)
	require.DirExists(t, nested)
}

func TestPutObject(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	store, err := New(Config{BaseDir: dir})
	require.NoError(t, err)

	uri, err := store.PutObject(context.Background(), "petitions/au-qld/part.jsonl", "", strings.NewReader("{}\n"))
	require.NoError(t, err)
	require.Equal(t, "file://"+filepath.Join(dir, "petitions", "au-qld", "part.jsonl"), uri)

	data, err := os.ReadFile(filepath.Join(dir, "petitions", "au-qld", "part.jsonl"))
	require.NoError(t, err)
	require.Equal(t, "{}\n", string(data))

	_, err = store.PutObject(context.Background(), "../escape", "", strings.NewReader("x"))
	require.ErrorContains(t, err, "path traversal")
	_, err = store.PutObject(context.Background(), " ", "", strings.NewReader("x"))
	require.Error(t, err)
}
