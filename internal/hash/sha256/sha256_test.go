package sha256

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestHasherHashDeterministic(t *testing.T) {
	t.Parallel()

	h := New()
	got, err := h.Hash([]byte("hello world"))
	require.NoError(t, err)
	require.Equal(t, "b94d27b9934d3e08a52e52d7da7dabfac484efe37a5380ee9088f7ace2efcde9", got)
}

func TestHasherHashJSONIgnoresMapOrder(t *testing.T) {
	t.Parallel()

	h := New()
	a, err := h.HashJSON(map[string]any{"ref_id": "123", "title": "Bins"})
	require.NoError(t, err)
	b, err := h.HashJSON(map[string]any{"title": "Bins", "ref_id": "123"})
	require.NoError(t, err)
	require.Equal(t, a, b)

	_, err = h.HashJSON(make(chan int))
	require.Error(t, err)
}
