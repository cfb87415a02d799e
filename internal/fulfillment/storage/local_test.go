package storage

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	fulfillmentdomain "github.com/smallbiznis/paysettle/internal/fulfillment/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLocalStatAndRead(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(root, "formations"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(root, "formations", "syllabus.pdf"), []byte("hello"), 0o644))

	store := NewLocal(root)
	ctx := context.Background()

	size, err := store.Stat(ctx, "formations/syllabus.pdf")
	require.NoError(t, err)
	assert.EqualValues(t, 5, size)

	data, err := store.ReadFile(ctx, "formations/syllabus.pdf")
	require.NoError(t, err)
	assert.Equal(t, "hello", string(data))
}

func TestLocalMissingFile(t *testing.T) {
	store := NewLocal(t.TempDir())

	_, err := store.Stat(context.Background(), "nope.pdf")
	assert.ErrorIs(t, err, fulfillmentdomain.ErrFileNotFound)

	_, err = store.ReadFile(context.Background(), "nope.pdf")
	assert.ErrorIs(t, err, fulfillmentdomain.ErrFileNotFound)

	_, err = store.Stat(context.Background(), "")
	assert.ErrorIs(t, err, fulfillmentdomain.ErrFileNotFound)
}

func TestLocalStaysInsideRoot(t *testing.T) {
	parent := t.TempDir()
	root := filepath.Join(parent, "storage")
	require.NoError(t, os.MkdirAll(root, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(parent, "secret.txt"), []byte("x"), 0o644))

	_, err := NewLocal(root).Stat(context.Background(), "../secret.txt")
	assert.ErrorIs(t, err, fulfillmentdomain.ErrFileNotFound)
}

func TestLocalDirectoryIsNotAFile(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(root, "dir"), 0o755))

	_, err := NewLocal(root).Stat(context.Background(), "dir")
	assert.ErrorIs(t, err, fulfillmentdomain.ErrFileNotFound)
}
