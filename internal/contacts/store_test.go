package contacts

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newStore(t *testing.T) *FileStore {
	t.Helper()
	return NewFileStore(filepath.Join(t.TempDir(), "nested", "contacts.json"))
}

func TestFileStoreEmpty(t *testing.T) {
	s := newStore(t)
	all, err := s.List(context.Background())
	require.NoError(t, err)
	assert.Empty(t, all)

	matches, err := s.Find(context.Background(), "0612")
	require.NoError(t, err)
	assert.Empty(t, matches)
}

func TestFileStoreAddAndFindBySubstring(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()

	a, err := s.Add(ctx, "+31612345678", "Studio")
	require.NoError(t, err)
	assert.NotEmpty(t, a.ID)
	_, err = s.Add(ctx, "+31687654321", "Editor")
	require.NoError(t, err)
	_, err = s.Add(ctx, "+3220123456", "")
	require.NoError(t, err)

	matches, err := s.Find(ctx, "+316")
	require.NoError(t, err)
	assert.Len(t, matches, 2)

	matches, err = s.Find(ctx, "12345678")
	require.NoError(t, err)
	require.Len(t, matches, 1)
	assert.Equal(t, a.ID, matches[0].ID)

	_, err = s.Find(ctx, "  ")
	require.ErrorIs(t, err, ErrInvalidPhone)
}

func TestFileStoreRejectsDuplicateNumber(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	_, err := s.Add(ctx, "+31612345678", "one")
	require.NoError(t, err)
	_, err = s.Add(ctx, " +31612345678 ", "two")
	require.ErrorIs(t, err, ErrExists)
}

func TestFileStoreGet(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	a, err := s.Add(ctx, "+1555", "a")
	require.NoError(t, err)

	found, missing, err := s.Get(ctx, []string{a.ID, "nope"})
	require.NoError(t, err)
	require.Len(t, found, 1)
	assert.Equal(t, "+1555", found[0].Number)
	assert.Equal(t, []string{"nope"}, missing)
}

func TestFileStorePersistsAcrossInstances(t *testing.T) {
	path := filepath.Join(t.TempDir(), "contacts.json")
	_, err := NewFileStore(path).Add(context.Background(), "+1555", "a")
	require.NoError(t, err)

	all, err := NewFileStore(path).List(context.Background())
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, "a", all[0].Name)

	entries, err := os.ReadDir(filepath.Dir(path))
	require.NoError(t, err)
	assert.Len(t, entries, 1, "no temp files left behind")
}

func TestFileStoreConcurrentAdds(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := range 20 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = s.Add(ctx, "+1000"+string(rune('a'+i)), "")
		}()
	}
	wg.Wait()

	all, err := s.List(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 20)
}

func TestFileStoreHonoursCancelledContext(t *testing.T) {
	s := newStore(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := s.Add(ctx, "+1", "")
	require.ErrorIs(t, err, context.Canceled)
}

func TestFileStoreCorruptFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "contacts.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o600))
	_, err := NewFileStore(path).List(context.Background())
	assert.Error(t, err)
}
