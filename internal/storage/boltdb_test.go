package storage

import (
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/berrythewa/cliped-daemon/internal/types"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T, maxEntries int) *BoltStore {
	t.Helper()
	s, err := NewBoltStore(StoreConfig{
		DBPath:     filepath.Join(t.TempDir(), "history.db"),
		MaxEntries: maxEntries,
	})
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func textEntry(content string) *types.ClipboardEntry {
	return &types.ClipboardEntry{
		Content: content,
		Type:    types.TypeText,
		Created: time.Now(),
		Origin:  "local",
	}
}

func TestAppendAndPageLIFO(t *testing.T) {
	s := newTestStore(t, 100)

	for i := 0; i < 5; i++ {
		require.NoError(t, s.Append(textEntry(fmt.Sprintf("item-%d", i))))
	}

	page, err := s.Page(0, 10)
	require.NoError(t, err)
	require.Len(t, page, 5)
	// Most recent first
	for i, e := range page {
		assert.Equal(t, fmt.Sprintf("item-%d", 4-i), e.Content)
	}
	assert.Equal(t, 5, s.Count())
}

func TestAppendDuplicateIsIdempotent(t *testing.T) {
	s := newTestStore(t, 100)

	require.NoError(t, s.Append(textEntry("hello")))
	err := s.Append(textEntry("hello"))
	assert.ErrorIs(t, err, ErrDuplicateEntry)
	assert.Equal(t, 1, s.Count())

	// Identical logical entry arriving from another device still dedups:
	// identity is content-derived, not origin-derived.
	remote := textEntry("hello")
	remote.Origin = "peer-1"
	assert.ErrorIs(t, s.Append(remote), ErrDuplicateEntry)
	assert.Equal(t, 1, s.Count())
}

func TestPagePastEnd(t *testing.T) {
	s := newTestStore(t, 100)
	require.NoError(t, s.Append(textEntry("only")))

	page, err := s.Page(10, 5)
	require.NoError(t, err)
	assert.Empty(t, page)

	page, err = s.Page(0, 0)
	require.NoError(t, err)
	assert.Empty(t, page)
}

func TestPageOffsetWindow(t *testing.T) {
	s := newTestStore(t, 100)
	for i := 0; i < 10; i++ {
		require.NoError(t, s.Append(textEntry(fmt.Sprintf("item-%d", i))))
	}

	page, err := s.Page(3, 4)
	require.NoError(t, err)
	require.Len(t, page, 4)
	assert.Equal(t, "item-6", page[0].Content)
	assert.Equal(t, "item-3", page[3].Content)
}

func TestEvictionAtCapacity(t *testing.T) {
	s := newTestStore(t, 100)

	for i := 0; i < 120; i++ {
		require.NoError(t, s.Append(textEntry(fmt.Sprintf("item-%d", i))))
	}

	assert.Equal(t, 100, s.Count())

	page, err := s.Page(0, 10)
	require.NoError(t, err)
	require.Len(t, page, 10)
	for i, e := range page {
		assert.Equal(t, fmt.Sprintf("item-%d", 119-i), e.Content)
	}

	// Evicted entries no longer occupy an identity slot, so the same
	// content can be appended again.
	require.NoError(t, s.Append(textEntry("item-0")))
	assert.Equal(t, 100, s.Count())
}

func TestDelete(t *testing.T) {
	s := newTestStore(t, 100)
	e := textEntry("to-delete")
	require.NoError(t, s.Append(e))

	require.NoError(t, s.Delete(e.ID))
	assert.Equal(t, 0, s.Count())

	assert.ErrorIs(t, s.Delete(e.ID), ErrNotFound)
	assert.ErrorIs(t, s.Delete("nonexistent"), ErrNotFound)

	// Deleted identity can be re-appended
	require.NoError(t, s.Append(textEntry("to-delete")))
}

func TestClearReturnsEntries(t *testing.T) {
	s := newTestStore(t, 100)
	for i := 0; i < 3; i++ {
		require.NoError(t, s.Append(textEntry(fmt.Sprintf("item-%d", i))))
	}

	cleared, err := s.Clear()
	require.NoError(t, err)
	require.Len(t, cleared, 3)
	assert.Equal(t, "item-2", cleared[0].Content)
	assert.Equal(t, 0, s.Count())

	// Clearing an empty store succeeds
	cleared, err = s.Clear()
	require.NoError(t, err)
	assert.Empty(t, cleared)
}

func TestSubscribeEvents(t *testing.T) {
	s := newTestStore(t, 100)
	events := s.Subscribe()

	e := textEntry("watched")
	require.NoError(t, s.Append(e))
	require.NoError(t, s.Delete(e.ID))
	_, err := s.Clear()
	require.NoError(t, err)

	added := <-events
	assert.Equal(t, types.EventEntryAdded, added.Kind)
	assert.Equal(t, "watched", added.Entry.Content)

	removed := <-events
	assert.Equal(t, types.EventEntryRemoved, removed.Kind)

	cleared := <-events
	assert.Equal(t, types.EventHistoryCleared, cleared.Kind)
}

func TestPersistenceAcrossReopen(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "history.db")

	s, err := NewBoltStore(StoreConfig{DBPath: path, MaxEntries: 100})
	require.NoError(t, err)
	require.NoError(t, s.Append(textEntry("persisted")))
	require.NoError(t, s.Close())

	s, err = NewBoltStore(StoreConfig{DBPath: path, MaxEntries: 100})
	require.NoError(t, err)
	defer s.Close()

	assert.Equal(t, 1, s.Count())
	assert.ErrorIs(t, s.Append(textEntry("persisted")), ErrDuplicateEntry)
}

func TestFileEntryIdentity(t *testing.T) {
	s := newTestStore(t, 100)

	file := &types.ClipboardEntry{
		Content: "File: report.pdf",
		Type:    types.TypeFile,
		Created: time.Now(),
		Origin:  "local",
		FileMeta: &types.FileMeta{
			Name: "report.pdf",
			Size: 1024,
			Hash: "deadbeef",
		},
		FilePath: "/tmp/report.pdf",
	}
	require.NoError(t, s.Append(file))

	// Same payload staged at a different path is the same logical entry.
	dup := *file
	dup.ID = ""
	dup.FilePath = "/home/other/report.pdf"
	assert.ErrorIs(t, s.Append(&dup), ErrDuplicateEntry)
}
