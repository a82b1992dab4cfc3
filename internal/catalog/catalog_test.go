package catalog

import (
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/snarg/memo-engine/internal/worker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openFile(t *testing.T, path string, onChange func(Change)) *Catalog {
	t.Helper()
	c := Open(Options{
		Store:    NewFileStore(path),
		Locate:   func(id string) string { return filepath.Join("/audio", id+".wav") },
		OnChange: onChange,
		Log:      zerolog.Nop(),
	})
	t.Cleanup(c.Close)
	return c
}

func TestCatalog_RoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "data.json")
	c := openFile(t, path, nil)

	ids := []string{"c", "a", "b"}
	for _, id := range ids {
		_, err := c.SaveRecording(id, "")
		require.NoError(t, err)
	}
	_, err := c.SetLabel("a", "groceries")
	require.NoError(t, err)
	c.Close()

	reopened := openFile(t, path, nil)
	items, err := reopened.Items()
	require.NoError(t, err)
	require.Len(t, items, 3)
	assert.Equal(t, "a", items[0].ID)
	assert.Equal(t, "b", items[1].ID)
	assert.Equal(t, "c", items[2].ID)
	assert.Equal(t, "groceries", items[0].LabelText())
	assert.Nil(t, items[1].Label)
	assert.Equal(t, filepath.Join("/audio", "b.wav"), items[1].FilePath)
}

func TestCatalog_DocumentFormat(t *testing.T) {
	path := filepath.Join(t.TempDir(), "data.json")
	c := openFile(t, path, nil)
	_, err := c.SaveRecording("r1", "/audio/r1.wav")
	require.NoError(t, err)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.JSONEq(t,
		`{"items":{"r1":{"id":"r1","label":null,"filepath":"/audio/r1.wav","is_playing":false}}}`,
		string(data))
}

func TestCatalog_MissingIsPlayingDefaultsFalse(t *testing.T) {
	path := filepath.Join(t.TempDir(), "data.json")
	require.NoError(t, os.WriteFile(path,
		[]byte(`{"items":{"r1":{"id":"r1","label":"hi","filepath":"/a/r1.wav"}}}`), 0o644))

	c := openFile(t, path, nil)
	rec, err := c.Get("r1")
	require.NoError(t, err)
	assert.False(t, rec.IsPlaying)
	assert.Equal(t, "hi", rec.LabelText())
}

func TestCatalog_CorruptDocumentStartsEmpty(t *testing.T) {
	path := filepath.Join(t.TempDir(), "data.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o644))

	c := openFile(t, path, nil)
	n, err := c.Len()
	require.NoError(t, err)
	assert.Zero(t, n)

	// The next mutation replaces the corrupt document.
	_, err = c.SaveRecording("r1", "")
	require.NoError(t, err)
	doc, err := NewFileStore(path).Load()
	require.NoError(t, err)
	assert.Contains(t, doc.Items, "r1")
}

type failingStore struct {
	mu    sync.Mutex
	doc   Document
	fail  bool
	saves int
}

func (s *failingStore) Load() (Document, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	items := make(map[string]Recording, len(s.doc.Items))
	for k, v := range s.doc.Items {
		items[k] = v.clone()
	}
	return Document{Items: items}, nil
}

func (s *failingStore) Save(doc Document) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fail {
		return errors.New("disk full")
	}
	s.saves++
	items := make(map[string]Recording, len(doc.Items))
	for k, v := range doc.Items {
		items[k] = v.clone()
	}
	s.doc = Document{Items: items}
	return nil
}

func (s *failingStore) setFail(v bool) {
	s.mu.Lock()
	s.fail = v
	s.mu.Unlock()
}

func TestCatalog_FailedWriteRollsBack(t *testing.T) {
	store := &failingStore{}
	var changes []Change
	c := Open(Options{Store: store, Log: zerolog.Nop(), OnChange: func(ch Change) { changes = append(changes, ch) }})
	defer c.Close()

	_, err := c.SaveRecording("r1", "")
	require.NoError(t, err)

	store.setFail(true)
	_, err = c.SetLabel("r1", "lost")
	require.Error(t, err)
	_, err = c.SaveRecording("r2", "")
	require.Error(t, err)

	rec, err := c.Get("r1")
	require.NoError(t, err)
	assert.Nil(t, rec.Label, "label must be rolled back")
	_, err = c.Get("r2")
	assert.ErrorIs(t, err, ErrNotFound, "created row must be rolled back")

	items, err := c.Items()
	require.NoError(t, err)
	assert.Len(t, items, 1)
	assert.Len(t, changes, 1, "failed writes emit no change")
}

func TestCatalog_SetLabelUpserts(t *testing.T) {
	store := &failingStore{}
	c := Open(Options{Store: store, Log: zerolog.Nop()})
	defer c.Close()

	rec, err := c.SetLabel("r1", "first")
	require.NoError(t, err)
	assert.Equal(t, "r1.wav", rec.FilePath, "created rows derive their location from the id")

	_, err = c.SaveRecording("r1", "/audio/r1.wav")
	require.NoError(t, err)
	rec, err = c.Get("r1")
	require.NoError(t, err)
	assert.Equal(t, "first", rec.LabelText(), "saving the capture keeps the label")
	assert.Equal(t, "/audio/r1.wav", rec.FilePath)

	_, err = c.SetLabel("r1", "second")
	require.NoError(t, err)
	rec, err = c.Get("r1")
	require.NoError(t, err)
	assert.Equal(t, "second", rec.LabelText())
}

func TestCatalog_SetPlaying(t *testing.T) {
	store := &failingStore{}
	c := Open(Options{Store: store, Log: zerolog.Nop()})
	defer c.Close()

	found, err := c.SetPlaying("ghost", true)
	require.NoError(t, err)
	assert.False(t, found)
	assert.Zero(t, store.saves, "unknown ids cause no write")

	_, err = c.SaveRecording("r1", "")
	require.NoError(t, err)
	found, err = c.SetPlaying("r1", true)
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, 2, store.saves)

	// Unchanged value skips the write.
	_, err = c.SetPlaying("r1", true)
	require.NoError(t, err)
	assert.Equal(t, 2, store.saves)

	rec, err := c.Get("r1")
	require.NoError(t, err)
	assert.True(t, rec.IsPlaying)
}

func TestCatalog_ChangesEmitted(t *testing.T) {
	var changes []Change
	c := Open(Options{Store: &failingStore{}, Log: zerolog.Nop(), OnChange: func(ch Change) { changes = append(changes, ch) }})

	_, err := c.SaveRecording("r1", "")
	require.NoError(t, err)
	_, err = c.SetLabel("r1", "hello")
	require.NoError(t, err)
	c.Close()

	require.Len(t, changes, 2)
	assert.Equal(t, ChangeCreated, changes[0].Type)
	assert.Equal(t, ChangeUpdated, changes[1].Type)
	assert.Equal(t, "hello", changes[1].Recording.LabelText())
}

func TestCatalog_SnapshotsAreCopies(t *testing.T) {
	c := Open(Options{Store: &failingStore{}, Log: zerolog.Nop()})
	defer c.Close()

	_, err := c.SetLabel("r1", "original")
	require.NoError(t, err)
	rec, err := c.Get("r1")
	require.NoError(t, err)
	*rec.Label = "mutated"

	again, err := c.Get("r1")
	require.NoError(t, err)
	assert.Equal(t, "original", again.LabelText())
}

func TestCatalog_Reload(t *testing.T) {
	store := &failingStore{}
	c := Open(Options{Store: store, Log: zerolog.Nop()})
	defer c.Close()

	changed, err := c.Reload()
	require.NoError(t, err)
	assert.False(t, changed)

	label := "external"
	store.mu.Lock()
	store.doc = Document{Items: map[string]Recording{"x": {ID: "x", Label: &label, FilePath: "x.wav"}}}
	store.mu.Unlock()

	changed, err = c.Reload()
	require.NoError(t, err)
	assert.True(t, changed)
	rec, err := c.Get("x")
	require.NoError(t, err)
	assert.Equal(t, "external", rec.LabelText())
}

func TestCatalog_ClosedReturnsDisconnected(t *testing.T) {
	c := Open(Options{Store: &failingStore{}, Log: zerolog.Nop()})
	c.Close()

	_, err := c.Items()
	assert.ErrorIs(t, err, worker.ErrDisconnected)
	_, err = c.SetLabel("r1", "x")
	assert.ErrorIs(t, err, worker.ErrDisconnected)
}

func TestCatalog_ConcurrentMutations(t *testing.T) {
	store := &failingStore{}
	c := Open(Options{Store: store, Log: zerolog.Nop()})
	defer c.Close()

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			id := string(rune('a' + i))
			_, err := c.SaveRecording(id, "")
			assert.NoError(t, err)
			_, err = c.SetLabel(id, id)
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	items, err := c.Items()
	require.NoError(t, err)
	assert.Len(t, items, 20)
	doc, err := store.Load()
	require.NoError(t, err)
	assert.Len(t, doc.Items, 20, "memory and store agree")
}

func TestWatcher_ReloadsExternalEdit(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "data.json")
	c := openFile(t, path, nil)

	w := NewWatcher(c, path, zerolog.Nop())
	require.NoError(t, w.Start())
	defer w.Stop()

	require.NoError(t, os.WriteFile(path,
		[]byte(`{"items":{"ext":{"id":"ext","label":"from disk","filepath":"/a/ext.wav","is_playing":false}}}`), 0o644))

	require.Eventually(t, func() bool {
		rec, err := c.Get("ext")
		return err == nil && rec.LabelText() == "from disk"
	}, 5*time.Second, 20*time.Millisecond)
	assert.GreaterOrEqual(t, w.Reloads(), int64(1))
}
