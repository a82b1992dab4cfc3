// Package catalog is the index of all recordings. The index is owned by a
// single worker goroutine: every read and mutation is a message to it, so no
// caller ever holds a lock on the catalog.
package catalog

import (
	"errors"
	"sort"

	"github.com/rs/zerolog"
	"github.com/snarg/memo-engine/internal/worker"
)

// ErrNotFound is returned by Get for unknown ids.
var ErrNotFound = errors.New("catalog: recording not found")

// Options configures a Catalog.
type Options struct {
	Store Store

	// Locate derives a recording's storage location from its id.
	Locate func(id string) string

	// OnChange is called on the catalog goroutine after every persisted
	// change. It must not block or call back into the catalog.
	OnChange func(Change)

	Log zerolog.Logger
}

// Catalog is the handle to the catalog actor.
type Catalog struct {
	h *worker.Handle[request]
}

type request struct {
	fn   func(*state)
	done chan struct{}
}

type state struct {
	items    map[string]Recording
	store    Store
	locate   func(string) string
	onChange func(Change)
	log      zerolog.Logger
}

// Open loads the persisted document and starts the catalog actor. A missing
// or unreadable document yields an empty catalog.
func Open(opts Options) *Catalog {
	log := opts.Log
	doc, err := opts.Store.Load()
	if err != nil {
		log.Warn().Err(err).Msg("catalog unreadable, starting empty")
		doc = Document{}
	}
	if doc.Items == nil {
		doc.Items = map[string]Recording{}
	}

	st := &state{
		items:    doc.Items,
		store:    opts.Store,
		locate:   opts.Locate,
		onChange: opts.OnChange,
		log:      log,
	}
	if st.locate == nil {
		st.locate = func(id string) string { return id + ".wav" }
	}
	log.Info().Int("items", len(st.items)).Msg("catalog loaded")

	return &Catalog{h: worker.Setup(st, serve)}
}

func serve(st *state, in *worker.Inbox[request]) {
	for {
		req, err := in.Recv()
		if err != nil {
			return
		}
		req.fn(st)
		close(req.done)
	}
}

// call runs fn on the catalog goroutine and waits for it to finish.
func (c *Catalog) call(fn func(*state)) error {
	req := request{fn: fn, done: make(chan struct{})}
	if err := c.h.Trigger(req); err != nil {
		return err
	}
	select {
	case <-req.done:
		return nil
	case <-c.h.Done():
		// The request may have completed right before the actor exited.
		select {
		case <-req.done:
			return nil
		default:
			return worker.ErrDisconnected
		}
	}
}

// Items returns a snapshot of every recording, sorted by id.
func (c *Catalog) Items() ([]Recording, error) {
	var out []Recording
	err := c.call(func(st *state) {
		out = make([]Recording, 0, len(st.items))
		for _, r := range st.items {
			out = append(out, r.clone())
		}
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// Len returns the number of recordings.
func (c *Catalog) Len() (int, error) {
	var n int
	err := c.call(func(st *state) { n = len(st.items) })
	return n, err
}

// Get returns the recording for id.
func (c *Catalog) Get(id string) (Recording, error) {
	var (
		rec Recording
		ok  bool
	)
	if err := c.call(func(st *state) {
		rec, ok = st.items[id]
		rec = rec.clone()
	}); err != nil {
		return Recording{}, err
	}
	if !ok {
		return Recording{}, ErrNotFound
	}
	return rec, nil
}

// SaveRecording creates the row for a freshly stored capture, or points an
// existing row at it. An existing label and playback flag are kept.
func (c *Catalog) SaveRecording(id, location string) (Recording, error) {
	var (
		rec Recording
		err error
	)
	if callErr := c.call(func(st *state) {
		rec, _, err = st.mutate(id, true, func(r *Recording) {
			if location != "" {
				r.FilePath = location
			}
		})
	}); callErr != nil {
		return Recording{}, callErr
	}
	return rec, err
}

// SetLabel sets the transcript label for id, creating the row if absent.
func (c *Catalog) SetLabel(id, label string) (Recording, error) {
	var (
		rec Recording
		err error
	)
	if callErr := c.call(func(st *state) {
		rec, _, err = st.mutate(id, true, func(r *Recording) {
			l := label
			r.Label = &l
		})
	}); callErr != nil {
		return Recording{}, callErr
	}
	return rec, err
}

// SetPlaying updates the playback flag of an existing row. It reports
// whether the row exists; unknown ids are left alone.
func (c *Catalog) SetPlaying(id string, playing bool) (bool, error) {
	var (
		found bool
		err   error
	)
	if callErr := c.call(func(st *state) {
		_, found, err = st.mutate(id, false, func(r *Recording) {
			r.IsPlaying = playing
		})
	}); callErr != nil {
		return false, callErr
	}
	return found, err
}

// Reload re-reads the persisted document, replacing the in-memory index if
// it differs. On error the current index is kept.
func (c *Catalog) Reload() (bool, error) {
	var (
		changed bool
		err     error
	)
	if callErr := c.call(func(st *state) {
		changed, err = st.reload()
	}); callErr != nil {
		return false, callErr
	}
	return changed, err
}

// Close stops the catalog actor once queued requests are served.
func (c *Catalog) Close() {
	c.h.Close()
	<-c.h.Done()
}

// mutate applies fn to the row for id and persists the whole document. If
// the write fails the in-memory row is restored, so memory and disk agree
// after every call.
func (st *state) mutate(id string, create bool, fn func(*Recording)) (Recording, bool, error) {
	prev, found := st.items[id]
	if !found && !create {
		return Recording{}, false, nil
	}

	var next Recording
	if found {
		next = prev.clone()
	} else {
		next = Recording{ID: id, FilePath: st.locate(id)}
	}
	fn(&next)
	if found && next.equal(prev) {
		return next.clone(), true, nil
	}

	st.items[id] = next
	if err := st.store.Save(Document{Items: st.items}); err != nil {
		if found {
			st.items[id] = prev
		} else {
			delete(st.items, id)
		}
		st.log.Error().Err(err).Str("id", id).Msg("failed to persist catalog")
		return Recording{}, found, err
	}

	change := Change{Type: ChangeUpdated, Recording: next.clone()}
	if !found {
		change.Type = ChangeCreated
	}
	st.emit(change)
	return next.clone(), found, nil
}

func (st *state) reload() (bool, error) {
	doc, err := st.store.Load()
	if err != nil {
		st.log.Warn().Err(err).Msg("catalog reload failed, keeping current index")
		return false, err
	}
	if doc.Items == nil {
		doc.Items = map[string]Recording{}
	}

	changed := false
	for id, rec := range doc.Items {
		if cur, ok := st.items[id]; !ok || !cur.equal(rec) {
			changed = true
			st.emit(Change{Type: ChangeReloaded, Recording: rec.clone()})
		}
	}
	if len(doc.Items) != len(st.items) {
		changed = true
	}
	if changed {
		st.items = doc.Items
		st.log.Info().Int("items", len(st.items)).Msg("catalog reloaded from disk")
	}
	return changed, nil
}

func (st *state) emit(c Change) {
	if st.onChange != nil {
		st.onChange(c)
	}
}
