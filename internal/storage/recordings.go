package storage

import (
	"bytes"
	"context"
	"fmt"
	"io"

	"github.com/snarg/memo-engine/internal/audio"
)

const wavContentType = "audio/wav"

// Recordings reads and writes encoded recordings keyed by id.
type Recordings struct {
	store AudioStore
}

// NewRecordings wraps an AudioStore.
func NewRecordings(store AudioStore) *Recordings {
	return &Recordings{store: store}
}

// Key returns the storage key for a recording id.
func Key(id string) string {
	return id + ".wav"
}

// Location returns where the recording for id is (or will be) stored.
func (r *Recordings) Location(id string) string {
	return r.store.Location(Key(id))
}

// Write encodes samples and stores them under id, returning the location.
func (r *Recordings) Write(ctx context.Context, id string, samples []float32, spec audio.Spec) (string, error) {
	data, err := audio.EncodeBytes(samples, spec)
	if err != nil {
		return "", fmt.Errorf("encode %s: %w", id, err)
	}
	if err := r.store.Save(ctx, Key(id), data, wavContentType); err != nil {
		return "", fmt.Errorf("save %s: %w", id, err)
	}
	return r.Location(id), nil
}

// Read loads and decodes the recording stored under id.
func (r *Recordings) Read(ctx context.Context, id string) (*audio.Track, error) {
	rc, err := r.store.Open(ctx, Key(id))
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", id, err)
	}
	data, err := io.ReadAll(rc)
	rc.Close()
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", id, err)
	}
	track, err := audio.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", id, err)
	}
	return track, nil
}

// Exists reports whether a recording for id has been stored.
func (r *Recordings) Exists(ctx context.Context, id string) bool {
	return r.store.Exists(ctx, Key(id))
}
