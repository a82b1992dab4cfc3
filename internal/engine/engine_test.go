package engine

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/snarg/memo-engine/internal/audio/audiotest"
	"github.com/snarg/memo-engine/internal/catalog"
	"github.com/snarg/memo-engine/internal/storage"
	"github.com/snarg/memo-engine/internal/transcribe"
	"github.com/snarg/memo-engine/internal/worker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fixture struct {
	host *audiotest.Host
	cat  *catalog.Catalog
	recs *storage.Recordings
	eng  *Engine

	mu     sync.Mutex
	events []string
}

func newFixture(t *testing.T, tr transcribe.Transcriber) *fixture {
	t.Helper()
	dir := t.TempDir()
	f := &fixture{host: audiotest.NewHost()}
	f.recs = storage.NewRecordings(storage.NewLocalStore(dir))
	f.cat = catalog.Open(catalog.Options{
		Store:  catalog.NewFileStore(filepath.Join(dir, "data.json")),
		Locate: f.recs.Location,
		Log:    zerolog.Nop(),
	})

	n := 0
	eng, err := New(Options{
		Host:            f.host,
		Catalog:         f.cat,
		Recordings:      f.recs,
		Transcriber:     tr,
		Prompt:          "memo",
		STTPollInterval: time.Millisecond,
		PublishEvent: func(eventType string, payload map[string]any) {
			f.mu.Lock()
			f.events = append(f.events, eventType)
			f.mu.Unlock()
		},
		NewID: func() string {
			n++
			return []string{"first", "second", "third"}[n-1]
		},
		Log: zerolog.Nop(),
	})
	require.NoError(t, err)
	f.eng = eng
	t.Cleanup(func() {
		eng.Close()
		f.cat.Close()
	})
	return f
}

func (f *fixture) waitCapturing(t *testing.T) {
	t.Helper()
	require.Eventually(t, func() bool {
		return f.host.Input(0).Playing() && f.host.Input(1).Playing()
	}, 2*time.Second, time.Millisecond)
}

func text(s string) transcribe.Func {
	return func(ctx context.Context, samples []float32, prompt string) (string, error) {
		return s, nil
	}
}

func TestEngine_RecordCycle(t *testing.T) {
	f := newFixture(t, text("pick up the kids"))

	id, err := f.eng.RecordStart()
	require.NoError(t, err)
	assert.Equal(t, "first", id)
	f.waitCapturing(t)

	require.True(t, f.host.Input(0).Feed(make([]float32, 960)))
	require.True(t, f.host.Input(1).Feed(make([]float32, 1600)))
	require.NoError(t, f.eng.RecordPause())

	var state PollState
	require.Eventually(t, func() bool {
		state, err = f.eng.Poll()
		return err == nil && len(state.AudioItems) == 1 &&
			state.AudioItems[0].LabelText() == "pick up the kids" &&
			state.AudioItems[0].FilePath != ""
	}, 2*time.Second, time.Millisecond)

	rec := state.AudioItems[0]
	assert.Equal(t, "first", rec.ID)
	assert.Equal(t, f.recs.Location("first"), rec.FilePath)
	assert.False(t, rec.IsPlaying)

	track, err := f.recs.Read(context.Background(), "first")
	require.NoError(t, err)
	assert.Len(t, track.Samples, 960)

	f.mu.Lock()
	assert.Equal(t, []string{"transcription"}, f.events)
	f.mu.Unlock()
}

func TestEngine_PollEmpty(t *testing.T) {
	f := newFixture(t, text("x"))

	state, err := f.eng.Poll()
	require.NoError(t, err)
	assert.False(t, state.IsTranscribing)
	assert.NotNil(t, state.AudioItems)
	assert.Empty(t, state.AudioItems)
}

func TestEngine_IsTranscribingWhileModelRuns(t *testing.T) {
	release := make(chan struct{})
	f := newFixture(t, transcribe.Func(func(ctx context.Context, samples []float32, prompt string) (string, error) {
		<-release
		return "done", nil
	}))

	_, err := f.eng.RecordStart()
	require.NoError(t, err)
	f.waitCapturing(t)
	f.host.Input(1).Feed(make([]float32, 100))
	require.NoError(t, f.eng.RecordPause())

	require.Eventually(t, func() bool {
		state, err := f.eng.Poll()
		return err == nil && state.IsTranscribing
	}, 2*time.Second, time.Millisecond)
	assert.True(t, f.eng.Transcribing())

	close(release)
	require.Eventually(t, func() bool {
		state, err := f.eng.Poll()
		return err == nil && !state.IsTranscribing
	}, 2*time.Second, time.Millisecond)
}

func TestEngine_PlayerMarksPlaying(t *testing.T) {
	f := newFixture(t, text("x"))
	_, err := f.recs.Write(context.Background(), "m1", make([]float32, 48000*2), f.host.OutputConfig.Spec())
	require.NoError(t, err)
	_, err = f.cat.SaveRecording("m1", "")
	require.NoError(t, err)

	require.NoError(t, f.eng.PlayerStart("m1"))
	require.Eventually(t, func() bool {
		rec, err := f.cat.Get("m1")
		return err == nil && rec.IsPlaying
	}, 2*time.Second, time.Millisecond)

	require.NoError(t, f.eng.PlayerPause("m1"))
	require.Eventually(t, func() bool {
		rec, err := f.cat.Get("m1")
		return err == nil && !rec.IsPlaying
	}, 2*time.Second, time.Millisecond)
}

func TestEngine_PlayerRequiresID(t *testing.T) {
	f := newFixture(t, text("x"))
	assert.ErrorIs(t, f.eng.PlayerStart(""), ErrEmptyID)
	assert.ErrorIs(t, f.eng.PlayerPause(""), ErrEmptyID)
}

func TestEngine_HealthAndStats(t *testing.T) {
	f := newFixture(t, text("x"))
	for name, err := range f.eng.Health() {
		assert.NoError(t, err, name)
	}
	assert.Zero(t, f.eng.CatalogSize())
	assert.Zero(t, f.eng.TranscriptionsPending())
}

func TestEngine_ClosedReturnsDisconnected(t *testing.T) {
	f := newFixture(t, text("x"))
	f.eng.recorder.Close()

	_, err := f.eng.RecordStart()
	assert.True(t, errors.Is(err, worker.ErrDisconnected))
}

func TestEngine_RecordStartRollsBackRecorder(t *testing.T) {
	f := newFixture(t, text("x"))
	f.eng.listener.Close()

	_, err := f.eng.RecordStart()
	require.ErrorIs(t, err, worker.ErrDisconnected)

	// The recorder handled both the Play and the compensating Pause.
	rec := f.host.Input(0)
	require.Eventually(t, func() bool { return rec.Plays() == 1 && rec.Pauses() == 1 }, 2*time.Second, time.Millisecond)
	assert.False(t, rec.Playing())
	assert.False(t, rec.Feed(make([]float32, 10)), "recorder still capturing")
}

func TestNew_Validation(t *testing.T) {
	_, err := New(Options{Log: zerolog.Nop()})
	assert.Error(t, err)
}

func TestNew_DeviceFailure(t *testing.T) {
	dir := t.TempDir()
	host := audiotest.NewHost()
	host.FailOutput = true
	cat := catalog.Open(catalog.Options{Store: catalog.NewFileStore(filepath.Join(dir, "data.json")), Log: zerolog.Nop()})
	defer cat.Close()

	_, err := New(Options{
		Host:        host,
		Catalog:     cat,
		Recordings:  storage.NewRecordings(storage.NewLocalStore(dir)),
		Transcriber: text("x"),
		Log:         zerolog.Nop(),
	})
	require.Error(t, err)
	// Streams built before the failure are released.
	assert.True(t, host.Input(0).Closed())
	assert.True(t, host.Input(1).Closed())
}
