package listener

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/snarg/memo-engine/internal/audio"
	"github.com/snarg/memo-engine/internal/audio/audiotest"
	"github.com/snarg/memo-engine/internal/catalog"
	"github.com/snarg/memo-engine/internal/transcribe"
	"github.com/snarg/memo-engine/internal/worker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeModel struct {
	mu    sync.Mutex
	calls [][]float32
	text  string
	panic bool
}

func (m *fakeModel) Transcribe(ctx context.Context, samples []float32, prompt string) (string, error) {
	if m.panic {
		panic("model crashed")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, append([]float32(nil), samples...))
	return m.text, nil
}

func (m *fakeModel) callCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.calls)
}

type fixture struct {
	host  *audiotest.Host
	cat   *catalog.Catalog
	model *fakeModel
	l     *Listener

	mu   sync.Mutex
	errs []error
}

func newFixture(t *testing.T, model *fakeModel) *fixture {
	t.Helper()
	f := &fixture{host: audiotest.NewHost(), model: model}
	f.cat = catalog.Open(catalog.Options{
		Store: catalog.NewFileStore(filepath.Join(t.TempDir(), "data.json")),
		Log:   zerolog.Nop(),
	})

	l, err := New(Options{
		Host:         f.host,
		SampleRate:   16000,
		MaxSeconds:   5,
		PollInterval: time.Millisecond,
		Transcription: transcribe.WorkerOptions{
			Transcriber: model,
			Labels:      f.cat,
			Prompt:      "memo",
			Log:         zerolog.Nop(),
		},
		OnError: func(id string, err error) {
			f.mu.Lock()
			f.errs = append(f.errs, err)
			f.mu.Unlock()
		},
		Log: zerolog.Nop(),
	})
	require.NoError(t, err)
	f.l = l
	t.Cleanup(func() {
		l.Close()
		f.cat.Close()
	})
	return f
}

func (f *fixture) input() *audiotest.Input { return f.host.Input(0) }

// play triggers Play and waits until the capture stream is running.
func (f *fixture) play(t *testing.T, id string) {
	t.Helper()
	before := f.input().Plays()
	require.NoError(t, f.l.Play(id))
	require.Eventually(t, func() bool { return f.input().Plays() > before }, 2*time.Second, time.Millisecond)
}

func (f *fixture) feed(t *testing.T, total, batch int) {
	t.Helper()
	for sent := 0; sent < total; sent += batch {
		n := batch
		if total-sent < n {
			n = total - sent
		}
		require.True(t, f.input().Feed(make([]float32, n)), "stream not playing")
	}
}

func (f *fixture) errCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.errs)
}

func TestListener_UsesDedicatedStreamConfig(t *testing.T) {
	f := newFixture(t, &fakeModel{})
	assert.Equal(t, audio.StreamConfig{Channels: 1, SampleRate: 16000}, f.input().Config)
	assert.Equal(t, 80000, f.l.Capacity())
}

func TestListener_PauseTranscribesWindow(t *testing.T) {
	model := &fakeModel{text: " call the dentist "}
	f := newFixture(t, model)

	f.play(t, "r1")
	f.feed(t, 32000, 1600)
	require.NoError(t, f.l.Pause())

	require.Eventually(t, func() bool {
		rec, err := f.cat.Get("r1")
		return err == nil && rec.LabelText() == "call the dentist"
	}, 2*time.Second, time.Millisecond)

	require.Equal(t, 1, model.callCount())
	assert.Len(t, model.calls[0], 32000)
	assert.False(t, f.input().Playing())
}

func TestListener_FullWindowAndPauseTranscribeOnce(t *testing.T) {
	model := &fakeModel{text: "long memo"}
	f := newFixture(t, model)

	f.play(t, "r1")
	f.feed(t, 80000, 4000)
	require.Eventually(t, func() bool { return model.callCount() == 1 }, 2*time.Second, time.Millisecond)
	assert.False(t, f.input().Playing(), "full window pauses capture")

	require.NoError(t, f.l.Pause())
	// A later Play proves the Pause was handled.
	f.play(t, "r2")
	require.NoError(t, f.l.Pause())
	require.Eventually(t, func() bool { return f.l.Stats().Skipped == 1 }, 2*time.Second, time.Millisecond)

	assert.Equal(t, 1, model.callCount())
	assert.Len(t, model.calls[0], 80000)
}

func TestListener_OverflowDropped(t *testing.T) {
	model := &fakeModel{text: "x"}
	f := newFixture(t, model)

	f.play(t, "r1")
	f.feed(t, 79000, 1000)
	f.feed(t, 3000, 3000) // 1000 fit, 2000 dropped
	require.Eventually(t, func() bool { return model.callCount() == 1 }, 2*time.Second, time.Millisecond)
	assert.Len(t, model.calls[0], 80000)
}

func TestListener_PauseWithoutPlayIsNoop(t *testing.T) {
	model := &fakeModel{text: "x"}
	f := newFixture(t, model)

	require.NoError(t, f.l.Pause())
	require.NoError(t, f.l.Pause())
	f.play(t, "r1")

	stats := f.l.Stats()
	assert.Zero(t, stats.Completed+stats.Skipped+stats.Failed+int64(stats.Pending))
	n, err := f.cat.Len()
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestListener_NewPlayResetsWindow(t *testing.T) {
	model := &fakeModel{text: "second"}
	f := newFixture(t, model)

	f.play(t, "r1")
	f.feed(t, 500, 500)
	f.play(t, "r2") // no Pause in between: r1's samples are discarded
	f.feed(t, 300, 300)
	require.NoError(t, f.l.Pause())

	require.Eventually(t, func() bool { return model.callCount() == 1 }, 2*time.Second, time.Millisecond)
	assert.Len(t, model.calls[0], 300)
	require.Eventually(t, func() bool {
		rec, err := f.cat.Get("r2")
		return err == nil && rec.LabelText() == "second"
	}, 2*time.Second, time.Millisecond)
	_, err := f.cat.Get("r1")
	assert.ErrorIs(t, err, catalog.ErrNotFound)
}

func TestListener_ChildFailureIsObservable(t *testing.T) {
	model := &fakeModel{panic: true}
	f := newFixture(t, model)

	f.play(t, "r1")
	f.feed(t, 100, 100)
	require.NoError(t, f.l.Pause())

	require.Eventually(t, func() bool { return f.l.Err() != nil }, 2*time.Second, time.Millisecond)
	var pe *worker.PanicError
	assert.True(t, errors.As(f.l.Err(), &pe))
	require.Eventually(t, func() bool { return f.errCount() == 1 }, 2*time.Second, time.Millisecond)

	// The next window cannot be handed off.
	f.play(t, "r2")
	f.feed(t, 100, 100)
	require.NoError(t, f.l.Pause())
	require.Eventually(t, func() bool { return f.errCount() == 2 }, 2*time.Second, time.Millisecond)
	f.mu.Lock()
	defer f.mu.Unlock()
	assert.ErrorIs(t, f.errs[1], worker.ErrDisconnected)
}

func TestNew_InputFailure(t *testing.T) {
	host := audiotest.NewHost()
	host.FailInput = true
	_, err := New(Options{Host: host, Log: zerolog.Nop()})
	assert.Error(t, err)
}
