// Package player plays stored recordings on the default output device.
//
// The control goroutine owns the sink and the loaded id. Decoding happens on
// a separate loader goroutine so a slow read never delays Pause, and a
// ticker feeds end-of-track checks back into the control loop.
package player

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"github.com/snarg/memo-engine/internal/audio"
	"github.com/snarg/memo-engine/internal/metrics"
	"github.com/snarg/memo-engine/internal/pipeline"
	"github.com/snarg/memo-engine/internal/worker"
)

const defaultTick = 20 * time.Millisecond

// Reader loads stored recordings.
type Reader interface {
	Read(ctx context.Context, id string) (*audio.Track, error)
}

// Marker flips a recording's playback flag. Unknown ids are ignored.
type Marker interface {
	SetPlaying(id string, playing bool) (bool, error)
}

// Options configures a Player.
type Options struct {
	Host       audio.Host
	Catalog    Marker
	Recordings Reader

	// TickInterval is how often the end-of-track check runs.
	TickInterval time.Duration

	// OnError receives load and catalog failures. It runs on the player's
	// goroutines.
	OnError func(id string, err error)

	Log zerolog.Logger
}

// Player is the handle to the playback pipeline.
type Player struct {
	h      *worker.Handle[message]
	loader *worker.Handle[loadRequest]
	reader Reader
	sink   *audio.Sink
	log    zerolog.Logger

	stopTick chan struct{}
	tickDone chan struct{}
	ticking  atomic.Bool

	loads atomic.Int64
}

// message is what the control loop receives: a caller command, a finished
// load, or an end-of-track tick.
type message struct {
	cmd    *pipeline.Command
	loaded *loadResult
	tick   bool
}

type loadRequest struct {
	id  string
	gen uint64
}

type loadResult struct {
	id    string
	gen   uint64
	track *audio.Track
	err   error
}

type state struct {
	p    *Player
	opts Options
	sink *audio.Sink
	log  zerolog.Logger

	loaded string
	gen    uint64 // bumped whenever the loaded id changes; stale loads are dropped
	length int    // sink samples of the loaded track, -1 while loading
}

// New opens the default output device and starts the player goroutines.
func New(opts Options) (*Player, error) {
	log := opts.Log
	sink, err := audio.NewSink(opts.Host, func(err error) {
		log.Error().Err(err).Msg("output stream error")
	})
	if err != nil {
		return nil, err
	}

	p := &Player{
		reader:   opts.Recordings,
		sink:     sink,
		log:      log,
		stopTick: make(chan struct{}),
		tickDone: make(chan struct{}),
	}
	p.loader = worker.Setup(p, (*Player).load)
	p.h = worker.Setup(&state{
		p:      p,
		opts:   opts,
		sink:   sink,
		log:    log,
		length: -1,
	}, run)

	interval := opts.TickInterval
	if interval <= 0 {
		interval = defaultTick
	}
	go p.tickLoop(interval)

	spec := sink.Spec()
	log.Info().
		Int("channels", spec.Channels).
		Int("sample_rate", spec.SampleRate).
		Msg("player ready")
	return p, nil
}

// Trigger queues a command for the player.
func (p *Player) Trigger(cmd pipeline.Command) error {
	return p.h.Trigger(message{cmd: &cmd})
}

// Play starts or resumes playback of id.
func (p *Player) Play(id string) error {
	return p.Trigger(pipeline.Play(id))
}

// Pause pauses playback and marks id as not playing.
func (p *Player) Pause(id string) error {
	return p.Trigger(pipeline.Pause(id))
}

// PauseAll pauses playback without touching the catalog.
func (p *Player) PauseAll() error {
	return p.Trigger(pipeline.PauseAll())
}

// Loads returns the number of tracks handed to the loader.
func (p *Player) Loads() int64 { return p.loads.Load() }

// Done is closed when the control goroutine has exited.
func (p *Player) Done() <-chan struct{} { return p.h.Done() }

// Err returns the panic that ended the control goroutine, if any.
func (p *Player) Err() error { return p.h.Err() }

// Close stops all player goroutines and releases the device.
func (p *Player) Close() {
	close(p.stopTick)
	<-p.tickDone
	p.h.Close()
	<-p.h.Done()
	p.loader.Close()
	<-p.loader.Done()
	if err := p.sink.Close(); err != nil {
		p.log.Warn().Err(err).Msg("failed to close output stream")
	}
}

func (p *Player) tickLoop(interval time.Duration) {
	defer close(p.tickDone)
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-p.stopTick:
			return
		case <-t.C:
			// At most one tick waits in the mailbox at a time.
			if !p.ticking.CompareAndSwap(false, true) {
				continue
			}
			if err := p.h.Trigger(message{tick: true}); err != nil {
				return
			}
		}
	}
}

// load runs on the loader goroutine. Results go back to the control loop,
// which alone touches the sink.
func (p *Player) load(in *worker.Inbox[loadRequest]) {
	for {
		req, err := in.Recv()
		if err != nil {
			return
		}
		res := &loadResult{id: req.id, gen: req.gen}
		res.track, res.err = p.read(req.id)
		if err := p.h.Trigger(message{loaded: res}); err != nil {
			return
		}
	}
}

func (p *Player) read(id string) (*audio.Track, error) {
	track, err := p.reader.Read(context.Background(), id)
	if err != nil {
		return nil, err
	}
	if track.Spec.Channels <= 0 {
		return nil, fmt.Errorf("recording %s has no channels", id)
	}
	return track, nil
}

func run(st *state, in *worker.Inbox[message]) {
	for {
		msg, err := in.Recv()
		if err != nil {
			return
		}
		switch {
		case msg.cmd != nil:
			switch msg.cmd.Kind {
			case pipeline.KindPlay:
				st.play(msg.cmd.ID)
			case pipeline.KindPause:
				st.pause(*msg.cmd)
			}
		case msg.loaded != nil:
			st.finishLoad(msg.loaded)
		case msg.tick:
			st.p.ticking.Store(false)
			st.checkEnd()
		}
	}
}

func (st *state) play(id string) {
	if st.loaded != "" && st.loaded != id {
		st.pauseSink()
		st.sink.Stop()
		st.mark(st.loaded, false)
		st.log.Debug().Str("id", st.loaded).Str("next", id).Msg("switching track")
		st.unload()
	}

	st.mark(id, true)

	if st.loaded != id {
		st.sink.Stop()
		st.gen++
		st.loaded = id
		st.length = -1
		st.p.loads.Add(1)
		if err := st.p.loader.Trigger(loadRequest{id: id, gen: st.gen}); err != nil {
			st.fail(id, fmt.Errorf("loader: %w", err))
			return
		}
	}

	if err := st.sink.Play(); err != nil {
		st.log.Error().Err(err).Str("id", id).Msg("failed to start output stream")
	}
}

func (st *state) pause(cmd pipeline.Command) {
	st.pauseSink()
	if cmd.HasID {
		st.mark(cmd.ID, false)
	}
}

func (st *state) finishLoad(res *loadResult) {
	if res.gen != st.gen || res.id != st.loaded {
		return
	}
	if res.err != nil {
		metrics.PlaybackLoadsTotal.WithLabelValues("failed").Inc()
		st.fail(res.id, res.err)
		return
	}
	metrics.PlaybackLoadsTotal.WithLabelValues("ok").Inc()
	st.length = st.sink.Append(res.track)
	st.log.Debug().
		Str("id", res.id).
		Dur("length", res.track.Duration()).
		Msg("track loaded")
}

// checkEnd marks the loaded track finished once the sink has played all of
// its samples. The id is forgotten so a later Play starts from the top.
func (st *state) checkEnd() {
	if st.loaded == "" || st.length < 0 {
		return
	}
	if st.sink.Position() < st.length {
		return
	}
	id := st.loaded
	st.pauseSink()
	st.mark(id, false)
	st.unload()
	st.log.Debug().Str("id", id).Msg("playback finished")
}

func (st *state) fail(id string, err error) {
	st.log.Error().Err(err).Str("id", id).Msg("failed to load recording")
	st.mark(id, false)
	if st.loaded == id {
		st.unload()
	}
	if st.opts.OnError != nil {
		st.opts.OnError(id, err)
	}
}

func (st *state) unload() {
	st.loaded = ""
	st.length = -1
	st.gen++
}

func (st *state) pauseSink() {
	if err := st.sink.Pause(); err != nil {
		st.log.Error().Err(err).Msg("failed to pause output stream")
	}
}

func (st *state) mark(id string, playing bool) {
	if _, err := st.opts.Catalog.SetPlaying(id, playing); err != nil {
		st.log.Error().Err(err).Str("id", id).Bool("playing", playing).Msg("failed to update catalog")
		if st.opts.OnError != nil {
			st.opts.OnError(id, err)
		}
	}
}
