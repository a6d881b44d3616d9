package progress

import (
	"math"
	"sync"
	"time"
)

type EventKind int

const (
	EventProgress EventKind = iota
	EventChunkDone
	EventChunkFailed
)

// Event is emitted by fetchers. ChunkTotal is the running byte count of the chunk
// including bytes that were already on disk.
type Event struct {
	Chunk      int
	Kind       EventKind
	Bytes      int64
	ChunkTotal int64
	Err        error
}

// Options configures an Aggregator. TotalBytes <= 0 means the size is unknown.
// ChunkOffsets holds the bytes already on disk per chunk; they are part of InitialBytes.
type Options struct {
	TotalBytes      int64
	InitialBytes    int64
	ChunkOffsets    map[int]int64
	TotalChunks     int
	CompletedChunks int
	RenderInterval  time.Duration
	Render          func(Snapshot)
	Now             func() time.Time
	Buffer          int
}

// Aggregator is the only writer of the session counters. Producers call Emit; a single
// goroutine applies events and throttles rendering.
type Aggregator struct {
	opts   Options
	events chan Event
	done   chan struct{}

	mu          sync.RWMutex
	snap        Snapshot
	startTime   time.Time
	chunkTotals map[int]int64
	lastRender  time.Time
	closeOnce   sync.Once
}

func NewAggregator(opts Options) *Aggregator {
	if opts.RenderInterval <= 0 {
		opts.RenderInterval = 100 * time.Millisecond
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Buffer <= 0 {
		opts.Buffer = 256
	}
	a := &Aggregator{
		opts:        opts,
		events:      make(chan Event, opts.Buffer),
		done:        make(chan struct{}),
		chunkTotals: make(map[int]int64, len(opts.ChunkOffsets)),
	}
	for chunk, onDisk := range opts.ChunkOffsets {
		a.chunkTotals[chunk] = onDisk
	}
	a.snap = Snapshot{
		TotalBytes:          opts.TotalBytes,
		DownloadedBytes:     opts.InitialBytes,
		InitialBytesResumed: opts.InitialBytes,
		TotalChunks:         opts.TotalChunks,
		CompletedChunks:     opts.CompletedChunks,
	}
	return a
}

// Start marks the session start time and launches the consumer.
func (a *Aggregator) Start() {
	a.mu.Lock()
	a.startTime = a.opts.Now()
	a.snap = a.compute(a.snap)
	a.mu.Unlock()
	go a.loop()
}

func (a *Aggregator) Emit(ev Event) {
	a.events <- ev
}

// Close drains pending events, renders once more and returns the final snapshot.
func (a *Aggregator) Close() Snapshot {
	a.closeOnce.Do(func() {
		close(a.events)
	})
	<-a.done
	snap := a.Snapshot()
	if a.opts.Render != nil {
		a.opts.Render(snap)
	}
	return snap
}

func (a *Aggregator) Snapshot() Snapshot {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.snap
}

func (a *Aggregator) loop() {
	defer close(a.done)
	for ev := range a.events {
		a.mu.Lock()
		a.apply(ev)
		a.snap = a.compute(a.snap)
		snap := a.snap
		render := false
		now := a.opts.Now()
		if now.Sub(a.lastRender) >= a.opts.RenderInterval {
			a.lastRender = now
			render = true
		}
		a.mu.Unlock()
		if render && a.opts.Render != nil {
			a.opts.Render(snap)
		}
	}
}

func (a *Aggregator) apply(ev Event) {
	switch ev.Kind {
	case EventProgress:
		if ev.Bytes > 0 || ev.ChunkTotal > 0 {
			a.snap.Started = true
		}
		// only increases count, a chunk restarted from zero catches up silently
		if grown := ev.ChunkTotal - a.chunkTotals[ev.Chunk]; grown > 0 {
			a.chunkTotals[ev.Chunk] = ev.ChunkTotal
			a.snap.DownloadedBytes += grown
		}
	case EventChunkDone:
		a.snap.CompletedChunks++
	case EventChunkFailed:
		a.snap.FailedChunks++
	}
}

func (a *Aggregator) compute(s Snapshot) Snapshot {
	elapsed := a.opts.Now().Sub(a.startTime)
	return Compute(s, elapsed)
}

// Compute derives percentage, speed and ETA from the raw counters.
func Compute(s Snapshot, elapsed time.Duration) Snapshot {
	s.Elapsed = elapsed
	s.PercentKnown = s.TotalBytes > 0
	s.Percentage = 0
	if s.PercentKnown {
		s.Percentage = math.Min(float64(s.DownloadedBytes)/float64(s.TotalBytes), 1.0) * 100
	}
	s.Speed, s.SpeedKnown = 0, false
	s.ETA, s.ETAKnown = 0, false
	fresh := s.DownloadedBytes - s.InitialBytesResumed
	secs := elapsed.Seconds()
	if secs <= 0 || fresh <= 0 {
		return s
	}
	s.Speed = float64(fresh) / secs
	s.SpeedKnown = true
	if !s.PercentKnown || s.Speed <= 0 || math.IsInf(s.Speed, 0) || math.IsNaN(s.Speed) {
		return s
	}
	eta := float64(s.TotalBytes-s.DownloadedBytes) / s.Speed
	if math.IsInf(eta, 0) || math.IsNaN(eta) || eta < 0 {
		return s
	}
	if eta < 1 {
		eta = 0
	}
	s.ETA = time.Duration(eta * float64(time.Second))
	s.ETAKnown = true
	return s
}
