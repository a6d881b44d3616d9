package smarthttp

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/smartdl/smartdl/internal/config"
	"github.com/smartdl/smartdl/internal/filetype"
	"github.com/smartdl/smartdl/internal/output"
	"github.com/smartdl/smartdl/internal/progress"
	"github.com/smartdl/smartdl/internal/scheduler"
	"github.com/smartdl/smartdl/internal/utils"
)

type State string

const (
	StateIdle         State = "idle"
	StateSizing       State = "sizing"
	StateSpeedTesting State = "speed-testing"
	StatePlanning     State = "planning"
	StateFetching     State = "fetching"
	StateMerging      State = "merging"
	StateCompleted    State = "completed"
	StateCancelled    State = "cancelled"
	StateFailed       State = "failed"
)

type Options struct {
	URL          string
	OutputPath   string // derived from the URL when empty
	Config       config.Config
	Out          io.Writer // status lines and the progress bar; nil discards them
	ShowProgress bool
}

// Session downloads one URL to one output file. It is single use.
type Session struct {
	id           string
	url          string
	outputPath   string
	workDir      string
	cfg          config.Config
	out          io.Writer
	showProgress bool
	log          zerolog.Logger

	mu              sync.Mutex
	state           State
	started         bool
	cancelRequested bool
	cancel          context.CancelFunc
	agg             *progress.Aggregator
	done            chan struct{}
}

// NewSession validates the URL and settings and resolves the output path, picking a
// "name copy N" variant when the target already exists.
func NewSession(opts Options) (*Session, error) {
	if _, err := utils.ValidateURL(opts.URL); err != nil {
		return nil, err
	}
	if err := opts.Config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	outputPath := opts.OutputPath
	if outputPath == "" {
		outputPath = utils.OutputNameFromURL(opts.URL)
	}
	outputPath = utils.RenewOutputPath(outputPath)
	out := opts.Out
	if out == nil {
		out = io.Discard
	}
	id := uuid.NewString()
	return &Session{
		id:           id,
		url:          opts.URL,
		outputPath:   outputPath,
		workDir:      utils.WorkDirFor(outputPath),
		cfg:          opts.Config,
		out:          out,
		showProgress: opts.ShowProgress,
		log:          utils.GetLogger("http/session").With().Str("session", id).Logger(),
		state:        StateIdle,
		done:         make(chan struct{}),
	}, nil
}

func (s *Session) ID() string         { return s.id }
func (s *Session) OutputPath() string { return s.outputPath }
func (s *Session) WorkDir() string    { return s.workDir }

func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Progress returns the latest counters, or a zero snapshot before fetching starts.
func (s *Session) Progress() progress.Snapshot {
	s.mu.Lock()
	agg := s.agg
	s.mu.Unlock()
	if agg == nil {
		return progress.Snapshot{}
	}
	return agg.Snapshot()
}

// Cancel stops the session and waits until every fetcher has returned. Partial files stay
// on disk. Cancelling before Run makes Run return Cancelled straight away.
func (s *Session) Cancel() {
	s.mu.Lock()
	s.cancelRequested = true
	cancel, started := s.cancel, s.started
	s.mu.Unlock()
	if !started {
		return
	}
	cancel()
	<-s.done
}

// Run drives the session to a terminal state.
func (s *Session) Run(ctx context.Context) utils.Result {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return utils.Result{Outcome: utils.OutcomeFailed, OutputPath: s.outputPath, Err: errors.New("session already started")}
	}
	s.started = true
	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	if s.cancelRequested {
		cancel()
	}
	s.mu.Unlock()
	defer close(s.done)
	defer cancel()

	startTime := time.Now()
	s.log.Info().Str("url", s.url).Str("output", s.outputPath).Msg("Session started")
	result := s.run(ctx)
	s.log.Info().Str("outcome", result.Outcome.String()).Int64("bytes", result.Bytes).
		Dur("elapsed", time.Since(startTime)).Err(result.Err).Msg("Session finished")
	return result
}

func (s *Session) run(ctx context.Context) utils.Result {
	output.PrintHeader(s.out, "Starting smart download")
	output.PrintDetail(s.out, "URL: "+s.url)
	output.PrintDetail(s.out, "Output: "+s.outputPath)

	s.setState(StateSizing)
	client := utils.NewClient(s.cfg.HTTPClientConfig(0))
	defer client.CloseIdleConnections()
	info, err := GetFileInfo(ctx, s.url, client)
	if ctx.Err() != nil {
		return s.cancelled(0)
	}
	if err != nil && !errors.Is(err, utils.ErrSizeUnknown) {
		return s.fail(err, 0)
	}
	if info.Size <= 0 {
		output.PrintWarning(s.out, "Could not determine file size, using single connection")
		return s.runSingle(ctx, client, info)
	}
	output.PrintInfo(s.out, "File size: "+output.FormatBytes(info.Size))
	s.log.Debug().Int64("size", info.Size).Str("content_type", info.ContentType).Bool("ranges", info.RangeSupported).Msg("Remote file sized")
	if !info.RangeSupported {
		output.PrintWarning(s.out, "Server does not support range requests, using single connection")
		return s.runSingle(ctx, client, info)
	}

	connections := s.chooseConnections(ctx, client, info.Size)
	if ctx.Err() != nil {
		return s.cancelled(0)
	}
	return s.runChunked(ctx, info.Size, connections)
}

// chooseConnections returns the chunk count of an interrupted run, the pinned count, or the
// speed probe's pick, in that order. Chunk files are only valid for the plan that wrote them,
// so an interrupted run always wins over a different pinned count.
func (s *Session) chooseConnections(ctx context.Context, client *utils.Client, totalBytes int64) int {
	if existing := utils.ExistingChunkCount(s.workDir); existing > 0 {
		if s.cfg.Connections > 0 && s.cfg.Connections != existing {
			output.PrintWarning(s.out, fmt.Sprintf("Ignoring %d connections: resuming a previous run that used %d (use --clean to start over)",
				s.cfg.Connections, existing))
			s.log.Warn().Int("pinned", s.cfg.Connections).Int("existing", existing).Msg("Pinned connections differ from chunk files on disk")
		} else {
			output.PrintInfo(s.out, fmt.Sprintf("Resuming with %d connections from a previous run", existing))
		}
		return existing
	}
	if s.cfg.Connections > 0 {
		output.PrintInfo(s.out, fmt.Sprintf("Using user-specified connections: %d", s.cfg.Connections))
		return s.cfg.Connections
	}
	s.setState(StateSpeedTesting)
	output.PrintPending(s.out, "Quick connection speed test...")
	probe := &SpeedProbe{
		Client:     client,
		Candidates: s.cfg.ProbeCandidates,
		Bytes:      s.cfg.ProbeBytes,
		Timeout:    s.cfg.ProbeTimeout,
		Fallback:   s.cfg.DefaultConnections,
	}
	best, results := probe.Run(ctx, s.url, totalBytes)
	for _, r := range results {
		if r.Err != nil {
			output.PrintDetail(s.out, fmt.Sprintf("%d connection(s): failed (%v)", r.Connections, r.Err))
			continue
		}
		output.PrintDetail(s.out, fmt.Sprintf("%d connection(s): %s", r.Connections, output.FormatSpeed(r.Speed)))
	}
	output.PrintSuccess(s.out, fmt.Sprintf("Optimal connections: %d", best))
	return best
}

func (s *Session) runChunked(ctx context.Context, totalBytes int64, connections int) utils.Result {
	s.setState(StatePlanning)
	chunks, err := PlanChunks(totalBytes, connections, s.workDir)
	if err != nil {
		return s.fail(err, 0)
	}
	if err := os.MkdirAll(s.workDir, 0755); err != nil {
		return s.fail(fmt.Errorf("error creating working directory: %w", err), 0)
	}

	var pending []utils.ChunkSpec
	var initialBytes int64
	offsets := make(map[int]int64)
	completed := 0
	for _, chunk := range chunks {
		state := InspectChunk(chunk)
		switch {
		case state.Complete:
			completed++
			initialBytes += chunk.Length()
		case state.BytesOnDisk > 0:
			initialBytes += state.BytesOnDisk
			offsets[chunk.Index] = state.BytesOnDisk
			pending = append(pending, chunk)
		default:
			if err := touch(chunk.Path); err != nil {
				return s.fail(fmt.Errorf("error creating chunk file: %w", err), 0)
			}
			pending = append(pending, chunk)
		}
		s.log.Debug().Int("chunk", chunk.Index).Int64("on_disk", state.BytesOnDisk).Bool("complete", state.Complete).Msg("Chunk inspected")
	}
	if initialBytes > 0 {
		output.PrintInfo(s.out, fmt.Sprintf("Resuming download: %s already on disk (%d/%d chunks complete)",
			output.FormatBytes(initialBytes), completed, len(chunks)))
	}

	workers := min(len(chunks), s.cfg.MaxConnections)
	fetchClient := utils.NewClient(s.cfg.HTTPClientConfig(workers))
	defer fetchClient.CloseIdleConnections()

	s.setState(StateFetching)
	output.PrintPending(s.out, fmt.Sprintf("Starting download with %d connection(s)...", workers))
	agg := s.startAggregator(progress.Options{
		TotalBytes:      totalBytes,
		InitialBytes:    initialBytes,
		ChunkOffsets:    offsets,
		TotalChunks:     len(chunks),
		CompletedChunks: completed,
	})
	fetcher := &ChunkFetcher{
		Client:            fetchClient,
		URL:               s.url,
		Attempts:          s.cfg.Retries,
		RetryBackoff:      s.cfg.RetryBackoff,
		InactivityTimeout: s.cfg.InactivityTimeout,
		Emit:              agg.Emit,
	}
	tasks := make([]scheduler.Task, 0, len(pending))
	for _, chunk := range pending {
		tasks = append(tasks, func(ctx context.Context) error {
			return fetcher.Fetch(ctx, chunk)
		})
	}
	err = scheduler.Run(ctx, tasks, workers)
	snap := s.stopAggregator(agg)

	if ctx.Err() != nil {
		return s.cancelled(snap.DownloadedBytes)
	}
	if err != nil {
		return s.fail(err, snap.DownloadedBytes)
	}
	for _, chunk := range chunks {
		if !InspectChunk(chunk).Complete {
			return s.fail(&utils.ChunkFetchError{Index: chunk.Index, Cause: errors.New("chunk incomplete after fetch")}, snap.DownloadedBytes)
		}
	}

	s.setState(StateMerging)
	output.PrintPending(s.out, "Merging chunks...")
	written, err := MergeChunks(ctx, chunks, s.outputPath)
	if ctx.Err() != nil {
		return s.cancelled(snap.DownloadedBytes)
	}
	if err != nil {
		return s.fail(err, snap.DownloadedBytes)
	}
	if err := removeChunks(chunks, s.workDir); err != nil {
		s.log.Warn().Err(err).Str("dir", s.workDir).Msg("Could not remove working directory")
	}
	return s.complete(written)
}

func (s *Session) runSingle(ctx context.Context, client *utils.Client, info FileInfo) utils.Result {
	s.setState(StateFetching)
	if err := os.MkdirAll(s.workDir, 0755); err != nil {
		return s.fail(fmt.Errorf("error creating working directory: %w", err), 0)
	}
	partialPath := utils.SinglePartialPath(s.workDir)
	onDisk := fileSize(partialPath)
	if onDisk > 0 {
		output.PrintInfo(s.out, "Resuming download from "+output.FormatBytes(onDisk))
	}
	agg := s.startAggregator(progress.Options{
		TotalBytes:   info.Size,
		InitialBytes: onDisk,
		ChunkOffsets: map[int]int64{0: onDisk},
		TotalChunks:  1,
	})
	fetcher := &StreamFetcher{
		Client:            client,
		URL:               s.url,
		Attempts:          s.cfg.Retries,
		RetryBackoff:      s.cfg.RetryBackoff,
		InactivityTimeout: s.cfg.InactivityTimeout,
		Emit:              agg.Emit,
	}
	written, err := fetcher.Fetch(ctx, partialPath)
	snap := s.stopAggregator(agg)
	if ctx.Err() != nil {
		return s.cancelled(snap.DownloadedBytes)
	}
	if err != nil {
		return s.fail(err, snap.DownloadedBytes)
	}

	s.setState(StateMerging)
	if err := os.Rename(partialPath, s.outputPath); err != nil {
		return s.fail(fmt.Errorf("%w: error finalizing output file: %v", utils.ErrMergeFailed, err), written)
	}
	if err := os.RemoveAll(s.workDir); err != nil {
		s.log.Warn().Err(err).Str("dir", s.workDir).Msg("Could not remove working directory")
	}
	return s.complete(written)
}

func (s *Session) startAggregator(opts progress.Options) *progress.Aggregator {
	opts.RenderInterval = s.cfg.RenderInterval
	opts.Render = s.render
	agg := progress.NewAggregator(opts)
	s.mu.Lock()
	s.agg = agg
	s.mu.Unlock()
	agg.Start()
	return agg
}

func (s *Session) stopAggregator(agg *progress.Aggregator) progress.Snapshot {
	snap := agg.Close()
	if s.showProgress {
		fmt.Fprintln(s.out)
	}
	return snap
}

func (s *Session) render(snap progress.Snapshot) {
	if !s.showProgress {
		return
	}
	fmt.Fprintf(s.out, "\r%s\033[K", snap.Line(output.TerminalWidth()))
}

func (s *Session) complete(written int64) utils.Result {
	finalPath := s.outputPath
	renamed, label, err := filetype.FixExtension(s.outputPath)
	if err != nil {
		s.log.Warn().Err(err).Msg("File type detection failed")
	} else {
		if renamed != s.outputPath {
			output.PrintInfo(s.out, "Detected file type: "+strings.ToUpper(label))
		}
		finalPath = renamed
	}
	s.setState(StateCompleted)
	output.PrintSuccess(s.out, "Download completed: "+finalPath)
	return utils.Result{Outcome: utils.OutcomeCompleted, OutputPath: finalPath, Bytes: written}
}

func (s *Session) fail(err error, downloaded int64) utils.Result {
	s.setState(StateFailed)
	output.PrintError(s.out, "Download failed: "+err.Error())
	return utils.Result{Outcome: utils.OutcomeFailed, OutputPath: s.outputPath, Bytes: downloaded, Err: err}
}

func (s *Session) cancelled(downloaded int64) utils.Result {
	s.setState(StateCancelled)
	output.PrintWarning(s.out, "Download cancelled, partial data kept in "+s.workDir)
	return utils.Result{Outcome: utils.OutcomeCancelled, OutputPath: s.outputPath, Bytes: downloaded, Err: utils.ErrCancelled}
}

func (s *Session) setState(state State) {
	s.mu.Lock()
	prev := s.state
	s.state = state
	s.mu.Unlock()
	s.log.Debug().Str("from", string(prev)).Str("to", string(state)).Msg("State change")
}
