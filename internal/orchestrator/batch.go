// Package orchestrator drives batches of generation jobs: it derives one seed
// per iteration, submits the merged graph for each iteration in turn and folds
// the job events into BatchState snapshots, with cooperative skip and stop.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/simplui/simplui/internal/comfy"
	"github.com/simplui/simplui/internal/events"
	"github.com/simplui/simplui/internal/metrics"
	"github.com/simplui/simplui/internal/workflow"
	"go.uber.org/zap"
)

const defaultCancelTimeout = 5 * time.Second

// ErrInvalidRequest is returned by Start for unusable requests.
var ErrInvalidRequest = errors.New("invalid batch request")

// Request describes one batch.
type Request struct {
	// SessionID tags emitted events and logs.
	SessionID string

	Template   workflow.Graph
	Prompt     string
	Overrides  workflow.Overrides
	BatchCount int
	// SeedMax bounds randomized base seeds and derived iteration seeds. Zero
	// means the full 64-bit range.
	SeedMax uint64
	// Info is the engine's schema for the template's node types, if known.
	Info workflow.ObjectInfo
}

// Orchestrator starts batches against one engine.
type Orchestrator struct {
	engine        Engine
	logger        *zap.Logger
	cancelTimeout time.Duration

	rngMu sync.Mutex
	rng   *rand.Rand
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(o *Orchestrator) { o.logger = l }
}

// WithRand sets the source of randomized base seeds.
func WithRand(r *rand.Rand) Option {
	return func(o *Orchestrator) { o.rng = r }
}

// WithCancelTimeout bounds the interrupt and clear-queue calls made on skip
// and stop.
func WithCancelTimeout(d time.Duration) Option {
	return func(o *Orchestrator) { o.cancelTimeout = d }
}

// New returns an orchestrator for engine.
func New(engine Engine, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		engine:        engine,
		logger:        zap.NewNop(),
		cancelTimeout: defaultCancelTimeout,
		rng:           rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64())),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// forSession returns the orchestrator a new session runs on. Engines that
// implement SessionEngine get a per-session engine; others are shared.
func (o *Orchestrator) forSession() *Orchestrator {
	se, ok := o.engine.(SessionEngine)
	if !ok {
		return o
	}
	return &Orchestrator{
		engine:        se.ForSession(),
		logger:        o.logger,
		cancelTimeout: o.cancelTimeout,
		rng:           rand.New(rand.NewPCG(o.drawSeed(0), o.drawSeed(0))),
	}
}

func (o *Orchestrator) drawSeed(limit uint64) uint64 {
	o.rngMu.Lock()
	defer o.rngMu.Unlock()
	return drawSeed(o.rng, limit)
}

// Batch is a running batch. States are delivered on States in order; the
// channel is closed when the batch ends.
type Batch struct {
	o      *Orchestrator
	req    Request
	logger *zap.Logger

	states chan State
	done   chan struct{}

	stopCtx context.Context
	stop    context.CancelFunc
	// sendMu serialises state delivery against Stop.
	sendMu sync.Mutex

	mu         sync.Mutex
	cancelIter context.CancelFunc

	overrides workflow.Overrides
	seeds     []SeedField
	sequences [][]uint64

	final State
	err   error
}

// Start validates req, resolves seeds and runs the batch in the background.
// Randomized seeds are drawn once here and pinned into the batch's overrides.
func (o *Orchestrator) Start(ctx context.Context, req Request) (*Batch, error) {
	if len(req.Template) == 0 {
		return nil, fmt.Errorf("%w: empty workflow", ErrInvalidRequest)
	}
	if req.BatchCount < 1 {
		return nil, fmt.Errorf("%w: batch count %d", ErrInvalidRequest, req.BatchCount)
	}

	overrides := req.Overrides.Clone()
	seeds := SeedFields(req.Template, overrides, req.Info)
	sequences := make([][]uint64, len(seeds))
	for i := range seeds {
		if seeds[i].Randomize {
			seeds[i].Base = o.drawSeed(req.SeedMax)
			overrides[seeds[i].Key()] = seeds[i].Base
		}
		sequences[i] = DeriveSeeds(seeds[i].Base, req.BatchCount, req.SeedMax)
	}

	stopCtx, stop := context.WithCancel(context.WithoutCancel(ctx))
	b := &Batch{
		o:         o,
		req:       req,
		logger:    o.logger.With(zap.String("session_id", req.SessionID)),
		states:    make(chan State),
		done:      make(chan struct{}),
		stopCtx:   stopCtx,
		stop:      stop,
		overrides: overrides,
		seeds:     seeds,
		sequences: sequences,
	}
	go b.run()
	return b, nil
}

// States returns the snapshot stream. A consumer must keep receiving until
// the channel closes or call Stop.
func (b *Batch) States() <-chan State { return b.states }

// Done is closed when the batch has finished.
func (b *Batch) Done() <-chan struct{} { return b.done }

// Overrides returns the batch overrides with randomized seeds pinned.
func (b *Batch) Overrides() workflow.Overrides { return b.overrides.Clone() }

// Seeds returns the resolved seed fields with their base seeds.
func (b *Batch) Seeds() []SeedField { return append([]SeedField(nil), b.seeds...) }

// Skip abandons the iteration in flight and moves on to the next one. It is
// a no-op when no iteration is running.
func (b *Batch) Skip() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.cancelIter != nil {
		b.cancelIter()
	}
}

// Stop abandons the rest of the batch. Once Stop returns no further states
// are delivered; the final state is available from Wait.
func (b *Batch) Stop() {
	b.stop()
	b.sendMu.Lock()
	//nolint:staticcheck // empty critical section waits out an in-flight delivery
	b.sendMu.Unlock()
}

// Wait blocks until the batch finished and returns its final state and the
// error that ended it, if any.
func (b *Batch) Wait() (State, error) {
	<-b.done
	return b.final, b.err
}

func (b *Batch) publish(st State) {
	b.sendMu.Lock()
	defer b.sendMu.Unlock()
	if b.stopCtx.Err() != nil {
		return
	}
	select {
	case b.states <- st.snapshot():
	case <-b.stopCtx.Done():
	}
}

func (b *Batch) setIteration(cancel context.CancelFunc) {
	b.mu.Lock()
	b.cancelIter = cancel
	b.mu.Unlock()
}

func (b *Batch) emit(level, name string, fields map[string]interface{}) {
	if fields == nil {
		fields = map[string]interface{}{}
	}
	fields["session_id"] = b.req.SessionID
	if _, err := events.Emit(level, name, "", fields); err != nil {
		b.logger.Error("emit event failed", zap.String("event", name), zap.Error(err))
	}
}

func (b *Batch) run() {
	defer close(b.done)
	defer close(b.states)
	defer b.stop()

	metrics.ActiveBatches.Inc()
	defer metrics.ActiveBatches.Dec()

	n := b.req.BatchCount
	st := State{BatchCount: n, Phase: PhaseRunning, BaseSeeds: map[string]uint64{}}
	for _, sf := range b.seeds {
		st.BaseSeeds[sf.Key()] = sf.Base
	}

	b.logger.Info("batch started", zap.Int("batch_count", n), zap.Int("seed_fields", len(b.seeds)))
	b.emit("info", "batch.started", map[string]interface{}{"batch_count": n, "base_seeds": st.BaseSeeds})

	for i := 0; i < n; i++ {
		if b.stopCtx.Err() != nil {
			break
		}

		st.Iteration = i + 1
		st.Progress, st.ProgressMax = 0, 0
		st.Preview = nil
		st.Seeds = b.iterationSeeds(i)
		st.startingStatus()
		b.publish(st)

		iterCtx, cancel := context.WithCancel(b.stopCtx)
		b.setIteration(cancel)
		started := time.Now()
		outputs, err := b.iteration(iterCtx, &st)
		b.setIteration(nil)
		skipped := err != nil && iterCtx.Err() != nil
		cancel()

		switch {
		case err == nil:
			st.Completed = append(st.Completed, outputs...)
			st.Preview = nil
			st.iterationDoneStatus()
			metrics.Iterations.WithLabelValues("completed").Inc()
			metrics.IterationDuration.Observe(time.Since(started).Seconds())
			b.emit("info", "iteration.completed", map[string]interface{}{"iteration": st.Iteration, "outputs": len(outputs)})
			b.publish(st)

		case b.stopCtx.Err() != nil:
			// Handled after the loop.

		case skipped:
			b.cancelRemote(st.Iteration, false)
			st.Preview = nil
			st.skippedStatus()
			metrics.Iterations.WithLabelValues("skipped").Inc()
			b.logger.Info("iteration skipped", zap.Int("iteration", st.Iteration))
			b.emit("info", "iteration.skipped", map[string]interface{}{"iteration": st.Iteration})
			b.publish(st)

		default:
			b.fail(&st, err)
			return
		}
	}

	if b.stopCtx.Err() != nil {
		b.cancelRemote(st.Iteration, true)
		st.Preview = nil
		st.Status = "Stopped"
		st.Phase = PhaseStopped
		metrics.Batches.WithLabelValues("stopped").Inc()
		b.logger.Info("batch stopped", zap.Int("iteration", st.Iteration), zap.Int("completed", len(st.Completed)))
		b.emit("info", "batch.stopped", map[string]interface{}{"iteration": st.Iteration, "completed": len(st.Completed)})
		b.final = st.snapshot()
		return
	}

	st.Preview = nil
	st.Status = "Generation complete"
	st.Phase = PhaseCompleted
	metrics.Batches.WithLabelValues("completed").Inc()
	b.logger.Info("batch completed", zap.Int("completed", len(st.Completed)))
	b.emit("info", "batch.completed", map[string]interface{}{"completed": len(st.Completed)})
	b.final = st.snapshot()
	b.publish(st)
}

func (b *Batch) fail(st *State, err error) {
	st.Preview = nil
	st.Err = err
	st.Status = "Error: " + err.Error()
	st.Phase = PhaseFailed
	metrics.Batches.WithLabelValues("failed").Inc()
	b.logger.Error("batch failed", zap.Int("iteration", st.Iteration), zap.Error(err))
	b.emit("error", "engine.error", map[string]interface{}{"iteration": st.Iteration, "error": err.Error()})
	b.emit("error", "batch.failed", map[string]interface{}{"iteration": st.Iteration, "completed": len(st.Completed)})
	b.final = st.snapshot()
	b.err = err
	b.publish(*st)
}

func (b *Batch) iterationSeeds(i int) map[string]uint64 {
	seeds := make(map[string]uint64, len(b.seeds))
	for j, sf := range b.seeds {
		seeds[sf.Key()] = b.sequences[j][i]
	}
	return seeds
}

// graph builds the submitted graph of an iteration.
func (b *Batch) graph(seeds map[string]uint64) workflow.Graph {
	o := b.overrides.Clone()
	for k, s := range seeds {
		o[k] = s
	}
	g, dropped := workflow.MergeOverrides(b.req.Template, o)
	if len(dropped) > 0 {
		b.logger.Debug("dropped stale overrides", zap.Strings("keys", dropped))
	}
	if b.req.Prompt != "" && !workflow.InjectPrompt(g, b.req.Prompt) {
		b.logger.Debug("workflow has no prompt node")
	}
	return g
}

// iteration runs one job and returns its outputs. The outputs are only
// returned when the job's stream ended normally.
func (b *Batch) iteration(ctx context.Context, st *State) ([][]byte, error) {
	b.emit("info", "iteration.started", map[string]interface{}{"iteration": st.Iteration, "seeds": st.Seeds})

	stream, err := b.o.engine.Run(ctx, b.graph(st.Seeds))
	if err != nil {
		return nil, err
	}
	defer stream.Close()

	jobID := stream.JobID()
	b.logger.Debug("job submitted", zap.Int("iteration", st.Iteration), zap.String("job_id", jobID))
	b.emit("info", "job.submitted", map[string]interface{}{"iteration": st.Iteration, "job_id": jobID})

	var pending [][]byte
	for {
		ev, err := stream.Next(ctx)
		if errors.Is(err, io.EOF) {
			return pending, nil
		}
		if err != nil {
			return nil, err
		}

		switch ev.Kind {
		case comfy.EventProgress:
			st.Progress, st.ProgressMax = ev.Value, ev.Max
			st.progressStatus()
			b.publish(*st)
		case comfy.EventPreview:
			st.Preview = ev.Data
			b.publish(*st)
		case comfy.EventOutput:
			pending = append(pending, ev.Data)
			b.emit("info", "job.output", map[string]interface{}{"iteration": st.Iteration, "job_id": jobID, "file": ev.File.Filename})
		}
	}
}

// cancelRemote tells the engine to abandon the running job, and on stop also
// everything queued behind it.
func (b *Batch) cancelRemote(iteration int, stop bool) {
	ctx, cancel := context.WithTimeout(context.Background(), b.o.cancelTimeout)
	defer cancel()

	if stop {
		b.o.engine.ClearQueue(ctx)
	}
	b.o.engine.Interrupt(ctx)
	b.emit("info", "job.interrupted", map[string]interface{}{"iteration": iteration, "stop": stop})
}
