package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/simplui/simplui/internal/events"
	"github.com/simplui/simplui/internal/idgen"
	"github.com/simplui/simplui/internal/metrics"
	"go.uber.org/zap"
)

var (
	ErrSessionNotFound = errors.New("session not found")
	ErrSessionClosed   = errors.New("session closed")
	ErrNoActiveBatch   = errors.New("no active batch")
	ErrUnknownSignal   = errors.New("unknown signal")
)

// Signal is an out-of-band batch control request.
type Signal string

const (
	SignalSkip Signal = "skip"
	SignalStop Signal = "stop"
)

const subscriberBuffer = 16

// Session owns at most one active batch. Starting a batch stops the active
// one and waits for it to finish first.
type Session struct {
	ID      string
	Created time.Time

	o      *Orchestrator
	logger *zap.Logger

	// genMu serialises Generate and Close.
	genMu    sync.Mutex
	active   *Batch
	pumpDone chan struct{}
	closed   bool

	mu   sync.Mutex
	last State
	subs map[chan State]struct{}
}

func newSession(id string, o *Orchestrator) *Session {
	return &Session{
		ID:      id,
		Created: time.Now().UTC(),
		o:       o.forSession(),
		logger:  o.logger.With(zap.String("session_id", id)),
		subs:    make(map[chan State]struct{}),
	}
}

// Generate starts a batch for the session.
func (s *Session) Generate(ctx context.Context, req Request) (*Batch, error) {
	s.genMu.Lock()
	defer s.genMu.Unlock()
	if s.closed {
		return nil, ErrSessionClosed
	}

	s.vacate()

	req.SessionID = s.ID
	b, err := s.o.Start(ctx, req)
	if err != nil {
		return nil, err
	}
	s.active = b
	s.pumpDone = make(chan struct{})
	go s.pump(b, s.pumpDone)
	return b, nil
}

// vacate stops the active batch and waits until its final state has been
// recorded. Callers hold genMu.
func (s *Session) vacate() {
	if s.active == nil {
		return
	}
	s.logger.Debug("stopping active batch")
	s.active.Stop()
	<-s.pumpDone
	s.active, s.pumpDone = nil, nil
}

func (s *Session) pump(b *Batch, done chan struct{}) {
	defer close(done)
	var last State
	for st := range b.States() {
		last = st
		s.record(st)
	}
	final, _ := b.Wait()
	if !last.Done() {
		s.record(final)
	}
}

func (s *Session) record(st State) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.last = st
	for ch := range s.subs {
		select {
		case ch <- st:
		default:
			s.logger.Debug("subscriber lagging, state dropped", zap.Int("iteration", st.Iteration))
		}
	}
}

// Active returns the running batch, or nil.
func (s *Session) Active() *Batch {
	s.genMu.Lock()
	defer s.genMu.Unlock()
	if s.active == nil {
		return nil
	}
	select {
	case <-s.active.Done():
		return nil
	default:
		return s.active
	}
}

// Skip skips the iteration in flight of the active batch.
func (s *Session) Skip() error {
	b := s.Active()
	if b == nil {
		return ErrNoActiveBatch
	}
	b.Skip()
	return nil
}

// Stop stops the active batch.
func (s *Session) Stop() error {
	b := s.Active()
	if b == nil {
		return ErrNoActiveBatch
	}
	b.Stop()
	return nil
}

// Last returns the most recent state recorded for the session.
func (s *Session) Last() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.last
}

// Subscribe returns a channel receiving every state recorded from now on.
// A subscriber that falls behind loses states; Last is always current.
func (s *Session) Subscribe() chan State {
	ch := make(chan State, subscriberBuffer)
	s.mu.Lock()
	s.subs[ch] = struct{}{}
	s.mu.Unlock()
	return ch
}

// Unsubscribe removes and closes ch. It is safe to call more than once.
func (s *Session) Unsubscribe(ch chan State) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.subs[ch]; ok {
		delete(s.subs, ch)
		close(ch)
	}
}

// Close stops the active batch and closes every subscriber.
func (s *Session) Close() {
	s.genMu.Lock()
	defer s.genMu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	s.vacate()

	s.mu.Lock()
	for ch := range s.subs {
		delete(s.subs, ch)
		close(ch)
	}
	s.mu.Unlock()
}

// Registry holds the live sessions of one orchestrator.
type Registry struct {
	o *Orchestrator

	mu       sync.RWMutex
	sessions map[string]*Session
}

// NewRegistry returns an empty registry.
func NewRegistry(o *Orchestrator) *Registry {
	return &Registry{o: o, sessions: make(map[string]*Session)}
}

// Create registers a new session.
func (r *Registry) Create() (*Session, error) {
	id, err := idgen.NewSessionID()
	if err != nil {
		return nil, err
	}
	s := newSession(id, r.o)

	r.mu.Lock()
	r.sessions[id] = s
	r.mu.Unlock()

	metrics.Sessions.Inc()
	r.o.logger.Info("session created", zap.String("session_id", id))
	events.Emit("info", "session.created", "", map[string]interface{}{"session_id": id})
	return s, nil
}

// Get returns the session with id.
func (r *Registry) Get(id string) (*Session, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sessions[id]
	if !ok {
		return nil, ErrSessionNotFound
	}
	return s, nil
}

// Signal delivers sig to the active batch of session id.
func (r *Registry) Signal(id string, sig Signal) error {
	s, err := r.Get(id)
	if err != nil {
		return err
	}
	switch sig {
	case SignalSkip:
		return s.Skip()
	case SignalStop:
		return s.Stop()
	}
	return fmt.Errorf("%w: %q", ErrUnknownSignal, sig)
}

// List returns the live sessions.
func (r *Registry) List() []*Session {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		out = append(out, s)
	}
	return out
}

// Close stops and removes the session with id.
func (r *Registry) Close(id string) error {
	r.mu.Lock()
	s, ok := r.sessions[id]
	delete(r.sessions, id)
	r.mu.Unlock()
	if !ok {
		return ErrSessionNotFound
	}

	s.Close()
	metrics.Sessions.Dec()
	r.o.logger.Info("session closed", zap.String("session_id", id))
	events.Emit("info", "session.closed", "", map[string]interface{}{"session_id": id})
	return nil
}

// CloseAll closes every session.
func (r *Registry) CloseAll() {
	for _, s := range r.List() {
		_ = r.Close(s.ID)
	}
}
