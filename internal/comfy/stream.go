package comfy

import (
	"context"
	"io"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/gorilla/websocket"
	"github.com/simplui/simplui/internal/metrics"
	"github.com/simplui/simplui/internal/workflow"
	"go.uber.org/zap"
)

// Stream is the event stream of one submitted job. Next yields events in the
// order the engine sent them and io.EOF once the job has finished.
type Stream struct {
	jobID  string
	conn   *websocket.Conn
	client *Client
	logger *zap.Logger

	events chan Event
	// err is written before events is closed.
	err error

	cancel    context.CancelFunc
	closeOnce sync.Once
	done      chan struct{}
}

// Run opens an event connection, submits g and returns the job's stream. The
// connection is opened first so that no event of the job can be missed.
func (c *Client) Run(ctx context.Context, g workflow.Graph) (*Stream, error) {
	conn, err := c.dial(ctx)
	if err != nil {
		return nil, &StreamError{Op: "dial", Err: err}
	}

	jobID, err := c.Submit(ctx, g)
	if err != nil {
		conn.Close()
		return nil, err
	}

	sctx, cancel := context.WithCancel(context.Background())
	s := &Stream{
		jobID:  jobID,
		conn:   conn,
		client: c,
		logger: c.logger.With(zap.String("job_id", jobID)),
		events: make(chan Event),
		cancel: cancel,
		done:   make(chan struct{}),
	}
	go s.readLoop(sctx)
	return s, nil
}

func (c *Client) dial(ctx context.Context) (*websocket.Conn, error) {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 200 * time.Millisecond
	b.MaxInterval = 2 * time.Second
	b.MaxElapsedTime = c.dialTimeout
	b.Reset()

	var conn *websocket.Conn
	op := func() error {
		cn, resp, err := c.dialer.DialContext(ctx, c.wsURL(), nil)
		if err != nil {
			if resp != nil && resp.StatusCode >= 400 && resp.StatusCode < 500 {
				return backoff.Permanent(err)
			}
			return err
		}
		conn = cn
		return nil
	}
	notify := func(err error, next time.Duration) {
		c.logger.Debug("engine websocket dial failed, retrying", zap.Error(err), zap.Duration("backoff", next))
	}
	if err := backoff.RetryNotify(op, backoff.WithContext(b, ctx), notify); err != nil {
		return nil, err
	}
	conn.SetReadLimit(maxMessageSize)
	return conn, nil
}

// JobID returns the engine's id for the job.
func (s *Stream) JobID() string { return s.jobID }

// Next returns the next event. It returns io.EOF when the job finished, a
// *StreamError when the stream broke, and ctx.Err() when ctx ends first.
func (s *Stream) Next(ctx context.Context) (Event, error) {
	select {
	case ev, ok := <-s.events:
		if !ok {
			if s.err != nil {
				return Event{}, s.err
			}
			return Event{}, io.EOF
		}
		return ev, nil
	case <-ctx.Done():
		return Event{}, ctx.Err()
	}
}

// Close abandons the stream and waits for the reader to exit. It does not
// interrupt the job on the engine.
func (s *Stream) Close() error {
	s.cancel()
	err := s.closeConn()
	<-s.done
	return err
}

func (s *Stream) closeConn() error {
	var err error
	s.closeOnce.Do(func() { err = s.conn.Close() })
	return err
}

func (s *Stream) send(ctx context.Context, ev Event) bool {
	select {
	case s.events <- ev:
		metrics.StreamEvents.WithLabelValues(ev.Kind.String()).Inc()
		return true
	case <-ctx.Done():
		return false
	}
}

func (s *Stream) readLoop(ctx context.Context) {
	defer close(s.done)
	defer close(s.events)
	defer s.closeConn()

	t := newTracker(s.jobID)
	for {
		mt, data, err := s.conn.ReadMessage()
		if err != nil {
			if ctx.Err() == nil {
				s.err = &StreamError{Op: "read", Err: err}
			}
			return
		}

		var st step
		switch mt {
		case websocket.BinaryMessage:
			st = t.binary(data)
		case websocket.TextMessage:
			st = t.text(data)
		default:
			continue
		}

		for _, ev := range st.events {
			if !s.send(ctx, ev) {
				return
			}
		}
		for _, f := range st.outputs {
			img, err := s.client.View(ctx, f)
			if err != nil {
				if ctx.Err() == nil {
					s.err = &StreamError{Op: "fetch output", Err: err}
				}
				return
			}
			if !s.send(ctx, Event{Kind: EventOutput, Node: st.outputNode, Data: img, File: f}) {
				return
			}
		}
		if st.err != nil {
			s.err = st.err
			return
		}
		if st.done {
			s.logger.Debug("job stream finished")
			return
		}
	}
}
