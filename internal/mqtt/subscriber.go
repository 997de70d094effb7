package mqtt

import (
	"encoding/json"
	"strings"
	"sync"

	paho "github.com/eclipse/paho.mqtt.golang"
	"github.com/simplui/simplui/internal/orchestrator"
	"go.uber.org/zap"
)

// subscribeClient is the part of Client the control subscriber needs.
type subscribeClient interface {
	Subscribe(topic string, handler paho.MessageHandler) error
}

// Signaler delivers control signals to sessions.
type Signaler interface {
	Signal(sessionID string, sig orchestrator.Signal) error
}

// ControlSubscriber listens on <prefix>/sessions/+/control for skip and stop
// requests. Subscription is idempotent across reconnects.
type ControlSubscriber struct {
	mu         sync.RWMutex
	client     subscribeClient
	sessions   Signaler
	prefix     string
	logger     *zap.Logger
	subscribed map[string]bool // topic -> subscribed
}

// NewControlSubscriber creates a new control subscriber.
func NewControlSubscriber(client subscribeClient, sessions Signaler, prefix string, logger *zap.Logger) *ControlSubscriber {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ControlSubscriber{
		client:     client,
		sessions:   sessions,
		prefix:     strings.TrimSuffix(prefix, "/"),
		logger:     logger,
		subscribed: make(map[string]bool),
	}
}

// Topic returns the wildcard control topic.
func (s *ControlSubscriber) Topic() string {
	return s.prefix + "/sessions/+/control"
}

// Subscribe subscribes to the control topic if not already subscribed.
func (s *ControlSubscriber) Subscribe() error {
	topic := s.Topic()

	s.mu.Lock()
	if s.subscribed[topic] {
		s.mu.Unlock()
		return nil
	}
	s.mu.Unlock()

	if err := s.client.Subscribe(topic, s.handle); err != nil {
		return err
	}

	s.mu.Lock()
	s.subscribed[topic] = true
	s.mu.Unlock()

	s.logger.Info("mqtt subscribed", zap.String("topic", topic))
	return nil
}

// handle maps a control message onto the session named by the topic. The
// payload is either the bare signal or {"action": "<signal>"}.
func (s *ControlSubscriber) handle(_ paho.Client, msg paho.Message) {
	sessionID, ok := s.sessionFromTopic(msg.Topic())
	if !ok {
		s.logger.Debug("mqtt control on unexpected topic", zap.String("topic", msg.Topic()))
		return
	}

	sig := parseSignal(msg.Payload())
	if err := s.sessions.Signal(sessionID, sig); err != nil {
		s.logger.Warn("mqtt control rejected",
			zap.String("session_id", sessionID),
			zap.String("signal", string(sig)),
			zap.Error(err))
		return
	}
	s.logger.Info("mqtt control applied", zap.String("session_id", sessionID), zap.String("signal", string(sig)))
}

func (s *ControlSubscriber) sessionFromTopic(topic string) (string, bool) {
	rest, ok := strings.CutPrefix(topic, s.prefix+"/sessions/")
	if !ok {
		return "", false
	}
	id, ok := strings.CutSuffix(rest, "/control")
	if !ok || id == "" || strings.Contains(id, "/") {
		return "", false
	}
	return id, true
}

func parseSignal(payload []byte) orchestrator.Signal {
	var body struct {
		Action string `json:"action"`
	}
	text := strings.TrimSpace(string(payload))
	if err := json.Unmarshal(payload, &body); err == nil && body.Action != "" {
		text = body.Action
	}
	return orchestrator.Signal(strings.ToLower(text))
}

// IsSubscribed returns true if the topic is already subscribed.
func (s *ControlSubscriber) IsSubscribed(topic string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.subscribed[topic]
}

// ClearSubscriptions clears the subscription tracking.
// Call this on disconnect to allow re-subscription on reconnect.
func (s *ControlSubscriber) ClearSubscriptions() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.subscribed = make(map[string]bool)
}
