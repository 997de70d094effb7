package mqtt

import (
	"testing"

	"github.com/simplui/simplui/internal/config"
	"github.com/stretchr/testify/assert"
)

func TestNewClient_DoesNotConnect(t *testing.T) {
	c := NewClient(config.MQTTConfig{URL: "tcp://127.0.0.1:1", ClientID: "simplui-test", Username: "u", Password: "p"})

	assert.Equal(t, "tcp://127.0.0.1:1", c.URL())
	assert.False(t, c.IsConnected())
}

func TestClient_ConnectionHooks(t *testing.T) {
	var states []bool
	c := NewClient(config.MQTTConfig{URL: "tcp://127.0.0.1:1"},
		WithConnectionHandler(func(connected bool) { states = append(states, connected) }))

	hooks := 0
	c.OnConnect(func() { hooks++ })

	c.connected()
	c.lost(assert.AnError)
	c.connected()

	assert.Equal(t, []bool{true, false, true}, states)
	assert.Equal(t, 2, hooks)
}

func TestErrors(t *testing.T) {
	assert.Equal(t, "mqtt connect timeout", (&ConnectTimeoutError{}).Error())
	assert.Equal(t, "mqtt publish timeout: simplui/events/batch.started",
		(&TimeoutError{Op: "publish", Topic: "simplui/events/batch.started"}).Error())
}
