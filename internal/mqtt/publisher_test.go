// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package mqtt

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/ManuGH/signplay/internal/config"
	"github.com/ManuGH/signplay/internal/playerapi"
	pahomqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type doneToken struct {
	err  error
	done chan struct{}
}

func newToken(err error) *doneToken {
	t := &doneToken{err: err, done: make(chan struct{})}
	close(t.done)
	return t
}

func (t *doneToken) Wait() bool                     { return true }
func (t *doneToken) WaitTimeout(time.Duration) bool { return true }
func (t *doneToken) Done() <-chan struct{}          { return t.done }
func (t *doneToken) Error() error                   { return t.err }

type published struct {
	topic    string
	retained bool
	payload  []byte
}

// fakeClient records traffic; unimplemented methods panic via the nil
// embedded interface.
type fakeClient struct {
	pahomqtt.Client
	opts       *pahomqtt.ClientOptions
	connectErr error

	mu           sync.Mutex
	published    []published
	disconnected bool
}

func (c *fakeClient) Connect() pahomqtt.Token { return newToken(c.connectErr) }
func (c *fakeClient) IsConnected() bool       { return c.connectErr == nil }

func (c *fakeClient) Publish(topic string, _ byte, retained bool, payload interface{}) pahomqtt.Token {
	c.mu.Lock()
	defer c.mu.Unlock()
	var b []byte
	switch v := payload.(type) {
	case []byte:
		b = v
	case string:
		b = []byte(v)
	}
	c.published = append(c.published, published{topic: topic, retained: retained, payload: b})
	return newToken(nil)
}

func (c *fakeClient) Disconnect(uint) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.disconnected = true
}

func newTestPublisher(t *testing.T, connectErr error) (*Publisher, *[]*fakeClient) {
	t.Helper()
	p, err := NewPublisher(config.MQTTConfig{Broker: "tcp://broker:1883", ClientID: "lobby"})
	require.NoError(t, err)
	var clients []*fakeClient
	p.connect = func(opts *pahomqtt.ClientOptions) pahomqtt.Client {
		c := &fakeClient{opts: opts, connectErr: connectErr}
		clients = append(clients, c)
		return c
	}
	p.now = func() time.Time { return time.UnixMilli(1_700_000_000_000) }
	return p, &clients
}

func TestNewPublisher_RequiresBroker(t *testing.T) {
	_, err := NewPublisher(config.MQTTConfig{})
	assert.ErrorIs(t, err, ErrNotConfigured)
}

func TestBuildOptions_LastWill(t *testing.T) {
	opts := buildOptions(config.MQTTConfig{Broker: "tcp://broker:1883", Username: "u", Password: "p"}, "AB12CD34")
	assert.True(t, opts.WillEnabled)
	assert.Equal(t, "signplay/AB12CD34/availability", opts.WillTopic)
	assert.Equal(t, []byte("offline"), opts.WillPayload)
	assert.True(t, opts.WillRetained)
	assert.Equal(t, "signplay-AB12CD34", opts.ClientID)
	assert.Equal(t, "u", opts.Username)
	require.Len(t, opts.Servers, 1)
	assert.Equal(t, "broker:1883", opts.Servers[0].Host)
}

func TestPublishStatus(t *testing.T) {
	p, clients := newTestPublisher(t, nil)
	body := playerapi.HeartbeatRequest{Status: "playing", PlayerInfo: playerapi.PlayerInfo{PlaylistID: "pl-1"}}

	require.NoError(t, p.PublishStatus(context.Background(), "AB12CD34", body))
	require.NoError(t, p.PublishStatus(context.Background(), "AB12CD34", body))
	require.Len(t, *clients, 1, "session reused for the same code")

	c := (*clients)[0]
	require.Len(t, c.published, 3)
	assert.Equal(t, AvailabilityTopic("AB12CD34"), c.published[0].topic)
	assert.Equal(t, "online", string(c.published[0].payload))

	status := c.published[1]
	assert.Equal(t, "signplay/AB12CD34/status", status.topic)
	assert.True(t, status.retained)
	var msg StatusMessage
	require.NoError(t, json.Unmarshal(status.payload, &msg))
	assert.Equal(t, "AB12CD34", msg.DeviceCode)
	assert.EqualValues(t, 1_700_000_000_000, msg.Timestamp)
	assert.Equal(t, "pl-1", msg.Heartbeat.PlayerInfo.PlaylistID)
}

func TestPublishStatus_CodeChangeReconnects(t *testing.T) {
	p, clients := newTestPublisher(t, nil)
	body := playerapi.HeartbeatRequest{Status: "playing"}

	require.NoError(t, p.PublishStatus(context.Background(), "AB12CD34", body))
	require.NoError(t, p.PublishStatus(context.Background(), "ZZ99YY88", body))
	require.Len(t, *clients, 2)

	old := (*clients)[0]
	assert.True(t, old.disconnected)
	last := old.published[len(old.published)-1]
	assert.Equal(t, AvailabilityTopic("AB12CD34"), last.topic)
	assert.Equal(t, "offline", string(last.payload), "clean offline before switching identity")
	assert.Equal(t, AvailabilityTopic("ZZ99YY88"), (*clients)[1].opts.WillTopic)

	require.NoError(t, p.Close())
	assert.True(t, (*clients)[1].disconnected)
}

func TestPublishStatus_ConnectFailure(t *testing.T) {
	p, _ := newTestPublisher(t, errors.New("refused"))
	err := p.PublishStatus(context.Background(), "AB12CD34", playerapi.HeartbeatRequest{})
	assert.ErrorIs(t, err, ErrConnectionFailed)
	assert.NoError(t, p.Close())
}
