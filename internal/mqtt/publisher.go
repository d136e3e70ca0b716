// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package mqtt mirrors the player status to an MQTT broker.
//
// Each device publishes a retained status document to
// signplay/<code>/status. The broker holds a last-will message on
// signplay/<code>/availability so subscribers learn about a player that
// vanished without a clean shutdown.
package mqtt

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/ManuGH/signplay/internal/config"
	xglog "github.com/ManuGH/signplay/internal/log"
	"github.com/ManuGH/signplay/internal/metrics"
	"github.com/ManuGH/signplay/internal/playerapi"
	pahomqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/goccy/go-json"
	"github.com/rs/zerolog"
)

const (
	connectTimeout = 10 * time.Second
	publishTimeout = 5 * time.Second
	keepAlive      = 60 * time.Second
	quiesceMillis  = 250
	qos            = 1

	availabilityOnline  = "online"
	availabilityOffline = "offline"
)

var (
	ErrNotConfigured    = errors.New("mqtt: broker not configured")
	ErrConnectionFailed = errors.New("mqtt: connection failed")
	ErrPublishFailed    = errors.New("mqtt: publish failed")
)

// StatusTopic is where the retained status document for code lives.
func StatusTopic(code string) string { return "signplay/" + code + "/status" }

// AvailabilityTopic carries online/offline, including the last will.
func AvailabilityTopic(code string) string { return "signplay/" + code + "/availability" }

// StatusMessage is the payload published to StatusTopic.
type StatusMessage struct {
	DeviceCode string                     `json:"deviceCode"`
	Timestamp  int64                      `json:"timestamp"` // unix ms
	Heartbeat  playerapi.HeartbeatRequest `json:"heartbeat"`
}

// Publisher holds one broker session bound to the current device code. A
// publish for a different code reconnects so the last will follows the
// device identity.
type Publisher struct {
	cfg     config.MQTTConfig
	logger  zerolog.Logger
	connect func(*pahomqtt.ClientOptions) pahomqtt.Client
	now     func() time.Time

	mu     sync.Mutex
	client pahomqtt.Client
	code   string
}

// NewPublisher returns a publisher for cfg. Nothing is dialled until the
// first publish.
func NewPublisher(cfg config.MQTTConfig) (*Publisher, error) {
	if cfg.Broker == "" {
		return nil, ErrNotConfigured
	}
	return &Publisher{
		cfg:     cfg,
		logger:  xglog.WithComponent("mqtt"),
		connect: pahomqtt.NewClient,
		now:     time.Now,
	}, nil
}

func buildOptions(cfg config.MQTTConfig, code string) *pahomqtt.ClientOptions {
	opts := pahomqtt.NewClientOptions()
	opts.AddBroker(cfg.Broker)
	clientID := cfg.ClientID
	if clientID == "" {
		clientID = "signplay"
	}
	opts.SetClientID(clientID + "-" + code)
	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
		opts.SetPassword(cfg.Password)
	}
	opts.SetCleanSession(true)
	opts.SetAutoReconnect(true)
	opts.SetConnectTimeout(connectTimeout)
	opts.SetKeepAlive(keepAlive)
	opts.SetWill(AvailabilityTopic(code), availabilityOffline, qos, true)
	return opts
}

// PublishStatus publishes body as the retained status of code.
func (p *Publisher) PublishStatus(ctx context.Context, code string, body playerapi.HeartbeatRequest) error {
	payload, err := json.Marshal(StatusMessage{
		DeviceCode: code,
		Timestamp:  p.now().UnixMilli(),
		Heartbeat:  body,
	})
	if err != nil {
		return fmt.Errorf("%w: encode: %w", ErrPublishFailed, err)
	}

	client, err := p.session(ctx, code)
	if err != nil {
		metrics.RecordMQTTPublish("error")
		return err
	}
	if err := wait(ctx, client.Publish(StatusTopic(code), qos, true, payload), publishTimeout); err != nil {
		metrics.RecordMQTTPublish("error")
		return fmt.Errorf("%w: %w", ErrPublishFailed, err)
	}
	metrics.RecordMQTTPublish("ok")
	return nil
}

// session returns a connected client for code, reconnecting if the code
// changed since the last publish.
func (p *Publisher) session(ctx context.Context, code string) (pahomqtt.Client, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.client != nil && p.code == code {
		return p.client, nil
	}
	if p.client != nil {
		p.closeLocked()
	}

	client := p.connect(buildOptions(p.cfg, code))
	if err := wait(ctx, client.Connect(), connectTimeout); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrConnectionFailed, err)
	}
	// best effort; the will covers the opposite transition
	client.Publish(AvailabilityTopic(code), qos, true, availabilityOnline)

	p.client = client
	p.code = code
	p.logger.Info().
		Str(xglog.FieldEvent, "mqtt.connected").
		Str(xglog.FieldDeviceCode, code).
		Str(xglog.FieldEndpoint, p.cfg.Broker).
		Msg("status mirror connected")
	return client, nil
}

// Close announces a clean shutdown and disconnects.
func (p *Publisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closeLocked()
	return nil
}

func (p *Publisher) closeLocked() {
	if p.client == nil {
		return
	}
	if p.client.IsConnected() {
		t := p.client.Publish(AvailabilityTopic(p.code), qos, true, availabilityOffline)
		t.WaitTimeout(publishTimeout)
	}
	p.client.Disconnect(quiesceMillis)
	p.logger.Debug().
		Str(xglog.FieldEvent, "mqtt.disconnected").
		Str(xglog.FieldDeviceCode, p.code).
		Msg("status mirror disconnected")
	p.client = nil
	p.code = ""
}

func wait(ctx context.Context, t pahomqtt.Token, timeout time.Duration) error {
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-t.Done():
		return t.Error()
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return fmt.Errorf("timeout after %v", timeout)
	}
}
