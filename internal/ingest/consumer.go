// Copyright (c) Microsoft Corporation.
// Licensed under the MIT License.

package ingest

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"time"

	"github.com/eclipse/paho.golang/autopaho"
	"github.com/eclipse/paho.golang/paho"
	"github.com/google/uuid"

	"github.com/hydrosense/pipeline/internal/store"
)

type (
	// DeviceGate admits or rejects a device's event at a point in time.
	DeviceGate interface {
		Allow(deviceID string, now time.Time) bool
	}

	// Consumer reads one telemetry source. Connection management (initial
	// connect, reconnect after transport failure) is delegated to autopaho;
	// the consumer decodes events, applies the gate, writes surviving rows,
	// and acknowledges upstream only after a durable write.
	Consumer struct {
		source    store.Source
		gate      DeviceGate
		writer    *Writer
		keepAlive uint16
		log       *slog.Logger
		now       func() time.Time
	}

	// ConsumerOption configures a Consumer.
	ConsumerOption func(*Consumer)

	// acker is the slice of the paho client used to acknowledge messages.
	acker interface {
		Ack(pb *paho.Publish) error
	}
)

// WithConsumerLogger sets the consumer's logger.
func WithConsumerLogger(log *slog.Logger) ConsumerOption {
	return func(c *Consumer) { c.log = log }
}

// WithKeepAlive overrides the MQTT keep-alive, in seconds.
func WithKeepAlive(seconds uint16) ConsumerOption {
	return func(c *Consumer) { c.keepAlive = seconds }
}

// WithClock overrides the consumer's wall clock.
func WithClock(now func() time.Time) ConsumerOption {
	return func(c *Consumer) { c.now = now }
}

// NewConsumer creates a consumer for one source. All consumers share the
// gate; everything else is per-source.
func NewConsumer(source store.Source, gate DeviceGate, writer *Writer, opt ...ConsumerOption) *Consumer {
	c := &Consumer{
		source:    source,
		gate:      gate,
		writer:    writer,
		keepAlive: 30,
		log:       slog.Default(),
		now:       time.Now,
	}
	for _, o := range opt {
		o(c)
	}
	return c
}

// Run connects to the source's broker and consumes until ctx is cancelled,
// then drains: intake stops, the in-flight write finishes, and the client
// disconnects cleanly. A persistent-session, QoS 1 subscription plus manual
// acks give at-least-once delivery across reconnects and restarts.
func (c *Consumer) Run(ctx context.Context) error {
	broker, err := url.Parse(c.source.BrokerURL)
	if err != nil {
		return fmt.Errorf("source %q broker url: %w", c.source.Name, err)
	}

	// Writes in flight at shutdown run to completion (success or final
	// failure); only new intake stops on cancellation.
	writeCtx := context.WithoutCancel(ctx)

	clientID := fmt.Sprintf("pipeline-%s-%s", c.source.Name, uuid.NewString()[:8])

	cfg := autopaho.ClientConfig{
		ServerUrls:                    []*url.URL{broker},
		KeepAlive:                     c.keepAlive,
		CleanStartOnInitialConnection: false,
		SessionExpiryInterval:         3600,
		OnConnectionUp: func(cm *autopaho.ConnectionManager, _ *paho.Connack) {
			c.log.Info("source connected",
				"source", c.source.Name, "broker", broker.Redacted(), "topic", c.source.Topic)
			if _, err := cm.Subscribe(ctx, &paho.Subscribe{
				Subscriptions: []paho.SubscribeOptions{
					{Topic: c.source.Topic, QoS: 1},
				},
			}); err != nil {
				c.log.Error("subscribe failed", "source", c.source.Name, "error", err)
			}
		},
		OnConnectError: func(err error) {
			c.log.Warn("source connection error, will retry",
				"source", c.source.Name, "error", err)
		},
		ClientConfig: paho.ClientConfig{
			ClientID:                   clientID,
			EnableManualAcknowledgment: true,
			OnPublishReceived: []func(paho.PublishReceived) (bool, error){
				func(pr paho.PublishReceived) (bool, error) {
					c.handle(writeCtx, pr.Client, pr.Packet)
					return true, nil
				},
			},
			OnClientError: func(err error) {
				c.log.Warn("source client error", "source", c.source.Name, "error", err)
			},
		},
	}

	cm, err := autopaho.NewConnection(ctx, cfg)
	if err != nil {
		return fmt.Errorf("source %q connect: %w", c.source.Name, err)
	}

	select {
	case <-ctx.Done():
		// Drain with a fresh context: the run context is already gone.
		dctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = cm.Disconnect(dctx)
	case <-cm.Done():
	}
	<-cm.Done()

	c.log.Info("source consumer stopped", "source", c.source.Name)
	return nil
}

// handle processes one inbound event. Malformed payloads are logged and
// skipped; gate-rejected devices are dropped silently; the event is left
// unacknowledged, and therefore redelivered, only when the durable write
// fails after its retry.
func (c *Consumer) handle(ctx context.Context, client acker, pub *paho.Publish) {
	ev, err := DecodeEvent(pub.Payload)
	if err != nil {
		c.log.Warn("malformed event, skipping", "source", c.source.Name, "error", err)
		c.ack(client, pub)
		return
	}

	now := c.now()
	var rows []store.RawRow
	var dropped int
	for _, dev := range ev.Devices {
		// A device entry with no readings must not consume its admission
		// window; the gate only sees devices that contribute rows.
		if len(dev.Rows) == 0 {
			continue
		}
		if !c.gate.Allow(dev.DeviceID, now) {
			dropped++
			continue
		}
		rows = append(rows, dev.Rows...)
	}

	if len(rows) == 0 {
		c.ack(client, pub)
		return
	}

	outcome, err := c.writer.WriteBatch(ctx, rows)
	if outcome == WriteFailed {
		c.log.Error("raw write failed, event left for redelivery",
			"source", c.source.Name, "rows", len(rows), "error", err)
		return
	}

	c.log.Info("raw rows written",
		"source", c.source.Name, "group", ev.GroupName,
		"rows", len(rows), "devices_gated", dropped, "outcome", outcome.String())
	c.ack(client, pub)
}

func (c *Consumer) ack(client acker, pub *paho.Publish) {
	if err := client.Ack(pub); err != nil {
		c.log.Warn("ack failed", "source", c.source.Name, "error", err)
	}
}
