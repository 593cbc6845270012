package mqtt

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"sync/atomic"
	"time"

	"github.com/eclipse/paho.golang/autopaho"
	"github.com/eclipse/paho.golang/paho"

	"github.com/zlccccc/HomeAssistant-LLM-Analysis/internal/command"
	"github.com/zlccccc/HomeAssistant-LLM-Analysis/internal/config"
)

// publishTimeout bounds one command event publish so a slow broker
// cannot hold up a turn.
const publishTimeout = 5 * time.Second

var errNotStarted = errors.New("mqtt publisher not started")

// Publisher manages the broker connection and publishes command events.
// The zero connection state is safe: events published before Start or
// while the broker is down are logged and dropped.
type Publisher struct {
	cfg        config.MQTTConfig
	instanceID string
	logger     *slog.Logger
	cm         atomic.Pointer[autopaho.ConnectionManager]
	now        func() time.Time
}

// New creates a Publisher but does not connect. Call [Publisher.Start]
// to open the connection.
func New(cfg config.MQTTConfig, instanceID string, logger *slog.Logger) *Publisher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Publisher{
		cfg:        cfg,
		instanceID: instanceID,
		logger:     logger,
		now:        time.Now,
	}
}

// Start connects to the broker and waits up to 30 seconds for the first
// connection. autopaho keeps retrying in the background after that.
func (p *Publisher) Start(ctx context.Context) error {
	brokerURL, err := url.Parse(p.cfg.Broker)
	if err != nil {
		return fmt.Errorf("parse mqtt broker URL: %w", err)
	}

	pahoCfg := autopaho.ClientConfig{
		ServerUrls:      []*url.URL{brokerURL},
		KeepAlive:       30,
		ConnectUsername: p.cfg.Username,
		ConnectPassword: []byte(p.cfg.Password),
		WillMessage: &paho.WillMessage{
			Topic:   p.availabilityTopic(),
			Payload: []byte("offline"),
			QoS:     1,
			Retain:  true,
		},
		OnConnectionUp: func(cm *autopaho.ConnectionManager, _ *paho.Connack) {
			p.logger.Info("mqtt connected to broker", "broker", p.cfg.Broker)
			p.publishAvailability(ctx, cm, "online")
		},
		OnConnectError: func(err error) {
			p.logger.Warn("mqtt connection error", "error", err)
		},
		ClientConfig: paho.ClientConfig{
			ClientID: p.clientID(),
		},
	}

	if brokerURL.Scheme == "mqtts" || brokerURL.Scheme == "ssl" {
		pahoCfg.TlsCfg = &tls.Config{MinVersion: tls.VersionTLS12}
	}

	cm, err := autopaho.NewConnection(ctx, pahoCfg)
	if err != nil {
		return fmt.Errorf("mqtt connect: %w", err)
	}
	p.cm.Store(cm)

	connCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	if err := cm.AwaitConnection(connCtx); err != nil {
		p.logger.Warn("mqtt initial connection timed out, will retry in background", "error", err)
	}
	return nil
}

// Stop publishes "offline" and disconnects.
func (p *Publisher) Stop(ctx context.Context) error {
	cm := p.cm.Load()
	if cm == nil {
		return nil
	}
	p.publishAvailability(ctx, cm, "offline")
	return cm.Disconnect(ctx)
}

// AwaitConnection blocks until the broker connection is up or ctx
// expires. It is the health probe for the broker.
func (p *Publisher) AwaitConnection(ctx context.Context) error {
	cm := p.cm.Load()
	if cm == nil {
		return errNotStarted
	}
	return cm.AwaitConnection(ctx)
}

// CommandExecuted publishes the event for one executed command.
func (p *Publisher) CommandExecuted(ctx context.Context, turnID string, m *command.Match, outcome command.Outcome) {
	if m == nil {
		return
	}
	cm := p.cm.Load()
	if cm == nil {
		p.logger.Debug("mqtt command event dropped, publisher not started", "turn", turnID)
		return
	}

	payload, err := json.Marshal(NewCommandEvent(turnID, p.instanceID, m, outcome, p.now()))
	if err != nil {
		p.logger.Error("mqtt marshal command event", "turn", turnID, "error", err)
		return
	}

	ctx, cancel := context.WithTimeout(ctx, publishTimeout)
	defer cancel()

	topic := p.commandTopic(m.Domain)
	if _, err := cm.Publish(ctx, &paho.Publish{
		Topic:   topic,
		Payload: payload,
		QoS:     1,
	}); err != nil {
		p.logger.Warn("mqtt command event publish failed", "turn", turnID, "topic", topic, "error", err)
		return
	}
	p.logger.Debug("mqtt command event published", "turn", turnID, "topic", topic)
}

func (p *Publisher) publishAvailability(ctx context.Context, cm *autopaho.ConnectionManager, status string) {
	if _, err := cm.Publish(ctx, &paho.Publish{
		Topic:   p.availabilityTopic(),
		Payload: []byte(status),
		QoS:     1,
		Retain:  true,
	}); err != nil {
		p.logger.Warn("mqtt availability publish failed", "status", status, "error", err)
	} else {
		p.logger.Info("mqtt availability published", "status", status)
	}
}

// --- Topic helpers ---

func (p *Publisher) baseTopic() string {
	return strings.TrimRight(p.cfg.TopicPrefix, "/")
}

func (p *Publisher) availabilityTopic() string {
	return p.baseTopic() + "/availability"
}

func (p *Publisher) commandTopic(domain string) string {
	if domain == "" {
		domain = "unknown"
	}
	return p.baseTopic() + "/command/" + domain
}

func (p *Publisher) clientID() string {
	if p.instanceID == "" {
		return p.cfg.ClientID
	}
	short, _, _ := strings.Cut(p.instanceID, "-")
	return p.cfg.ClientID + "-" + short
}
