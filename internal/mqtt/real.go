package mqtt

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	paho "github.com/eclipse/paho.mqtt.golang"

	"github.com/sweeney/irrigator/internal/logic"
)

// OutboxLimit bounds the messages held while the broker is unreachable.
const OutboxLimit = 256

const publishTimeout = 5 * time.Second

// RealPublisher publishes to an actual MQTT broker. Messages published
// while disconnected are queued and sent, oldest first, on reconnect.
type RealPublisher struct {
	client paho.Client
	topics Topics
	now    func() time.Time

	mu        sync.Mutex
	outbox    *outbox
	connected bool
	connects  int
}

// NewRealPublisher configures a client for broker. It does not connect;
// call Connect.
func NewRealPublisher(broker, site string) *RealPublisher {
	p := &RealPublisher{
		topics: TopicsFor(site),
		now:    time.Now,
		outbox: newOutbox(OutboxLimit),
	}

	opts := paho.NewClientOptions().
		AddBroker(broker).
		SetClientID("irrigator-"+site).
		SetAutoReconnect(true).
		SetMaxReconnectInterval(time.Minute).
		SetWill(p.topics.System, string(WillPayload(time.Now())), 1, true).
		SetOnConnectHandler(func(paho.Client) { p.onConnect() }).
		SetConnectionLostHandler(func(_ paho.Client, err error) {
			p.mu.Lock()
			p.connected = false
			p.mu.Unlock()
			log.Printf("mqtt: connection lost: %v", err)
		})

	p.client = paho.NewClient(opts)
	return p
}

// Connect makes the first connection to the broker, retrying with
// exponential backoff until it succeeds or ctx is cancelled. Later
// reconnects are handled by the client.
func (p *RealPublisher) Connect(ctx context.Context) error {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = time.Second
	bo.MaxInterval = time.Minute
	bo.MaxElapsedTime = 0

	op := func() error {
		token := p.client.Connect()
		if !token.WaitTimeout(10 * time.Second) {
			return errors.New("connection timeout")
		}
		return token.Error()
	}
	notify := func(err error, next time.Duration) {
		log.Printf("mqtt: connect failed: %v (retry in %s)", err, next.Round(time.Second))
	}

	err := backoff.RetryNotify(op, backoff.WithContext(bo, ctx), notify)
	if ctx.Err() != nil {
		return nil
	}
	if err != nil {
		return fmt.Errorf("connect to broker: %w", err)
	}
	return nil
}

func (p *RealPublisher) onConnect() {
	p.mu.Lock()
	p.connected = true
	p.connects++
	first := p.connects == 1
	msgs, dropped := p.outbox.flush()
	p.mu.Unlock()

	log.Printf("mqtt: connected (%d queued, %d dropped)", len(msgs), dropped)

	// Paho runs this on its own goroutine; blocking waits are safe here.
	if !first {
		p.send(outboxMsg{topic: p.topics.System, payload: reconnectedPayload(p.now(), dropped), qos: 1})
	}
	for _, m := range msgs {
		if err := p.send(m); err != nil {
			log.Printf("mqtt: flush: %v", err)
		}
	}
}

// Publish sends a schedule transition to the events topic.
func (p *RealPublisher) Publish(t logic.Transition) error {
	payload, err := FormatPayload(t)
	if err != nil {
		return fmt.Errorf("format payload: %w", err)
	}
	// QoS 0 (at-most-once), not retained
	return p.publish(outboxMsg{topic: p.topics.Events, payload: payload})
}

// PublishSystem sends a system lifecycle event to the system topic.
func (p *RealPublisher) PublishSystem(event SystemEvent) error {
	payload, err := FormatSystemPayload(event)
	if err != nil {
		return fmt.Errorf("format system payload: %w", err)
	}
	// QoS 1 (at-least-once) for lifecycle events
	return p.publish(outboxMsg{topic: p.topics.System, payload: payload, qos: 1, retained: event.Retained})
}

func (p *RealPublisher) publish(m outboxMsg) error {
	p.mu.Lock()
	if !p.connected {
		p.outbox.add(m)
		p.mu.Unlock()
		return nil
	}
	p.mu.Unlock()
	return p.send(m)
}

func (p *RealPublisher) send(m outboxMsg) error {
	token := p.client.Publish(m.topic, m.qos, m.retained, m.payload)
	if !token.WaitTimeout(publishTimeout) {
		return fmt.Errorf("publish %s: timeout", m.topic)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("publish %s: %w", m.topic, err)
	}
	return nil
}

// IsConnected reports whether the broker connection is up.
func (p *RealPublisher) IsConnected() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.connected
}

// Queued returns the number of messages waiting for a connection.
func (p *RealPublisher) Queued() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.outbox.len()
}

// Close disconnects from the broker.
func (p *RealPublisher) Close() error {
	p.client.Disconnect(1000) // 1 second timeout
	return nil
}
