package events

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/kozaktomas/face-attendance/internal/constants"
)

// MQTTPublisher publishes events to an MQTT broker as JSON. Publishing is
// asynchronous so a slow broker never stalls capture processing.
type MQTTPublisher struct {
	broker   string
	topic    string
	clientID string
	client   mqtt.Client
	queue    chan Event
	done     chan struct{}
	wg       sync.WaitGroup

	published atomic.Uint64
	errors    atomic.Uint64
	dropped   atomic.Uint64
}

// NewMQTTPublisher creates a publisher; call Connect before use.
func NewMQTTPublisher(broker, topic, clientID string) *MQTTPublisher {
	return &MQTTPublisher{
		broker:   broker,
		topic:    strings.TrimSuffix(topic, "/"),
		clientID: clientID,
		queue:    make(chan Event, constants.EventChannelBuffer),
		done:     make(chan struct{}),
	}
}

// Connect establishes connection to the broker and starts the publish loop.
func (p *MQTTPublisher) Connect() error {
	broker := p.broker
	if !strings.Contains(broker, "://") {
		broker = "tcp://" + broker
	}

	opts := mqtt.NewClientOptions()
	opts.AddBroker(broker)
	opts.SetClientID(p.clientID)
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectRetryInterval(2 * time.Second)
	opts.SetMaxReconnectInterval(30 * time.Second)
	opts.OnConnect = func(mqtt.Client) {
		slog.Info("mqtt connection established", "broker", p.broker, "client_id", p.clientID)
	}
	opts.OnConnectionLost = func(_ mqtt.Client, err error) {
		slog.Warn("mqtt connection lost, will auto-reconnect", "error", err, "broker", p.broker)
	}

	p.client = mqtt.NewClient(opts)
	token := p.client.Connect()
	if !token.WaitTimeout(5 * time.Second) {
		return fmt.Errorf("mqtt connection timeout")
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("mqtt connection failed: %w", err)
	}

	p.wg.Add(1)
	go p.run()
	return nil
}

// Publish implements Sink. Events are dropped when the queue is full.
func (p *MQTTPublisher) Publish(e Event) {
	select {
	case p.queue <- e:
	default:
		p.dropped.Add(1)
	}
}

func (p *MQTTPublisher) run() {
	defer p.wg.Done()
	for {
		select {
		case <-p.done:
			return
		case e := <-p.queue:
			if err := p.send(e); err != nil {
				p.errors.Add(1)
				slog.Debug("mqtt publish failed", "error", err, "type", e.Type)
				continue
			}
			p.published.Add(1)
		}
	}
}

func (p *MQTTPublisher) send(e Event) error {
	payload, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	topic := p.topic + "/" + strings.ReplaceAll(e.Type, ".", "/")
	token := p.client.Publish(topic, 1, false, payload)
	if !token.WaitTimeout(2 * time.Second) {
		return fmt.Errorf("publish timeout")
	}
	return token.Error()
}

// Disconnect stops the publish loop and closes the connection.
func (p *MQTTPublisher) Disconnect() {
	close(p.done)
	p.wg.Wait()
	if p.client != nil && p.client.IsConnected() {
		p.client.Disconnect(250)
		slog.Info("mqtt disconnected")
	}
}

// MQTTStats contains publisher statistics
type MQTTStats struct {
	Published uint64 `json:"published"`
	Errors    uint64 `json:"errors"`
	Dropped   uint64 `json:"dropped"`
}

// Stats returns publisher statistics.
func (p *MQTTPublisher) Stats() MQTTStats {
	return MQTTStats{
		Published: p.published.Load(),
		Errors:    p.errors.Load(),
		Dropped:   p.dropped.Load(),
	}
}
