package mqtthost

import (
	"fmt"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/rs/zerolog"
)

// Broker is the part of an MQTT client the host uses. Subscribe handlers
// may block on device writes, so implementations must not run them on the
// connection's network loop.
type Broker interface {
	Publish(topic string, retained bool, payload []byte) error
	Subscribe(topic string, handler func(topic string, payload []byte)) error
	Unsubscribe(topic string) error
}

// BrokerConfig describes the connection to an MQTT broker.
type BrokerConfig struct {
	URL      string
	ClientID string
	Username string
	Password string
	// StatusTopic receives a retained online/offline marker.
	StatusTopic string
	// ConnectTimeout bounds the initial connect. Zero means waitTimeout.
	ConnectTimeout time.Duration
}

// PahoBroker is a Broker backed by the paho client.
type PahoBroker struct {
	client mqtt.Client
	status string
	log    zerolog.Logger

	mu   sync.Mutex
	subs map[string]mqtt.MessageHandler
}

const waitTimeout = 10 * time.Second

func (c BrokerConfig) connectTimeout() time.Duration {
	if c.ConnectTimeout > 0 {
		return c.ConnectTimeout
	}
	return waitTimeout
}

// clientOptions builds the paho options. Handlers run on their own
// goroutines because a set can wait on a cloud round trip and then on a
// publish acknowledgement.
func clientOptions(cfg BrokerConfig) *mqtt.ClientOptions {
	opts := mqtt.NewClientOptions()
	opts.AddBroker(cfg.URL)
	opts.SetClientID(cfg.ClientID)
	opts.SetUsername(cfg.Username)
	opts.SetPassword(cfg.Password)
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectTimeout(cfg.connectTimeout())
	opts.SetOrderMatters(false)
	if cfg.StatusTopic != "" {
		opts.SetWill(cfg.StatusTopic, "offline", 1, true)
	}
	return opts
}

// Dial connects to the broker. The client reconnects on its own afterwards.
func Dial(cfg BrokerConfig, log zerolog.Logger) (*PahoBroker, error) {
	opts := clientOptions(cfg)
	b := &PahoBroker{status: cfg.StatusTopic, log: log, subs: make(map[string]mqtt.MessageHandler)}
	opts.SetOnConnectHandler(func(c mqtt.Client) {
		log.Info().Str("broker", cfg.URL).Msg("connected to mqtt")
		if b.status != "" {
			c.Publish(b.status, 1, true, "online")
		}
		b.resubscribeAll(c)
	})
	opts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		log.Warn().Err(err).Msg("mqtt connection lost")
	})

	client := mqtt.NewClient(opts)
	if err := connect(client, cfg.connectTimeout()); err != nil {
		return nil, err
	}
	b.client = client
	return b, nil
}

// connect waits for the first connection. On failure the client is
// disconnected so connect-retry stops in the background.
func connect(client mqtt.Client, timeout time.Duration) error {
	token := client.Connect()
	if !token.WaitTimeout(timeout) {
		client.Disconnect(0)
		return fmt.Errorf("mqtt connect: timed out after %s", timeout)
	}
	if err := token.Error(); err != nil {
		client.Disconnect(0)
		return fmt.Errorf("mqtt connect: %w", err)
	}
	return nil
}

func (b *PahoBroker) Publish(topic string, retained bool, payload []byte) error {
	return wait(b.client.Publish(topic, 1, retained, payload))
}

func (b *PahoBroker) Subscribe(topic string, handler func(topic string, payload []byte)) error {
	cb := func(_ mqtt.Client, msg mqtt.Message) {
		handler(msg.Topic(), msg.Payload())
	}
	b.mu.Lock()
	b.subs[topic] = cb
	b.mu.Unlock()
	return wait(b.client.Subscribe(topic, 1, cb))
}

func (b *PahoBroker) Unsubscribe(topic string) error {
	b.mu.Lock()
	delete(b.subs, topic)
	b.mu.Unlock()
	return wait(b.client.Unsubscribe(topic))
}

// resubscribeAll restores subscriptions after a reconnect with a clean
// session.
func (b *PahoBroker) resubscribeAll(c mqtt.Client) {
	b.mu.Lock()
	subs := make(map[string]mqtt.MessageHandler, len(b.subs))
	for topic, cb := range b.subs {
		subs[topic] = cb
	}
	b.mu.Unlock()
	for topic, cb := range subs {
		if err := wait(c.Subscribe(topic, 1, cb)); err != nil {
			b.log.Warn().Err(err).Str("topic", topic).Msg("resubscribe failed")
		}
	}
}

// Close marks the bridge offline and disconnects.
func (b *PahoBroker) Close() {
	if b.status != "" {
		_ = b.Publish(b.status, true, []byte("offline"))
	}
	b.client.Disconnect(250)
}

func wait(token mqtt.Token) error {
	if !token.WaitTimeout(waitTimeout) {
		return fmt.Errorf("mqtt: timed out after %s", waitTimeout)
	}
	return token.Error()
}
