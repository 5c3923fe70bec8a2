package mqtt

import (
	"context"
	"fmt"
	"sync"

	paho "github.com/eclipse/paho.mqtt.golang"

	"github.com/leehyoungkeun/control-smartfarm-sub000/internal/ports"
)

// Conn is a single paho connection with a fixed subscription set. paho owns
// reconnection; Conn re-subscribes every time the connection comes up.
type Conn struct {
	cfg    Config
	obs    ports.Observability
	client paho.Client

	mu       sync.Mutex
	filters  []string
	handler  ports.MessageHandler
	onChange []func(bool)
}

func NewConn(cfg Config, obs ports.Observability) (*Conn, error) {
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("mqtt config: %w", err)
	}
	c := &Conn{cfg: cfg, obs: obs}
	opts, err := c.clientOptions()
	if err != nil {
		return nil, err
	}
	c.client = paho.NewClient(opts)
	return c, nil
}

func (c *Conn) clientOptions() (*paho.ClientOptions, error) {
	opts := paho.NewClientOptions()
	opts.AddBroker(c.cfg.Broker)
	opts.SetClientID(c.cfg.ClientID)
	opts.SetUsername(c.cfg.Username)
	opts.SetPassword(c.cfg.Password)
	opts.SetKeepAlive(c.cfg.KeepAlive)
	opts.SetConnectTimeout(c.cfg.ConnectTimeout)
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectRetryInterval(c.cfg.ConnectRetryInterval)
	opts.SetMaxReconnectInterval(c.cfg.MaxReconnectInterval)
	opts.SetCleanSession(true)
	opts.SetOnConnectHandler(c.onConnect)
	opts.SetConnectionLostHandler(c.onConnectionLost)
	opts.SetReconnectingHandler(func(_ paho.Client, _ *paho.ClientOptions) {
		c.obs.LogDebug("mqtt_reconnecting", ports.Field{Key: "broker", Value: c.cfg.Broker})
	})
	if c.cfg.usesTLS() {
		tlsCfg, err := c.cfg.tlsConfig()
		if err != nil {
			return nil, err
		}
		opts.SetTLSConfig(tlsCfg)
	}
	return opts, nil
}

func (c *Conn) Subscribe(filters []string, h ports.MessageHandler) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.filters = append([]string(nil), filters...)
	c.handler = h
}

func (c *Conn) OnConnectionChange(fn func(connected bool)) {
	if fn == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onChange = append(c.onChange, fn)
}

// Connect starts the connection and waits until it is up or ctx ends. When ctx
// ends first the client keeps retrying in the background.
func (c *Conn) Connect(ctx context.Context) error {
	tok := c.client.Connect()
	select {
	case <-tok.Done():
		if err := tok.Error(); err != nil {
			return fmt.Errorf("mqtt connect: %w", err)
		}
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *Conn) Publish(topic string, payload []byte) bool {
	if !c.client.IsConnectionOpen() {
		c.obs.IncCounter("farm_mqtt_publish_rejected_total", 1)
		return false
	}
	tok := c.client.Publish(topic, c.cfg.QoSLevel(), false, payload)
	c.obs.IncCounter("farm_mqtt_published_total", 1)
	go func() {
		<-tok.Done()
		if err := tok.Error(); err != nil {
			c.obs.LogWarn("mqtt_publish_failed",
				ports.Field{Key: "topic", Value: topic},
				ports.Field{Key: "error", Value: err.Error()})
		}
	}()
	return true
}

func (c *Conn) IsConnected() bool {
	return c.client.IsConnectionOpen()
}

func (c *Conn) Close() {
	c.client.Disconnect(250)
	c.notify(false)
}

func (c *Conn) onConnect(client paho.Client) {
	c.mu.Lock()
	filters := c.filters
	h := c.handler
	c.mu.Unlock()

	c.obs.LogInfo("mqtt_connected", ports.Field{Key: "broker", Value: c.cfg.Broker})

	if len(filters) > 0 && h != nil {
		set := make(map[string]byte, len(filters))
		for _, f := range filters {
			set[f] = c.cfg.QoSLevel()
		}
		tok := client.SubscribeMultiple(set, c.dispatch(h))
		// the connect is already complete; a failed subscribe is only logged
		if tok.WaitTimeout(c.cfg.ConnectTimeout) && tok.Error() != nil {
			c.obs.LogError("mqtt_subscribe_failed", tok.Error(),
				ports.Field{Key: "filters", Value: filters})
		}
	}
	c.notify(true)
}

func (c *Conn) onConnectionLost(_ paho.Client, err error) {
	c.obs.LogWarn("mqtt_connection_lost", ports.Field{Key: "error", Value: fmt.Sprint(err)})
	c.notify(false)
}

func (c *Conn) dispatch(h ports.MessageHandler) paho.MessageHandler {
	return func(_ paho.Client, m paho.Message) {
		c.obs.IncCounter("farm_mqtt_received_total", 1)
		h(m.Topic(), m.Payload())
	}
}

func (c *Conn) notify(connected bool) {
	if connected {
		c.obs.SetGauge("farm_mqtt_connected", 1)
	} else {
		c.obs.SetGauge("farm_mqtt_connected", 0)
	}
	c.mu.Lock()
	hooks := append([]func(bool){}, c.onChange...)
	c.mu.Unlock()
	for _, fn := range hooks {
		fn(connected)
	}
}

var _ ports.Broker = (*Conn)(nil)
