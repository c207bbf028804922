package comms

import (
	"context"
	"encoding/json"
	"sync/atomic"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"

	"github.com/CodedInternet/osl/datalog"
	"github.com/CodedInternet/osl/logging"
)

// MQTTConfig configures the data log MQTT sink.
type MQTTConfig struct {
	Broker     string        `yaml:"broker"` // tcp://host:1883
	ClientID   string        `yaml:"client_id"`
	Username   string        `yaml:"username"`
	Password   string        `yaml:"password"`
	Topic      string        `yaml:"topic"`
	QoS        byte          `yaml:"qos"`
	KeepAlive  time.Duration `yaml:"keep_alive"`
	RetryDelay time.Duration `yaml:"retry_delay"`
}

func (c MQTTConfig) statusTopic() string { return c.Topic + "/status" }

// MQTTSink publishes data log rows as JSON. Publishing never waits on the
// broker so the control loop is not held up by the network.
type MQTTSink struct {
	client paho.Client
	cfg    MQTTConfig
	log    logging.Logger

	dropping atomic.Bool
}

func NewMQTTSink(cfg MQTTConfig, log logging.Logger) *MQTTSink {
	if log == nil {
		log = logging.Noop()
	}
	if cfg.Topic == "" {
		cfg.Topic = "osl/datalog"
	}
	if cfg.ClientID == "" {
		cfg.ClientID = "osl"
	}
	if cfg.KeepAlive == 0 {
		cfg.KeepAlive = 60 * time.Second
	}

	opts := paho.NewClientOptions()
	opts.AddBroker(cfg.Broker)
	opts.SetClientID(cfg.ClientID)
	opts.SetUsername(cfg.Username)
	opts.SetPassword(cfg.Password)
	opts.SetAutoReconnect(true)
	opts.SetKeepAlive(cfg.KeepAlive)
	opts.SetPingTimeout(10 * time.Second)
	opts.SetWill(cfg.statusTopic(), "offline", 1, true)

	opts.SetOnConnectHandler(func(client paho.Client) {
		log.Infof("[MQTT] Connected to %s.", cfg.Broker)
		if token := client.Publish(cfg.statusTopic(), 1, true, "online"); token.Wait() && token.Error() != nil {
			log.Warnf("[MQTT] Error publishing online status: %v", token.Error())
		}
	})
	opts.SetConnectionLostHandler(func(client paho.Client, err error) {
		log.Errorf("[MQTT] Connection lost: %v", err)
	})

	return newMQTTSink(paho.NewClient(opts), cfg, log)
}

func newMQTTSink(client paho.Client, cfg MQTTConfig, log logging.Logger) *MQTTSink {
	return &MQTTSink{client: client, cfg: cfg, log: log}
}

// Connect retries until the broker accepts the connection or ctx is done.
func (s *MQTTSink) Connect(ctx context.Context) error {
	delay := s.cfg.RetryDelay
	if delay == 0 {
		delay = 5 * time.Second
	}

	for attempt := 1; ; attempt++ {
		token := s.client.Connect()
		if token.Wait() && token.Error() == nil {
			return nil
		}
		s.log.Warnf("[MQTT] Connection failed (attempt %d): %v", attempt, token.Error())

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
	}
}

// Write implements datalog.Sink. Rows are dropped while disconnected, with one
// warning per outage.
func (s *MQTTSink) Write(row datalog.Row) error {
	if !s.client.IsConnected() {
		if s.dropping.CompareAndSwap(false, true) {
			s.log.Warnf("[MQTT] Not connected, dropping data log rows.")
		}
		return nil
	}
	if s.dropping.CompareAndSwap(true, false) {
		s.log.Infof("[MQTT] Publishing data log rows again.")
	}
	payload, err := json.Marshal(row)
	if err != nil {
		return err
	}

	token := s.client.Publish(s.cfg.Topic, s.cfg.QoS, false, payload)
	select {
	case <-token.Done():
		return token.Error()
	default:
		return nil
	}
}

func (s *MQTTSink) Close() error {
	if s.client.IsConnected() {
		s.client.Publish(s.cfg.statusTopic(), 1, true, "offline").WaitTimeout(time.Second)
	}
	s.client.Disconnect(250)
	return nil
}
