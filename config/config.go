package config

import (
	"fmt"
	"os"
	"sync"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the top-level application configuration.
type Config struct {
	mu sync.Mutex `yaml:"-"`

	NodeID string `yaml:"node_id"`

	Link      LinkConfig      `yaml:"link"`
	Bridge    BridgeConfig    `yaml:"bridge"`
	Web       WebConfig       `yaml:"web"`
	Messaging MessagingConfig `yaml:"messaging"`
	Journal   JournalConfig   `yaml:"journal"`
	Mirror    MirrorConfig    `yaml:"mirror"`
}

// LinkConfig defines the printer connection.
type LinkConfig struct {
	Type              string        `yaml:"type"` // "serial" or "tcp"
	Device            string        `yaml:"device"`
	USBVendorID       string        `yaml:"usb_vid"`
	USBProductID      string        `yaml:"usb_pid"`
	Baud              int           `yaml:"baud"`
	Address           string        `yaml:"address"`
	DialTimeout       time.Duration `yaml:"dial_timeout"`
	ReconnectInterval time.Duration `yaml:"reconnect_interval"`
	MaxBackoff        time.Duration `yaml:"max_backoff"`
	TxTimeout         time.Duration `yaml:"tx_timeout"`
	Chirp             string        `yaml:"chirp"`
	InitCommands      []string      `yaml:"init_commands"`
}

// BridgeConfig sizes the line assembler and the subscriber hub.
type BridgeConfig struct {
	MaxLineLength  int           `yaml:"max_line_length"`
	QueueSize      int           `yaml:"queue_size"`
	MaxSubscribers int           `yaml:"max_subscribers"`
	DeliveryIdle   time.Duration `yaml:"delivery_idle"`
	DeliveryBatch  int           `yaml:"delivery_batch"`
}

// WebConfig defines the web server settings.
type WebConfig struct {
	Host         string        `yaml:"host"`
	Port         int           `yaml:"port"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
	Keepalive    time.Duration `yaml:"keepalive"`
}

// MessagingConfig defines the optional broker mirror.
type MessagingConfig struct {
	Enabled        bool        `yaml:"enabled"`
	Backend        string      `yaml:"backend"` // "mqtt" or "kafka"
	MQTT           MQTTConfig  `yaml:"mqtt"`
	Kafka          KafkaConfig `yaml:"kafka"`
	TelemetryTopic string      `yaml:"telemetry_topic"`
	CommandTopic   string      `yaml:"command_topic"`
	ForwardLog     bool        `yaml:"forward_log"`
	QueueSize      int         `yaml:"queue_size"`
}

// MQTTConfig defines MQTT broker settings.
type MQTTConfig struct {
	Broker   string `yaml:"broker"`
	Port     int    `yaml:"port"`
	ClientID string `yaml:"client_id"`
}

// KafkaConfig defines Kafka broker settings.
type KafkaConfig struct {
	Brokers []string `yaml:"brokers"`
	GroupID string   `yaml:"group_id"`
}

// JournalConfig defines the command journal database.
type JournalConfig struct {
	Enabled      bool   `yaml:"enabled"`
	DatabasePath string `yaml:"database_path"`
}

// MirrorConfig defines the Redis live-state mirror.
type MirrorConfig struct {
	Enabled  bool          `yaml:"enabled"`
	Addr     string        `yaml:"addr"`
	Password string        `yaml:"password"`
	DB       int           `yaml:"db"`
	Key      string        `yaml:"key"`
	Interval time.Duration `yaml:"interval"`
}

// Defaults returns a Config with sane defaults for a Prusa Core One on USB.
func Defaults() *Config {
	return &Config{
		NodeID: "coreone",
		Link: LinkConfig{
			Type:              "serial",
			USBVendorID:       "2C99",
			USBProductID:      "001F",
			Baud:              115200,
			DialTimeout:       5 * time.Second,
			ReconnectInterval: 2 * time.Second,
			MaxBackoff:        30 * time.Second,
			TxTimeout:         time.Second,
			Chirp:             "M300 S2000 P50",
			InitCommands:      []string{"M155 S2", "M73"},
		},
		Bridge: BridgeConfig{
			MaxLineLength:  255,
			QueueSize:      32,
			MaxSubscribers: 8,
			DeliveryIdle:   10 * time.Millisecond,
			DeliveryBatch:  16,
		},
		Web: WebConfig{
			Host:         "0.0.0.0",
			Port:         8080,
			WriteTimeout: 2 * time.Second,
			Keepalive:    30 * time.Second,
		},
		Messaging: MessagingConfig{
			Backend:        "mqtt",
			TelemetryTopic: "printbridge/coreone/telemetry",
			CommandTopic:   "printbridge/coreone/commands",
			QueueSize:      256,
			MQTT: MQTTConfig{
				Broker: "localhost",
				Port:   1883,
			},
		},
		Journal: JournalConfig{
			Enabled:      true,
			DatabasePath: "printbridge.db",
		},
		Mirror: MirrorConfig{
			Addr:     "localhost:6379",
			Key:      "printbridge:coreone:state",
			Interval: time.Second,
		},
	}
}

// Load reads a YAML config file. If the file doesn't exist, defaults are used.
func Load(path string) (*Config, error) {
	cfg := Defaults()
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, err
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Save writes the config to a YAML file.
func (c *Config) Save(path string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	data, err := yaml.Marshal(c)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}

// Validate rejects settings the bridge cannot run with.
func (c *Config) Validate() error {
	switch c.Link.Type {
	case "serial":
		if c.Link.Device == "" && (c.Link.USBVendorID == "" || c.Link.USBProductID == "") {
			return fmt.Errorf("link: serial needs device or usb_vid/usb_pid")
		}
		if c.Link.Baud <= 0 {
			return fmt.Errorf("link: baud must be positive")
		}
	case "tcp":
		if c.Link.Address == "" {
			return fmt.Errorf("link: tcp needs address")
		}
	default:
		return fmt.Errorf("link: unknown type %q", c.Link.Type)
	}
	if c.Bridge.MaxLineLength <= 0 || c.Bridge.QueueSize <= 0 || c.Bridge.MaxSubscribers <= 0 {
		return fmt.Errorf("bridge: max_line_length, queue_size and max_subscribers must be positive")
	}
	if c.Messaging.Enabled {
		switch c.Messaging.Backend {
		case "mqtt", "kafka":
		default:
			return fmt.Errorf("messaging: unknown backend %q", c.Messaging.Backend)
		}
	}
	return nil
}

// ClientID returns the MQTT client id, defaulting to the node id.
func (c *Config) ClientID() string {
	if c.Messaging.MQTT.ClientID != "" {
		return c.Messaging.MQTT.ClientID
	}
	return "printbridge-" + c.NodeID
}

// KafkaGroupID returns the Kafka consumer group, defaulting to the node id.
func (c *Config) KafkaGroupID() string {
	if c.Messaging.Kafka.GroupID != "" {
		return c.Messaging.Kafka.GroupID
	}
	return "printbridge-" + c.NodeID
}
