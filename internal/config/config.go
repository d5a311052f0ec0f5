package config

import (
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
)

type Config struct {
	Env       string          `yaml:"env" env:"ENV" env-default:"local"`
	Log       LogConfig       `yaml:"log"`
	HTTP      HTTPConfig      `yaml:"http"`
	Signaling SignalingConfig `yaml:"signaling"`
	WebSocket WebSocketConfig `yaml:"websocket"`
}

type LogConfig struct {
	Level string `yaml:"level" env:"LOG_LEVEL" env-default:"info"`
}

type HTTPConfig struct {
	Address           string        `yaml:"address" env:"HTTP_ADDRESS" env-default:":8080"`
	ReadHeaderTimeout time.Duration `yaml:"read_header_timeout" env:"HTTP_READ_HEADER_TIMEOUT" env-default:"5s"`
	ShutdownTimeout   time.Duration `yaml:"shutdown_timeout" env:"HTTP_SHUTDOWN_TIMEOUT" env-default:"5s"`
}

type SignalingConfig struct {
	RingTimeout      time.Duration `yaml:"ring_timeout" env:"SIGNALING_RING_TIMEOUT" env-default:"45s"`
	SessionRetention time.Duration `yaml:"session_retention" env:"SIGNALING_SESSION_RETENTION" env-default:"30s"`
}

type WebSocketConfig struct {
	ReadBufferSize  int           `yaml:"read_buffer_size" env:"WS_READ_BUFFER_SIZE" env-default:"4096"`
	WriteBufferSize int           `yaml:"write_buffer_size" env:"WS_WRITE_BUFFER_SIZE" env-default:"4096"`
	SendQueue       int           `yaml:"send_queue" env:"WS_SEND_QUEUE" env-default:"64"`
	MaxMessageBytes int64         `yaml:"max_message_bytes" env:"WS_MAX_MESSAGE_BYTES" env-default:"65536"`
	WriteWait       time.Duration `yaml:"write_wait" env:"WS_WRITE_WAIT" env-default:"10s"`
	PongWait        time.Duration `yaml:"pong_wait" env:"WS_PONG_WAIT" env-default:"60s"`
	AllowedOrigins  []string      `yaml:"allowed_origins" env:"WS_ALLOWED_ORIGINS" env-separator:","`
}

// PingPeriod is how often the server pings; it stays below PongWait.
func (c WebSocketConfig) PingPeriod() time.Duration {
	return c.PongWait * 9 / 10
}

func MustLoad() *Config {
	cfg, err := Load(fetchConfigPath())
	if err != nil {
		panic("cannot read config: " + err.Error())
	}
	return cfg
}

// Load reads the yaml file at path with environment overrides. A missing
// file is not an error: the config then comes from the environment alone.
func Load(path string) (*Config, error) {
	var cfg Config

	if path != "" {
		if _, err := os.Stat(path); err == nil {
			if err := cleanenv.ReadConfig(path, &cfg); err != nil {
				return nil, fmt.Errorf("read %s: %w", path, err)
			}
			return &cfg, cfg.validate()
		}
	}

	if err := cleanenv.ReadEnv(&cfg); err != nil {
		return nil, fmt.Errorf("read env: %w", err)
	}
	return &cfg, cfg.validate()
}

func fetchConfigPath() string {
	var res string

	flag.StringVar(&res, "config", "", "path to config file")
	flag.Parse()

	if res == "" {
		res = os.Getenv("CONFIG_PATH")
	}

	if res == "" {
		res = "config/local.yaml"
	}

	return res
}

func (c *Config) validate() error {
	if c.Signaling.RingTimeout <= 0 {
		return fmt.Errorf("signaling.ring_timeout must be positive, got %s", c.Signaling.RingTimeout)
	}
	if c.Signaling.SessionRetention < 0 {
		return fmt.Errorf("signaling.session_retention must not be negative, got %s", c.Signaling.SessionRetention)
	}
	if c.WebSocket.SendQueue <= 0 {
		return fmt.Errorf("websocket.send_queue must be positive, got %d", c.WebSocket.SendQueue)
	}
	if c.WebSocket.PongWait <= 0 || c.WebSocket.WriteWait <= 0 {
		return fmt.Errorf("websocket pong_wait and write_wait must be positive")
	}
	return nil
}
