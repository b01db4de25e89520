package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
	"github.com/punchamoorthee/claimrelay/internal/domain"
	"gopkg.in/yaml.v3"
)

const envPrefix = "RELAY"

const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
)

type Config struct {
	Env      string `yaml:"env"      envconfig:"ENVIRONMENT"`
	Port     string `yaml:"port"     envconfig:"SERVER_PORT"`
	LogLevel string `yaml:"logLevel" split_words:"true"`

	StoreDriver string `yaml:"storeDriver" split_words:"true"`
	DBSource    string `yaml:"dbSource"    envconfig:"DB_SOURCE"`
	SQLitePath  string `yaml:"sqlitePath"  split_words:"true"`

	AMQPURL          string        `yaml:"amqpUrl"          envconfig:"AMQP_URL"`
	InboundExchange  string        `yaml:"inboundExchange"  split_words:"true"`
	OutboundExchange string        `yaml:"outboundExchange" split_words:"true"`
	InboundQueue     string        `yaml:"inboundQueue"     split_words:"true"`
	Workers          int           `yaml:"workers"`
	RPCTimeout       time.Duration `yaml:"rpcTimeout"       split_words:"true"`

	GlobalAdmins      AdminList `yaml:"globalAdmins"      split_words:"true"`
	DefaultSourceRoom int64     `yaml:"defaultSourceRoom" split_words:"true"`
	DefaultTargetRoom int64     `yaml:"defaultTargetRoom" split_words:"true"`

	MinAmount int `yaml:"minAmount" split_words:"true"`
	MaxAmount int `yaml:"maxAmount" split_words:"true"`

	RetryAttempts int           `yaml:"retryAttempts" split_words:"true"`
	RetryDelay    time.Duration `yaml:"retryDelay"    split_words:"true"`
	RetryFactor   float64       `yaml:"retryFactor"   split_words:"true"`

	LooseMatching  bool `yaml:"looseMatching"  split_words:"true"`
	ConfirmButtons bool `yaml:"confirmButtons" split_words:"true"`
}

// AdminList decodes "id[:handle],..." from the environment.
type AdminList []domain.Admin

func (l *AdminList) Decode(value string) error {
	var out AdminList
	for _, part := range strings.Split(value, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		idStr, handle, _ := strings.Cut(part, ":")
		id, err := strconv.ParseInt(strings.TrimSpace(idStr), 10, 64)
		if err != nil {
			return fmt.Errorf("invalid admin id %q: %w", idStr, err)
		}
		out = append(out, domain.Admin{ID: id, Handle: strings.TrimSpace(handle)})
	}
	*l = out
	return nil
}

// IDs returns the admin ids in configured order.
func (l AdminList) IDs() []int64 {
	ids := make([]int64, 0, len(l))
	for _, a := range l {
		ids = append(ids, a.ID)
	}
	return ids
}

func defaults() *Config {
	return &Config{
		Env:              "development",
		Port:             "8080",
		LogLevel:         "info",
		StoreDriver:      DriverSQLite,
		SQLitePath:       "relay.sqlite",
		InboundExchange:  "chat.inbound",
		OutboundExchange: "chat.outbound",
		InboundQueue:     "claimrelay.inbound",
		Workers:          4,
		RPCTimeout:       15 * time.Second,
		MinAmount:        100,
		MaxAmount:        200,
		RetryAttempts:    3,
		RetryDelay:       2 * time.Second,
		RetryFactor:      1.5,
	}
}

// Load builds the configuration from defaults, an optional YAML file and the environment.
func Load(path string) (*Config, error) {
	cfg := defaults()

	if path != "" {
		buf, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(buf, cfg); err != nil {
			return nil, fmt.Errorf("parse config file: %w", err)
		}
	}

	if err := envconfig.Process(envPrefix, cfg); err != nil {
		return nil, fmt.Errorf("process environment: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	switch c.StoreDriver {
	case DriverPostgres:
		if c.DBSource == "" {
			return errors.New("DB_SOURCE environment variable is required for the postgres driver")
		}
	case DriverSQLite:
		if c.SQLitePath == "" {
			return errors.New("sqlite path is required for the sqlite driver")
		}
	default:
		return fmt.Errorf("unknown store driver %q", c.StoreDriver)
	}
	if c.MinAmount > c.MaxAmount {
		return fmt.Errorf("min amount %d exceeds max amount %d", c.MinAmount, c.MaxAmount)
	}
	if c.RetryAttempts < 1 {
		return errors.New("retry attempts must be at least 1")
	}
	if c.RetryFactor < 1 {
		return errors.New("retry factor must be at least 1")
	}
	if c.Workers < 1 {
		return errors.New("workers must be at least 1")
	}
	return nil
}

func (c *Config) Production() bool { return c.Env == "production" }
