// Package config loads the bus configuration from a YAML file: storage,
// streams, handlers, consumer tuning, scheduler and saga definitions.
package config

import (
	"os"
	"time"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

// Duration unmarshals YAML strings like "5s" or "1m30s"
type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var raw string

	if err := value.Decode(&raw); err != nil {
		return errors.Wrap(err, "decoding duration")
	}

	parsed, err := time.ParseDuration(raw)

	if err != nil {
		return errors.Wrapf(err, "parsing duration %q", raw)
	}

	d.Duration = parsed

	return nil
}

type Config struct {
	Server    Server    `yaml:"server"`
	Storage   Storage   `yaml:"storage"`
	AMQP      AMQP      `yaml:"amqp"`
	Streams   []Stream  `yaml:"streams"`
	Handlers  []Handler `yaml:"handlers"`
	Consumer  Consumer  `yaml:"consumer"`
	Scheduler Scheduler `yaml:"scheduler"`
	Sagas     []SagaDef `yaml:"sagas"`
}

type Server struct {
	Address string `yaml:"address"`
}

type Storage struct {
	// Driver is "mysql", "pg" or empty for in-memory stores
	Driver string `yaml:"driver"`
	DSN    string `yaml:"dsn"`
}

type AMQP struct {
	URL      string `yaml:"url"`
	Exchange string `yaml:"exchange"`
}

type Stream struct {
	Name          string   `yaml:"name"`
	SchemaVersion string   `yaml:"schema_version"`
	Retention     Duration `yaml:"retention"`
	PartitionKey  string   `yaml:"partition_key"`
}

type Handler struct {
	ID         string       `yaml:"id"`
	Stream     string       `yaml:"stream"`
	EventTypes []string     `yaml:"event_types"`
	Priority   int          `yaml:"priority"`
	Retry      *RetryPolicy `yaml:"retry"`
}

type RetryPolicy struct {
	MaxRetries      int        `yaml:"max_retries"`
	BackoffDelays   []Duration `yaml:"backoff_delays"`
	DeadLetterAfter int        `yaml:"dead_letter_after"`
}

type Consumer struct {
	Group             string   `yaml:"group"`
	WorkersCount      int      `yaml:"workers_count"`
	BatchSize         int      `yaml:"batch_size"`
	PollBlock         Duration `yaml:"poll_block"`
	ProcessingMaxTime Duration `yaml:"processing_max_time"`
	ReclaimInterval   Duration `yaml:"reclaim_interval"`
	ReclaimIdleAfter  Duration `yaml:"reclaim_idle_after"`
}

type Scheduler struct {
	SweepInterval Duration `yaml:"sweep_interval"`
	BatchSize     int      `yaml:"batch_size"`
	// TrimInterval is how often streams are swept for events past retention
	TrimInterval Duration `yaml:"trim_interval"`
}

type SagaDef struct {
	Name  string     `yaml:"name"`
	Steps []SagaStep `yaml:"steps"`
}

type SagaStep struct {
	Name    string   `yaml:"name"`
	Timeout Duration `yaml:"timeout"`
}

// Load reads and validates a config file
func Load(path string) (*Config, error) {
	raw, err := os.ReadFile(path)

	if err != nil {
		return nil, errors.Wrapf(err, "reading config file %s", path)
	}

	cfg := &Config{}

	if err := yaml.Unmarshal(raw, cfg); err != nil {
		return nil, errors.Wrapf(err, "parsing config file %s", path)
	}

	if err := cfg.validate(); err != nil {
		return nil, errors.Wrapf(err, "validating config file %s", path)
	}

	return cfg, nil
}

func (c *Config) validate() error {
	if c.Storage.Driver != "" && c.Storage.Driver != "mysql" && c.Storage.Driver != "pg" {
		return errors.Errorf("unknown storage driver %q, expected mysql, pg or empty", c.Storage.Driver)
	}

	if c.Storage.Driver != "" && c.Storage.DSN == "" {
		return errors.Errorf("storage driver %s requires a dsn", c.Storage.Driver)
	}

	seenStreams := make(map[string]struct{}, len(c.Streams))

	for _, s := range c.Streams {
		if s.Name == "" {
			return errors.New("stream with an empty name")
		}

		if _, exists := seenStreams[s.Name]; exists {
			return errors.Errorf("stream %s is declared twice", s.Name)
		}

		seenStreams[s.Name] = struct{}{}
	}

	for _, h := range c.Handlers {
		if h.ID == "" {
			return errors.New("handler with an empty id")
		}

		if h.Stream == "" {
			return errors.Errorf("handler %s has no stream", h.ID)
		}

		if _, exists := seenStreams[h.Stream]; !exists {
			return errors.Errorf("handler %s references undeclared stream %s", h.ID, h.Stream)
		}
	}

	for _, def := range c.Sagas {
		if def.Name == "" {
			return errors.New("saga definition with an empty name")
		}

		if len(def.Steps) == 0 {
			return errors.Errorf("saga definition %s has no steps", def.Name)
		}

		for i, step := range def.Steps {
			if step.Name == "" {
				return errors.Errorf("saga definition %s has an unnamed step at index %d", def.Name, i)
			}
		}
	}

	return nil
}
