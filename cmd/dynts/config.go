package main

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	dynts "github.com/linrium/dyn-ts"
)

type Config struct {
	Hypertable string         `yaml:"hypertable"`
	Timestamp  string         `yaml:"timestamp"`
	Limit      int            `yaml:"limit"`
	Indexer    string         `yaml:"indexer"`
	Columns    []dynts.Column `yaml:"columns"`
	Dimensions []string       `yaml:"dimensions"`
	Store      StoreConfig    `yaml:"store"`
	Journal    string         `yaml:"journal"`
	Verbose    bool           `yaml:"verbose"`
}

type StoreConfig struct {
	Kind        string        `yaml:"kind"`
	Path        string        `yaml:"path"`
	BusyTimeout time.Duration `yaml:"busy_timeout"`
	DynamoDB    DynamoConfig  `yaml:"dynamodb"`
}

type DynamoConfig struct {
	Table           string `yaml:"table"`
	Region          string `yaml:"region"`
	Endpoint        string `yaml:"endpoint"`
	AccessKeyID     string `yaml:"access_key_id"`
	SecretAccessKey string `yaml:"secret_access_key"`
	ConsistentRead  bool   `yaml:"consistent_read"`
}

const (
	storeMemory   = "memory"
	storeBolt     = "bolt"
	storeSQLite   = "sqlite"
	storeDynamoDB = "dynamodb"

	indexerName  = "name"
	indexerValue = "value"
)

// DefaultConfig is the weather demo: city readings bucketed by day, keyed
// by city.
func DefaultConfig() Config {
	return Config{
		Hypertable: "weather",
		Timestamp:  "01012022",
		Limit:      dynts.LimitItemSize,
		Indexer:    indexerName,
		Columns: []dynts.Column{
			{Name: "city_name", Type: dynts.Text},
			{Name: "temp_c", Type: dynts.Float32},
			{Name: "wind_speed_ms", Type: dynts.Float32},
		},
		Dimensions: []string{"city_name"},
		Store:      StoreConfig{Kind: storeMemory},
	}
}

// LoadConfig reads a YAML file over DefaultConfig. Unknown keys are errors.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()
	raw, err := os.ReadFile(path)
	if err != nil {
		return cfg, err
	}
	if err := parseConfig(raw, &cfg); err != nil {
		return cfg, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

func parseConfig(raw []byte, cfg *Config) error {
	dec := yaml.NewDecoder(bytes.NewReader(raw))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return cfg.Validate()
}

func (c *Config) Validate() error {
	if c.Hypertable == "" {
		return errors.New("hypertable is required")
	}
	if c.Timestamp == "" {
		return errors.New("timestamp is required")
	}
	if c.Limit <= 0 {
		return fmt.Errorf("limit must be positive, got %d", c.Limit)
	}
	switch c.Indexer {
	case "", indexerName, indexerValue:
	default:
		return fmt.Errorf("unknown indexer %q (wanted %s or %s)", c.Indexer, indexerName, indexerValue)
	}
	if _, err := c.dimensionColumns(); err != nil {
		return err
	}
	switch c.Store.Kind {
	case storeMemory, storeDynamoDB:
	case storeBolt, storeSQLite:
		if c.Store.Path == "" {
			return fmt.Errorf("store %s needs a path", c.Store.Kind)
		}
	default:
		return fmt.Errorf("unknown store kind %q", c.Store.Kind)
	}
	return nil
}

func (c *Config) dimensionColumns() ([]dynts.Column, error) {
	if len(c.Columns) == 0 {
		return nil, errors.New("at least one column is required")
	}
	dims := make([]dynts.Column, 0, len(c.Dimensions))
	for _, name := range c.Dimensions {
		found := false
		for _, col := range c.Columns {
			if col.Name == name {
				dims = append(dims, col)
				found = true
				break
			}
		}
		if !found {
			return nil, fmt.Errorf("dimension %s is not a column", name)
		}
	}
	return dims, nil
}

func (c *Config) indexer() dynts.Indexer {
	if c.Indexer == indexerValue {
		return dynts.ValueIndexer{}
	}
	return dynts.NameIndexer{}
}
