// Package config loads the peripheral description from YAML.
package config

import (
	"encoding/hex"
	"fmt"
	"os"
	"strings"

	"github.com/mcuadros/go-defaults"
	"gopkg.in/yaml.v3"

	"github.com/user/peripheral-blue/wire/gatt"
)

// DemoUUID is both the service and characteristic UUID of the demonstration peripheral.
const DemoUUID = "D9D9D9FB-8C28-4C5E-94E9-58C23B7C69E2"

type Config struct {
	Name          string          `yaml:"name" default:"peripheral-blue"`
	LogLevel      string          `yaml:"log_level" default:"info"`
	Socket        string          `yaml:"socket"` // empty: {dataDir}/sockets/peripheral-{name}.sock
	QueueSize     int             `yaml:"queue_size" default:"64"`
	Backlog       int             `yaml:"backlog" default:"16"`
	OutboundQueue int             `yaml:"outbound_queue" default:"32"`
	Services      []ServiceConfig `yaml:"services"`
}

type ServiceConfig struct {
	UUID            string                 `yaml:"uuid"`
	Secondary       bool                   `yaml:"secondary"`
	Characteristics []CharacteristicConfig `yaml:"characteristics"`
}

// CharacteristicConfig gives the initial value either as hex (Value) or as UTF-8 text (Text).
type CharacteristicConfig struct {
	UUID        string   `yaml:"uuid"`
	Properties  []string `yaml:"properties"`
	Permissions []string `yaml:"permissions"`
	Value       string   `yaml:"value"`
	Text        string   `yaml:"text"`
}

// DefaultConfig is the demonstration peripheral: one primary service with a
// single read/write/notify characteristic holding 0xD9.
func DefaultConfig() *Config {
	cfg := &Config{
		Services: []ServiceConfig{{
			UUID: DemoUUID,
			Characteristics: []CharacteristicConfig{{
				UUID:        DemoUUID,
				Properties:  []string{"read", "write", "notify"},
				Permissions: []string{"readable", "writable"},
				Value:       "d9",
			}},
		}},
	}
	defaults.SetDefaults(cfg)
	return cfg
}

// Load reads path. Missing fields take their defaults and a file without
// services gets the demonstration service.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}
	return Parse(data)
}

func Parse(data []byte) (*Config, error) {
	cfg := &Config{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	defaults.SetDefaults(cfg)
	if len(cfg.Services) == 0 {
		cfg.Services = DefaultConfig().Services
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that the table can be built and the numbers make sense.
func (c *Config) Validate() error {
	if c.QueueSize <= 0 {
		return fmt.Errorf("queue_size must be positive, got %d", c.QueueSize)
	}
	if c.Backlog < 0 {
		return fmt.Errorf("backlog must not be negative, got %d", c.Backlog)
	}
	if c.OutboundQueue <= 0 {
		return fmt.Errorf("outbound_queue must be positive, got %d", c.OutboundQueue)
	}
	_, err := c.Table()
	return err
}

// Table builds a fresh attribute table from the configured services.
func (c *Config) Table() (*gatt.Table, error) {
	services := make([]*gatt.Service, 0, len(c.Services))
	for i, sc := range c.Services {
		id, err := gatt.ParseUUID(sc.UUID)
		if err != nil {
			return nil, fmt.Errorf("services[%d]: %w", i, err)
		}
		svc := gatt.NewService(id, !sc.Secondary)

		for j, cc := range sc.Characteristics {
			if err := addCharacteristic(svc, cc); err != nil {
				return nil, fmt.Errorf("services[%d].characteristics[%d]: %w", i, j, err)
			}
		}
		services = append(services, svc)
	}
	return gatt.NewTable(services...)
}

func addCharacteristic(svc *gatt.Service, cc CharacteristicConfig) error {
	id, err := gatt.ParseUUID(cc.UUID)
	if err != nil {
		return err
	}

	var props gatt.Properties
	for _, name := range cc.Properties {
		p, ok := gatt.ParseProperty(name)
		if !ok {
			return fmt.Errorf("unknown property %q", name)
		}
		props |= p
	}

	var perms gatt.Permissions
	for _, name := range cc.Permissions {
		p, ok := gatt.ParsePermission(name)
		if !ok {
			return fmt.Errorf("unknown permission %q", name)
		}
		perms |= p
	}

	value := []byte(cc.Text)
	if cc.Value != "" {
		if cc.Text != "" {
			return fmt.Errorf("value and text are mutually exclusive")
		}
		value, err = hex.DecodeString(strings.TrimPrefix(cc.Value, "0x"))
		if err != nil {
			return fmt.Errorf("value: %w", err)
		}
	}

	_, err = svc.AddCharacteristic(id, props, perms, value)
	return err
}
