// Package config loads the client and server settings files. The files are
// YAML, so the JSON files of older deployments load unchanged.
package config

import (
	"errors"
	"fmt"
	"net"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	DefaultClientPath = "config/client_config.json"
	DefaultServerPath = "config/server_config.json"
	DefaultPort       = 4433
)

var ErrInvalidConfig = errors.New("invalid config")

type ClientConfig struct {
	ServerIP   string `yaml:"server_ip"`
	ServerPort int    `yaml:"server_port"`
	Retries    int    `yaml:"retries"`
	TimeoutMs  int    `yaml:"timeout_ms"`
	BackoffMs  int    `yaml:"backoff_ms"`
	LogLevel   string `yaml:"log_level"`
	LogFile    string `yaml:"log_file"`
}

type ServerConfig struct {
	Port         int    `yaml:"port"`
	Dir          string `yaml:"dir"`
	MaxTransfers int    `yaml:"max_transfers"`
	Progress     bool   `yaml:"progress"`
	LogLevel     string `yaml:"log_level"`
	LogFile      string `yaml:"log_file"`
}

func DefaultClient() *ClientConfig {
	return &ClientConfig{
		ServerIP:   "127.0.0.1",
		ServerPort: DefaultPort,
		Retries:    5,
		TimeoutMs:  2000,
		BackoffMs:  250,
		LogLevel:   "info",
	}
}

func DefaultServer() *ServerConfig {
	return &ServerConfig{
		Port:         DefaultPort,
		Dir:          "./received",
		MaxTransfers: 1000,
		LogLevel:     "info",
	}
}

// LoadClient reads path over the defaults. A missing file is an error.
func LoadClient(path string) (*ClientConfig, error) {
	cfg := DefaultClient()
	if err := load(path, cfg); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func LoadServer(path string) (*ServerConfig, error) {
	cfg := DefaultServer()
	if err := load(path, cfg); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func load(path string, into any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config %s: %w", path, err)
	}

	if err := yaml.Unmarshal(data, into); err != nil {
		return fmt.Errorf("parse config %s: %w", path, err)
	}

	return nil
}

func (c *ClientConfig) Validate() error {
	if c.ServerIP == "" {
		return fmt.Errorf("%w: server_ip is empty", ErrInvalidConfig)
	}
	if err := validPort(c.ServerPort); err != nil {
		return err
	}
	if c.Retries <= 0 {
		return fmt.Errorf("%w: retries must be positive", ErrInvalidConfig)
	}
	if c.TimeoutMs <= 0 {
		return fmt.Errorf("%w: timeout_ms must be positive", ErrInvalidConfig)
	}
	if c.BackoffMs < 0 {
		return fmt.Errorf("%w: backoff_ms must not be negative", ErrInvalidConfig)
	}
	return nil
}

// Addr is the server's host:port.
func (c *ClientConfig) Addr() string {
	return net.JoinHostPort(c.ServerIP, strconv.Itoa(c.ServerPort))
}

func (c *ClientConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutMs) * time.Millisecond
}

func (c *ClientConfig) Backoff() time.Duration {
	return time.Duration(c.BackoffMs) * time.Millisecond
}

func (c *ServerConfig) Validate() error {
	if err := validPort(c.Port); err != nil {
		return err
	}
	if c.Dir == "" {
		return fmt.Errorf("%w: dir is empty", ErrInvalidConfig)
	}
	if c.MaxTransfers <= 0 || c.MaxTransfers > 0xFFFF {
		return fmt.Errorf("%w: max_transfers must be in 1..65535", ErrInvalidConfig)
	}
	return nil
}

func (c *ServerConfig) Addr() string {
	return net.JoinHostPort("", strconv.Itoa(c.Port))
}

func validPort(port int) error {
	if port <= 0 || port > 0xFFFF {
		return fmt.Errorf("%w: port %d out of range", ErrInvalidConfig, port)
	}
	return nil
}
