/*---------------------------------------------------------------------------------------------
 *  Copyright (c) Microsoft Corporation. All rights reserved.
 *  Licensed under the MIT License. See LICENSE in the project root for license information.
 *--------------------------------------------------------------------------------------------*/

package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/go-logr/logr"
	"gopkg.in/yaml.v3"

	"github.com/ai-debugger-inc/aidb/internal/dap"
)

const (
	NetworkTCP       = "tcp"
	NetworkUnix      = "unix"
	NetworkWebSocket = "websocket"
)

type Config struct {
	Adapter    AdapterConfig    `yaml:"adapter"`
	Connection ConnectionConfig `yaml:"connection"`
	Events     EventsConfig     `yaml:"events"`
}

// AdapterConfig locates the debug adapter to connect to.
type AdapterConfig struct {
	// Network is "tcp", "unix" or "websocket". For WebSocket adapters the address is a ws:// or wss:// URL.
	Network string `yaml:"network"`
	Address string `yaml:"address"`

	// ID is the adapter ID sent with the initialize request.
	ID string `yaml:"id"`
}

type ConnectionConfig struct {
	ConnectTimeout       time.Duration `yaml:"connect_timeout"`
	RetryInterval        time.Duration `yaml:"retry_interval"`
	DisconnectTimeout    time.Duration `yaml:"disconnect_timeout"`
	RequestTimeout       time.Duration `yaml:"request_timeout"`
	RecoveryAttempts     int           `yaml:"recovery_attempts"`
	RecoveryInitialDelay time.Duration `yaml:"recovery_initial_delay"`
	AutoRecovery         bool          `yaml:"auto_recovery"`
}

type EventsConfig struct {
	BreakpointHistorySize int `yaml:"breakpoint_history_size"`
}

func defaultConfig() *Config {
	return &Config{
		Adapter: AdapterConfig{
			Network: NetworkTCP,
			ID:      "aidb",
		},
		Connection: ConnectionConfig{
			ConnectTimeout:       dap.DefaultConnectTimeout,
			RetryInterval:        dap.DefaultConnectRetryInterval,
			DisconnectTimeout:    dap.DefaultDisconnectTimeout,
			RequestTimeout:       dap.DefaultRequestTimeout,
			RecoveryAttempts:     dap.DefaultRecoveryAttempts,
			RecoveryInitialDelay: dap.DefaultRecoveryInitialDelay,
			AutoRecovery:         true,
		},
		Events: EventsConfig{
			BreakpointHistorySize: dap.DefaultBreakpointHistorySize,
		},
	}
}

// Default returns the configuration used when no configuration file is given.
func Default() *Config {
	return defaultConfig()
}

// Load reads a YAML configuration file. Settings missing from the file keep their default values.
// An empty path returns the defaults.
func Load(path string) (*Config, error) {
	cfg := defaultConfig()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("could not read configuration file '%s': %w", path, err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("configuration file '%s' is invalid: %w", path, err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration file '%s' is invalid: %w", path, err)
	}

	return cfg, nil
}

// Validate checks that the configuration can be used to create a session.
// The adapter address is not checked, because it is often supplied on the command line.
func (c *Config) Validate() error {
	var errs []error

	switch c.Adapter.Network {
	case NetworkTCP, NetworkUnix, NetworkWebSocket:
	default:
		errs = append(errs, fmt.Errorf("adapter network must be '%s', '%s' or '%s', not '%s'", NetworkTCP, NetworkUnix, NetworkWebSocket, c.Adapter.Network))
	}

	if c.Connection.ConnectTimeout < 0 || c.Connection.RetryInterval < 0 || c.Connection.DisconnectTimeout < 0 ||
		c.Connection.RequestTimeout < 0 || c.Connection.RecoveryInitialDelay < 0 {
		errs = append(errs, errors.New("connection timeouts and intervals cannot be negative"))
	}
	if c.Connection.RecoveryAttempts < 0 {
		errs = append(errs, errors.New("recovery attempts cannot be negative"))
	}
	if c.Events.BreakpointHistorySize < 0 {
		errs = append(errs, errors.New("breakpoint history size cannot be negative"))
	}

	return errors.Join(errs...)
}

func (a AdapterConfig) newTransport() dap.Transport {
	if a.Network == NetworkWebSocket {
		return dap.NewWebSocketTransport(a.Address)
	}
	return dap.NewSocketTransport(a.Network, a.Address)
}

// SessionConfig translates the configuration into the settings of a debug session.
func (c *Config) SessionConfig(log logr.Logger) dap.SessionConfig {
	return dap.SessionConfig{
		Transport:           c.Adapter.newTransport(),
		ConnectTimeout:      c.Connection.ConnectTimeout,
		DisableAutoRecovery: !c.Connection.AutoRecovery,
		Connection: dap.ConnectionManagerConfig{
			RetryInterval:        c.Connection.RetryInterval,
			DisconnectTimeout:    c.Connection.DisconnectTimeout,
			RecoveryAttempts:     c.Connection.RecoveryAttempts,
			RecoveryInitialDelay: c.Connection.RecoveryInitialDelay,
		},
		Events: dap.EventProcessorConfig{
			BreakpointHistorySize: c.Events.BreakpointHistorySize,
		},
		Requests: dap.RequestHandlerConfig{
			RequestTimeout: c.Connection.RequestTimeout,
		},
		Logger: log,
	}
}
