package driver

import (
	"strings"

	"modlink/config"
)

// Create constructs a Client for the given controller configuration.
// Unset fields are resolved from the environment-backed defaults before
// construction. The returned client is disconnected; the caller (usually
// the connection manager) is responsible for dialing.
func Create(cfg *config.PLCConfig) (Client, error) {
	if cfg == nil {
		return nil, ConfigurationErrorf("nil config")
	}

	resolved := *cfg
	fillFromDefaults(&resolved)

	kind := config.NormalizeKind(resolved.Kind)
	if !kind.Valid() {
		return nil, ConfigurationErrorf("unknown PLC kind %q (valid kinds: %s)",
			resolved.Kind, strings.Join(config.ValidKinds(), ", "))
	}

	switch kind {
	case config.KindSim:
		return NewSimClient(WithScene(resolved.Scene)), nil
	case config.KindMicro820, config.KindFactoryIO:
		return NewModbusClient(ModbusOptions{
			Host:    resolved.Host,
			Port:    resolved.Port,
			Timeout: resolved.Timeout,
		}), nil
	default:
		// Unreachable: kind.Valid() covers the closed set.
		return nil, ConfigurationErrorf("unhandled PLC kind %q", kind)
	}
}

// fillFromDefaults resolves unset fields against the documented defaults
// (and, through config.Load, the process environment).
func fillFromDefaults(cfg *config.PLCConfig) {
	defaults := config.DefaultConfig().PLC
	if cfg.Kind == "" {
		cfg.Kind = defaults.Kind
	}
	if cfg.Host == "" {
		cfg.Host = defaults.Host
	}
	if cfg.Port <= 0 {
		cfg.Port = defaults.Port
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaults.Timeout
	}
	if cfg.RetryCount <= 0 {
		cfg.RetryCount = defaults.RetryCount
	}
	if cfg.Scene == "" {
		cfg.Scene = defaults.Scene
	}
}
