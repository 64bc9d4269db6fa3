// config.go - on-disk device configuration.
// Copyright (C) 2026  OSM Contributors
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as
// published by the Free Software Foundation, either version 3 of the
// License, or (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program.  If not, see <http://www.gnu.org/licenses/>.

// Package config loads the TOML configuration file a device reads at
// startup: where its bbolt database lives, what the host-simulator
// transport listens on, and its human-readable device name.
package config

import (
	"github.com/BurntSushi/toml"
	"github.com/pkg/errors"
)

// Transport selects and configures the host-simulator TCP transport (the
// only transport spec.md §6.1 requires; a future BLE transport would add
// its own section here rather than repurposing this one).
type Transport struct {
	// Listen is the host:port the TCP transport accepts CA connections on.
	Listen string

	// ControlListen is the host:port the C9 command-dispatcher control
	// surface accepts connections on (spec 6.2's CMD: line protocol).
	// Left empty, no control listener starts — useful for osmctl-style
	// in-process driving of the dispatcher without any socket at all.
	ControlListen string
}

// Config is the complete on-disk device configuration.
type Config struct {
	// DataDir holds the bbolt database file (see storage.Open).
	DataDir string

	// DeviceName answers CMD:DEVICE_NAME and the BLE INFO characteristic's
	// analogue.
	DeviceName string

	Transport Transport
}

func (c *Config) validate() error {
	if c.DataDir == "" {
		return errors.New("config: DataDir is required")
	}
	if c.DeviceName == "" {
		return errors.New("config: DeviceName is required")
	}
	if c.Transport.Listen == "" {
		return errors.New("config: Transport.Listen is required")
	}
	return nil
}

// FromFile parses and validates the TOML configuration at path.
func FromFile(path string) (*Config, error) {
	cfg := &Config{}
	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return nil, errors.Wrap(err, "config: decode")
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}
