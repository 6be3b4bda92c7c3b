// Copyright 2026 the sysprops authors.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package config holds the settings shared by the client library and the
// property service: where areas and sockets live, protocol selection, and
// the timeouts and tuning knobs both sides need to agree on.
package config

import (
	"os"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/creasty/defaults"
	"github.com/pkg/errors"
)

const (
	socketServiceName          = "property_service"
	socketServiceForSystemName = "property_service_for_system"
)

// Config is loaded once per process. Precedence, highest first: explicit
// setter calls, then the §6 environment variables, then a TOML file named by
// PROPERTY_SERVICE_CONFIG, then the struct tag defaults below.
type Config struct {
	PropertiesDir string `toml:"properties_dir" default:"/dev/__properties__"`
	SocketDir     string `toml:"socket_dir" default:"/dev/socket"`

	// SocketPath and SocketForSystemPath are derived from SocketDir unless
	// overridden individually.
	SocketPath          string `toml:"socket_path"`
	SocketForSystemPath string `toml:"socket_for_system_path"`

	ProtocolVersion int `toml:"protocol_version" default:"2"`

	ConnectTimeout time.Duration `toml:"connect_timeout" default:"250ms"`
	IOTimeout      time.Duration `toml:"io_timeout" default:"2s"`

	// SpinLimit is the pause-yield iteration bound for Read() on a dirty
	// property before parking on a futex. No reader in this module consults
	// it: Get, Iterate and Wait pass a fixed bound of 128, equal to this
	// default.
	SpinLimit int `toml:"spin_limit" default:"128"`

	// HeadroomMultiplier sizes builder-produced areas relative to their
	// packed content, leaving room for later ad hoc `add`s.
	HeadroomMultiplier float64 `toml:"headroom_multiplier" default:"2.0"`

	PersistLogPath string `toml:"persist_log_path" default:"/dev/__properties__/persist_log"`

	socketDirExplicit bool
}

// Load builds a Config from defaults, an optional TOML file named by
// PROPERTY_SERVICE_CONFIG, then the §6 environment variables.
func Load() (*Config, error) {
	cfg := &Config{}
	if err := defaults.Set(cfg); err != nil {
		return nil, errors.Wrap(err, "set config defaults")
	}

	if path := os.Getenv("PROPERTY_SERVICE_CONFIG"); path != "" {
		if _, err := toml.DecodeFile(path, cfg); err != nil {
			return nil, errors.Wrapf(err, "decode config file %s", path)
		}
	}

	cfg.applyEnv()
	cfg.fillSocketPaths()
	return cfg, nil
}

func (c *Config) applyEnv() {
	if v := os.Getenv("PROPERTY_SERVICE_SOCKET_DIR"); v != "" {
		c.SocketDir = v
	}
	if v := os.Getenv("PROPERTY_SERVICE_SOCKET"); v != "" {
		c.SocketPath = v
	}
	if v := os.Getenv("PROPERTY_SERVICE_FOR_SYSTEM_SOCKET"); v != "" {
		c.SocketForSystemPath = v
	}
	if v := os.Getenv("PROPERTY_SERVICE_VERSION"); v == "1" || v == "2" {
		if v == "1" {
			c.ProtocolVersion = 1
		} else {
			c.ProtocolVersion = 2
		}
	}
}

func (c *Config) fillSocketPaths() {
	if c.SocketPath == "" {
		c.SocketPath = c.SocketDir + "/" + socketServiceName
	}
	if c.SocketForSystemPath == "" {
		c.SocketForSystemPath = c.SocketDir + "/" + socketServiceForSystemName
	}
}

// SetSocketDir overrides the socket directory and re-derives both socket
// paths from it, replacing any path that came from the environment, a
// config file, or the defaults. This call takes
// precedence over anything environment or file based, matching the
// client's "first call wins" init semantics.
func (c *Config) SetSocketDir(dir string) {
	c.SocketDir = dir
	c.socketDirExplicit = true
	c.SocketPath = dir + "/" + socketServiceName
	c.SocketForSystemPath = dir + "/" + socketServiceForSystemName
}

// SetPropertiesDir overrides the properties directory explicitly.
func (c *Config) SetPropertiesDir(dir string) {
	c.PropertiesDir = dir
}
