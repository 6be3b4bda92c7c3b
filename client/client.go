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

// Package client is the application-facing get/set/wait surface. It reads
// directly from shared memory and only talks to the property service for
// mutations.
package client

import (
	"net"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/hiking90/sysprops/config"
	"github.com/hiking90/sysprops/contexts"
	"github.com/hiking90/sysprops/errkind"
	"github.com/hiking90/sysprops/namespace"
	"github.com/hiking90/sysprops/proparea"
	"github.com/hiking90/sysprops/propbuild"
	"github.com/hiking90/sysprops/wire"
)

// Client is a process-wide handle onto the property namespace, plus
// whatever is needed to reach the write service.
type Client struct {
	cfg *config.Config
	ns  *namespace.Namespace
}

var (
	globalOnce   sync.Once
	globalClient *Client
	globalErr    error
)

// Init is idempotent: the first call builds the process-wide Client from
// cfg (nil means config.Load's defaults/env); later calls return the
// existing instance and ignore cfg, matching "first call wins".
func Init(cfg *config.Config) (*Client, error) {
	globalOnce.Do(func() {
		if cfg == nil {
			cfg, globalErr = config.Load()
			if globalErr != nil {
				return
			}
		}
		globalClient, globalErr = newClient(cfg)
	})
	if globalErr != nil {
		return nil, globalErr
	}
	return globalClient, nil
}

func newClient(cfg *config.Config) (*Client, error) {
	contextsPath := cfg.PropertiesDir + "/property_contexts"
	idx, err := contexts.Load(contextsPath)
	if err != nil {
		return nil, errors.Wrap(err, "load context rules")
	}

	areas := map[string]*proparea.Area{}
	var loadOrder []string
	for _, ctx := range idx.Contexts() {
		path := cfg.PropertiesDir + "/" + ctx + ".prop"
		area, err := proparea.OpenReadOnly(path)
		if err != nil {
			logrus.WithFields(logrus.Fields{"context": ctx, "path": path}).WithError(err).Warn("skipping unreadable context area")
			continue
		}
		areas[ctx] = area
		loadOrder = append(loadOrder, ctx)
	}

	var serialArea *proparea.Area
	if a, err := proparea.OpenReadOnly(cfg.PropertiesDir + "/" + propbuild.SerialAreaFilename); err == nil {
		serialArea = a
	}

	ns, err := namespace.New(idx, areas, loadOrder, serialArea)
	if err != nil {
		return nil, errors.Wrap(err, "build namespace")
	}
	return &Client{cfg: cfg, ns: ns}, nil
}

// Get returns a property's current value, or ok=false if unset.
func (c *Client) Get(name string) (value string, ok bool, err error) {
	v, _, found, err := c.ns.Get(name)
	if err != nil {
		return "", false, err
	}
	return string(v), found, nil
}

// GetWithDefault never distinguishes "not found" from a parse failure: it
// always returns either the stored value or def.
func (c *Client) GetWithDefault(name, def string) string {
	v, ok, err := c.Get(name)
	if err != nil || !ok {
		return def
	}
	return v
}

// ParseError reports a typed getter's inability to parse a stored value,
// distinct from the property simply not existing.
type ParseError struct {
	Name  string
	Value string
	Cause error
}

func (e *ParseError) Error() string {
	return "parse property " + e.Name + "=" + e.Value + ": " + e.Cause.Error()
}
func (e *ParseError) Unwrap() error { return e.Cause }

// ErrNotFound is returned by GetTyped when the property does not exist.
var ErrNotFound = errors.New("property not found")

// GetTyped parses a stored value into T, returning ErrNotFound if the
// property is unset or a *ParseError if its value does not parse as T.
func GetTyped[T Typed](c *Client, name string) (T, error) {
	var zero T
	raw, ok, err := c.Get(name)
	if err != nil {
		return zero, err
	}
	if !ok {
		return zero, ErrNotFound
	}
	v, err := parseTyped[T](raw)
	if err != nil {
		return zero, &ParseError{Name: name, Value: raw, Cause: err}
	}
	return v, nil
}

// Typed enumerates the scalar types typed getters support.
type Typed interface {
	bool | int32 | int64 | uint32 | uint64
}

func parseTyped[T Typed](raw string) (T, error) {
	var zero T
	switch any(zero).(type) {
	case bool:
		v, err := strconv.ParseBool(raw)
		return any(v).(T), err
	case int32:
		v, err := strconv.ParseInt(raw, 10, 32)
		return any(int32(v)).(T), err
	case int64:
		v, err := strconv.ParseInt(raw, 10, 64)
		return any(v).(T), err
	case uint32:
		v, err := strconv.ParseUint(raw, 10, 32)
		return any(uint32(v)).(T), err
	case uint64:
		v, err := strconv.ParseUint(raw, 10, 64)
		return any(v).(T), err
	}
	return zero, errors.New("unsupported typed getter type")
}

// Set validates name/value, frames a set request, and sends it to the
// property service, retrying the connect step within the configured
// connect-timeout budget.
func (c *Client) Set(name, value string) error {
	if err := validateName(name); err != nil {
		return err
	}
	if err := validateValue(name, value); err != nil {
		return err
	}

	socketPath := c.cfg.SocketPath
	if strings.HasPrefix(name, "ctl.") {
		socketPath = c.cfg.SocketForSystemPath
	}

	conn, err := c.dial(socketPath)
	if err != nil {
		return errkind.New(errkind.ServiceUnavailable, err.Error())
	}
	defer conn.Close()

	_ = conn.SetDeadline(time.Now().Add(c.cfg.IOTimeout))

	var frame []byte
	if c.cfg.ProtocolVersion == 1 {
		frame, err = wire.EncodeV1(name, value)
	} else {
		frame, err = wire.EncodeV2Request(name, value)
	}
	if err != nil {
		return err
	}
	if _, err := conn.Write(frame); err != nil {
		return errkind.New(errkind.ServiceUnavailable, err.Error())
	}

	if c.cfg.ProtocolVersion != 2 {
		return nil
	}
	kind, err := wire.DecodeV2Reply(conn)
	if err != nil {
		return errkind.New(errkind.ServiceUnavailable, err.Error())
	}
	if kind != errkind.OK {
		return errkind.New(kind, "set "+name+" rejected by service")
	}
	return nil
}

func (c *Client) dial(socketPath string) (net.Conn, error) {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 5 * time.Millisecond
	b.MaxInterval = 50 * time.Millisecond
	b.MaxElapsedTime = c.cfg.ConnectTimeout

	var conn net.Conn
	err := backoff.Retry(func() error {
		var dialErr error
		conn, dialErr = net.DialTimeout("unix", socketPath, c.cfg.ConnectTimeout)
		return dialErr
	}, b)
	return conn, err
}

// Wait blocks until name's value changes from what it is now, or timeout
// elapses.
func (c *Client) Wait(name string, timeout time.Duration) (changed bool, err error) {
	area, off, ok, err := c.ns.Find(name)
	if err != nil {
		return false, err
	}
	if !ok {
		return false, errkind.New(errkind.InvalidName, "wait on unset property "+name)
	}
	_, last, err := area.Read(off, 128)
	if err != nil {
		return false, err
	}
	_, changed, err = namespace.Wait(area, off, last, timeout)
	return changed, err
}

// WaitAny blocks until any property in any loaded area changes, or timeout
// elapses, returning the new maximum area serial observed.
func (c *Client) WaitAny(timeout time.Duration) (serial uint32, changed bool, err error) {
	_, serial, changed, err = c.ns.WaitAny(timeout)
	return serial, changed, err
}

func validateName(name string) error {
	if name == "" || len(name) > proparea.PropNameMax {
		return errkind.New(errkind.InvalidName, "name must be 1-31 bytes")
	}
	for _, c := range []byte(name) {
		if !isNameByte(c) {
			return errkind.New(errkind.InvalidName, "illegal character in name")
		}
	}
	return nil
}

func isNameByte(c byte) bool {
	switch {
	case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9':
		return true
	case c == '.' || c == '_' || c == '-':
		return true
	}
	return false
}

func validateValue(name, value string) error {
	if strings.IndexByte(value, 0) >= 0 {
		return errkind.New(errkind.InvalidValue, "value contains embedded NUL")
	}
	if !strings.HasPrefix(name, "ro.") && len(value) > proparea.PropValueMax {
		return errkind.New(errkind.InvalidValue, "value too long for mutable key")
	}
	return nil
}
