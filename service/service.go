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

// Package service implements the property service (C6): the sole
// mutation-serializing writer of the shared property-area files. It
// accepts connections on two sockets, decodes a set-wire request (C7),
// validates and authorizes it, applies it to the routed area (C1/C2), and
// replies.
package service

import (
	"context"
	"net"
	"os"
	"strings"
	"time"

	"github.com/dolthub/fslock"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/hiking90/sysprops/config"
	"github.com/hiking90/sysprops/contexts"
	"github.com/hiking90/sysprops/errkind"
	"github.com/hiking90/sysprops/proparea"
	"github.com/hiking90/sysprops/wire"
)

// mutationQueueSize bounds how many accepted-but-not-yet-applied requests
// may queue for the single writer goroutine; beyond it, Accept-side
// goroutines block, which is the admission control spec §9 calls for.
const mutationQueueSize = 64

// Service owns every writable property-area file and the one goroutine
// permitted to mutate them.
type Service struct {
	cfg       *config.Config
	idx       *contexts.Index
	areas     map[string]*proparea.Area // context -> writable area
	loadOrder []string
	serial    *proparea.Area // dedicated properties_serial area, may be nil
	authorize Authorizer
	persist   *persistLog

	locks []*fslock.Lock
}

type mutationJob struct {
	req        wire.Request
	peer       PeerCred
	fromSystem bool
	connID     string
	result     chan errkind.Kind
}

// New builds a Service over already-opened writable areas. areas must
// contain every context idx can route to that this service is responsible
// for; serialArea may be nil, in which case wait_any callers fall back to
// polling every area (see namespace.Namespace.WaitAny).
func New(cfg *config.Config, idx *contexts.Index, areas map[string]*proparea.Area, loadOrder []string, serialArea *proparea.Area, authorize Authorizer) *Service {
	if authorize == nil {
		authorize = AllowAll
	}
	return &Service{
		cfg:       cfg,
		idx:       idx,
		areas:     areas,
		loadOrder: loadOrder,
		serial:    serialArea,
		authorize: authorize,
	}
}

// lockAreas takes the service's exclusive advisory lock on every writable
// area file (§5: "contention is fatal, another service instance is
// running"). Locks are released by Close.
func (s *Service) lockAreas() error {
	for _, ctx := range s.loadOrder {
		area := s.areas[ctx]
		lock := fslock.New(area.Path() + ".lock")
		if err := lock.TryLock(); err != nil {
			return errors.Wrapf(err, "area %s already locked by another service instance", ctx)
		}
		s.locks = append(s.locks, lock)
	}
	return nil
}

// Close releases every area lock and the persist log handle.
func (s *Service) Close() error {
	var first error
	for _, l := range s.locks {
		if err := l.Unlock(); err != nil && first == nil {
			first = err
		}
	}
	if s.persist != nil {
		if err := s.persist.Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}

// Serve locks every writable area, replays the persist log, then accepts
// connections on both sockets until ctx is cancelled. Mutations are
// serialized through a single internal goroutine regardless of how many
// connections are being handled concurrently.
func (s *Service) Serve(ctx context.Context) error {
	if err := s.lockAreas(); err != nil {
		return err
	}

	if s.cfg.PersistLogPath != "" {
		log, err := openPersistLog(s.cfg.PersistLogPath)
		if err != nil {
			return errors.Wrap(err, "open persist log")
		}
		s.persist = log

		records, err := replayPersistLog(s.cfg.PersistLogPath)
		if err != nil {
			return errors.Wrap(err, "replay persist log")
		}
		for _, rec := range records {
			if _, err := s.applyLocal(rec.Name, rec.Value, PeerCred{}, true); err != nil {
				logrus.WithFields(logrus.Fields{"name": rec.Name}).WithError(err).Warn("persist log replay entry failed")
			}
		}
		logrus.WithField("count", len(records)).Info("replayed persist log")
	}

	generalLn, err := listenUnix(s.cfg.SocketPath)
	if err != nil {
		return err
	}
	systemLn, err := listenUnix(s.cfg.SocketForSystemPath)
	if err != nil {
		generalLn.Close()
		return err
	}

	jobs := make(chan *mutationJob, mutationQueueSize)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		<-gctx.Done()
		generalLn.Close()
		systemLn.Close()
		return nil
	})
	g.Go(s.mutationLoop(gctx, jobs))
	g.Go(func() error { return s.acceptLoop(gctx, generalLn, false, jobs) })
	g.Go(func() error { return s.acceptLoop(gctx, systemLn, true, jobs) })

	err = g.Wait()
	if ctx.Err() != nil {
		return nil
	}
	return err
}

func listenUnix(path string) (net.Listener, error) {
	_ = os.Remove(path)
	ln, err := net.Listen("unix", path)
	if err != nil {
		return nil, errors.Wrapf(err, "listen on %s", path)
	}
	return ln, nil
}

func (s *Service) acceptLoop(ctx context.Context, ln net.Listener, fromSystem bool, jobs chan<- *mutationJob) error {
	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return errors.Wrap(err, "accept connection")
		}
		go s.handleConn(ctx, conn, fromSystem, jobs)
	}
}

// handleConn runs one request's Accept -> ReadFrame -> {queue for Apply} ->
// Reply -> Close state machine. Authorization and application happen on
// the mutation goroutine; this goroutine only frames the wire protocol.
func (s *Service) handleConn(ctx context.Context, conn net.Conn, fromSystem bool, jobs chan<- *mutationJob) {
	defer conn.Close()

	connID := uuid.New().String()
	log := logrus.WithField("conn_id", connID)

	_ = conn.SetDeadline(time.Now().Add(s.cfg.IOTimeout))

	req, err := wire.ReadRequest(conn)
	if err != nil {
		log.WithError(err).Debug("read set request failed, closing")
		return
	}
	log = log.WithFields(logrus.Fields{"name": req.Name, "version": req.Version})

	var peer PeerCred
	if uc, ok := conn.(*net.UnixConn); ok {
		if pc, err := peerCredOf(uc); err == nil {
			peer = pc
		}
	}

	result := make(chan errkind.Kind, 1)
	job := &mutationJob{req: req, peer: peer, fromSystem: fromSystem, connID: connID, result: result}

	select {
	case jobs <- job:
	case <-ctx.Done():
		return
	}

	var kind errkind.Kind
	select {
	case kind = <-result:
	case <-ctx.Done():
		return
	}

	log.WithField("result", kind.String()).Debug("set request completed")

	if req.Version == 2 {
		_ = conn.SetDeadline(time.Now().Add(s.cfg.IOTimeout))
		if _, err := conn.Write(wire.EncodeV2Reply(kind)); err != nil {
			log.WithError(err).Debug("write V2 reply failed")
		}
	}
	// V1 never replies; the connection is closed the same way whether the
	// mutation succeeded or was rejected.
}

// mutationLoop is the single logical writer: it drains jobs one at a time
// and is the only goroutine that calls Area.Add/Update.
func (s *Service) mutationLoop(ctx context.Context, jobs <-chan *mutationJob) func() error {
	return func() error {
		for {
			select {
			case job, ok := <-jobs:
				if !ok {
					return nil
				}
				kind := s.apply(job)
				job.result <- kind
			case <-ctx.Done():
				return nil
			}
		}
	}
}

// apply runs Validate -> Authorize -> Apply for one request. It never
// panics or returns an error: every outcome is an errkind.Kind, logged and
// handed back to the requesting connection.
func (s *Service) apply(job *mutationJob) errkind.Kind {
	name, value := job.req.Name, job.req.Value
	log := logrus.WithFields(logrus.Fields{"conn_id": job.connID, "name": name})

	if err := validateName(name); err != nil {
		log.WithError(err).Warn("rejected: invalid name")
		return errkind.Of(err)
	}
	if err := validateValue(name, value); err != nil {
		log.WithError(err).Warn("rejected: invalid value")
		return errkind.Of(err)
	}
	if strings.HasPrefix(name, "ctl.") && !job.fromSystem {
		log.Warn("rejected: ctl.* requires the privileged socket")
		return errkind.PermissionDenied
	}

	kind, err := s.applyLocal(name, value, job.peer, job.fromSystem)
	if err != nil {
		log.WithError(err).WithField("kind", kind.String()).Warn("rejected")
		return kind
	}

	if strings.HasPrefix(name, "persist.") && s.persist != nil {
		if err := s.persist.Append(name, value); err != nil {
			log.WithError(err).Error("persist log append failed")
		}
	}
	return errkind.OK
}

// applyLocal routes name to its area and performs Authorize + Apply there,
// without the persist-log side effect. It is reused by both the live
// request path and persist-log replay at startup, where there is no real
// peer to authorize against; replay calls this with a zero PeerCred and
// fromSystem=true, matching its trusted, offline context.
func (s *Service) applyLocal(name, value string, peer PeerCred, fromSystem bool) (errkind.Kind, error) {
	area, ctx, err := s.route(name)
	if err != nil {
		return errkind.Of(err), err
	}

	existingOff, found, err := area.Find(name)
	if err != nil {
		return errkind.Internal, err
	}

	isRO := strings.HasPrefix(name, "ro.")
	if isRO && found {
		err := errkind.New(errkind.ReadonlyViolation, "ro.* properties cannot be modified once set")
		return errkind.ReadonlyViolation, err
	}

	authReq := AuthRequest{
		PeerUID:          peer.UID,
		PeerGID:          peer.GID,
		PeerPID:          peer.PID,
		Name:             name,
		Context:          ctx,
		FromSystemSocket: fromSystem,
	}
	if !s.authorize(authReq) {
		return errkind.PermissionDenied, errkind.New(errkind.PermissionDenied, "authorization hook refused")
	}

	if found {
		if err := area.Update(existingOff, []byte(value)); err != nil {
			return errkind.Of(err), err
		}
	} else {
		if _, err := area.Add(name, []byte(value)); err != nil {
			return errkind.Of(err), err
		}
	}

	if s.serial != nil && s.serial != area {
		s.serial.Touch()
	}
	return errkind.OK, nil
}

func (s *Service) route(name string) (*proparea.Area, string, error) {
	ctx, ok := s.idx.Route(name)
	if !ok {
		return nil, "", errkind.New(errkind.NoContext, "no context rule matches "+name)
	}
	area, ok := s.areas[ctx]
	if !ok {
		return nil, "", errkind.New(errkind.NoContext, "context has no writable area loaded: "+ctx)
	}
	return area, ctx, nil
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
