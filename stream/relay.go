// Copyright 2026 The Memoflow Authors
// SPDX-License-Identifier: Apache-2.0

package stream

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/lumenwealth/memoflow/intake"
	"github.com/lumenwealth/memoflow/lib/clock"
)

// ErrStreamActive marks an attempt to open a second live event stream
// for an intake that already has one.
var ErrStreamActive = errors.New("stream: stream already active for intake")

// EventSource opens the backend's raw server-sent event stream for an
// intake. Satisfied by *Upstream.
type EventSource interface {
	OpenEvents(ctx context.Context, intakeID string) (io.ReadCloser, error)
}

// terminal event names on the upstream stream.
const (
	eventMemoReady = "memo_ready"
	eventError     = "error"
)

// Relays proxies backend event streams to clients. Each relay is a
// transparent byte pipe: upstream frames are forwarded exactly as
// read, in order, with nothing reordered or rewritten. The relay adds
// three things of its own — an immediate comment frame so the client
// sees bytes before the upstream dial, periodic keepalive comments
// between frames, and a synthesized error event when the upstream
// fails mid-run.
//
// At most one live stream exists per intake; a second open is
// rejected with ErrStreamActive while the first is still up.
type Relays struct {
	store  *intake.Store
	source EventSource
	clock  clock.Clock
	logger *slog.Logger

	// keepalive is the comment-frame interval; ceiling is the
	// longest a single stream may stay open before the relay gives
	// up on the generation run.
	keepalive time.Duration
	ceiling   time.Duration

	mu     sync.Mutex
	active map[string]struct{}
}

// NewRelays creates the relay registry.
func NewRelays(store *intake.Store, source EventSource, clk clock.Clock, logger *slog.Logger, keepalive, ceiling time.Duration) *Relays {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Relays{
		store:     store,
		source:    source,
		clock:     clk,
		logger:    logger,
		keepalive: keepalive,
		ceiling:   ceiling,
		active:    make(map[string]struct{}),
	}
}

func (r *Relays) acquire(intakeID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, busy := r.active[intakeID]; busy {
		return false
	}
	r.active[intakeID] = struct{}{}
	return true
}

func (r *Relays) release(intakeID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.active, intakeID)
}

// readResult is one line (or terminal error) from the upstream body.
type readResult struct {
	line []byte
	err  error
}

// Serve relays the event stream for one intake onto w. It returns an
// error only before the response starts; once bytes are on the wire,
// failures are reported in-band as a synthesized error event and
// Serve returns nil.
//
// The session must be generating. Only explicit terminal upstream
// events drive the session onward: memo_ready marks it delivered, an
// upstream error event marks it failed. Transport failures (open
// failure, interruption, the generation ceiling) and client
// disconnects leave the session generating — the backend run may still
// be alive, and the completion probe converges the outcome.
func (r *Relays) Serve(ctx context.Context, w http.ResponseWriter, intakeID string) error {
	session, err := r.store.GetSession(ctx, intakeID)
	if err != nil {
		return err
	}
	switch session.Status {
	case intake.StatusGenerating:
	case intake.StatusExpired:
		return fmt.Errorf("stream: intake %s: %w", intakeID, intake.ErrSessionExpired)
	default:
		return fmt.Errorf("stream: intake %s is %s, not generating: %w", intakeID, session.Status, intake.ErrConflict)
	}

	if !r.acquire(intakeID) {
		return fmt.Errorf("stream: intake %s: %w", intakeID, ErrStreamActive)
	}
	defer r.release(intakeID)

	flusher, ok := w.(http.Flusher)
	if !ok {
		return fmt.Errorf("stream: response writer cannot flush")
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	// The client sees bytes before we even dial the backend, so a
	// slow upstream open cannot stall the response start.
	io.WriteString(w, ": connected\n\n")
	flusher.Flush()

	streamCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	body, err := r.source.OpenEvents(streamCtx, intakeID)
	if err != nil {
		r.logger.Warn("upstream stream open failed", "intake_id", intakeID, "error", err)
		r.synthesizeError(w, flusher, "memo backend unavailable")
		return nil
	}
	defer body.Close()

	reads := make(chan readResult)
	go func() {
		reader := bufio.NewReader(body)
		for {
			line, err := reader.ReadBytes('\n')
			result := readResult{line: line, err: err}
			select {
			case reads <- result:
			case <-streamCtx.Done():
				return
			}
			if err != nil {
				return
			}
		}
	}()

	keepalive := r.clock.NewTicker(r.keepalive)
	defer keepalive.Stop()
	deadline := r.clock.After(r.ceiling)

	var eventName string
	midFrame := false

	for {
		select {
		case <-ctx.Done():
			// Client gone. The session stays generating; the
			// completion probe converges it later.
			return nil

		case <-deadline:
			if midFrame {
				io.WriteString(w, "\n")
			}
			r.synthesizeError(w, flusher, "generation timed out")
			return nil

		case <-keepalive.C:
			// Comment frames only between frames; a keepalive inside
			// a frame would corrupt it.
			if !midFrame {
				io.WriteString(w, ": keepalive\n\n")
				flusher.Flush()
			}

		case result := <-reads:
			if len(result.line) > 0 {
				if _, err := w.Write(result.line); err != nil {
					return nil
				}

				if isBlankLine(result.line) {
					flusher.Flush()
					switch eventName {
					case eventMemoReady:
						r.settle(ctx, intakeID, intake.EventArtifactReady)
						return nil
					case eventError:
						r.settle(ctx, intakeID, intake.EventBackendError)
						return nil
					}
					eventName = ""
					midFrame = false
				} else {
					midFrame = true
					if name, ok := parseEventName(result.line); ok {
						eventName = name
					}
				}
			}

			if result.err != nil {
				// Upstream ended without a terminal event. The run's
				// outcome is unknown, so the session stays generating;
				// the client re-queries through the completion probe.
				if midFrame {
					io.WriteString(w, "\n")
				}
				r.logger.Warn("upstream stream interrupted", "intake_id", intakeID, "error", result.err)
				r.synthesizeError(w, flusher, "event stream interrupted")
				return nil
			}
		}
	}
}

// synthesizeError writes a relay-made error event to the client. Used
// once the response has started and a real HTTP error is no longer
// possible. It does not touch the session: a transport failure between
// relay and backend says nothing about the generation run, which may
// still finish and be picked up by the completion probe.
func (r *Relays) synthesizeError(w io.Writer, flusher http.Flusher, message string) {
	payload, err := json.Marshal(map[string]string{
		"message":   message,
		"timestamp": r.clock.Now().UTC().Format(time.RFC3339),
	})
	if err == nil {
		fmt.Fprintf(w, "event: error\ndata: %s\n\n", payload)
		flusher.Flush()
	}
}

// settle records a terminal stream outcome on the session. The
// transition must survive a client that hung up mid-write, so it runs
// detached from the request context. A conflict means another actor
// (a duplicate callback, the sweeper) already settled the session.
func (r *Relays) settle(ctx context.Context, intakeID string, event intake.Event) {
	_, err := r.store.Transition(context.WithoutCancel(ctx), intakeID, event)
	if err != nil && !errors.Is(err, intake.ErrConflict) && !errors.Is(err, intake.ErrSessionExpired) {
		r.logger.Error("settling stream outcome failed", "intake_id", intakeID, "event", string(event), "error", err)
	}
}

func isBlankLine(line []byte) bool {
	trimmed := bytes.TrimRight(line, "\r\n")
	return len(trimmed) == 0
}

// parseEventName extracts the name from an "event:" field line.
func parseEventName(line []byte) (string, bool) {
	rest, found := bytes.CutPrefix(line, []byte("event:"))
	if !found {
		return "", false
	}
	return string(bytes.TrimSpace(rest)), true
}
