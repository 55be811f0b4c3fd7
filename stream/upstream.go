// Copyright 2026 The Memoflow Authors
// SPDX-License-Identifier: Apache-2.0

package stream

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"

	"github.com/lumenwealth/memoflow/intake"
)

// ErrUpstreamUnavailable marks a memo backend that could not be
// reached or answered outside its contract. Retryable from the
// client's point of view.
var ErrUpstreamUnavailable = errors.New("stream: upstream unavailable")

// ErrArtifactMissing marks an artifact fetch for a memo the backend
// has not finished yet.
var ErrArtifactMissing = errors.New("stream: artifact not available yet")

// Upstream is the HTTP client for the memo generation backend. It
// starts generation jobs, opens server-sent event streams, and probes
// and fetches finished artifacts.
type Upstream struct {
	baseURL *url.URL
	client  *http.Client
	logger  *slog.Logger
}

// NewUpstream creates a client for the backend at baseURL.
func NewUpstream(baseURL string, logger *slog.Logger) (*Upstream, error) {
	parsed, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("stream: parsing upstream URL: %w", err)
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Upstream{
		baseURL: parsed,
		// No client timeout: event streams stay open for the length
		// of a generation run. Per-call deadlines come from ctx, and
		// the relay enforces its own ceiling on streams.
		client: &http.Client{
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
		logger: logger,
	}, nil
}

func (u *Upstream) endpoint(segments ...string) string {
	return u.baseURL.JoinPath(segments...).String()
}

// StartGeneration asks the backend to begin generating the memo for
// an intake. The backend treats a repeated start for the same intake
// as a no-op on its side; the payment gate already guarantees at most
// one caller gets here per paid order.
func (u *Upstream) StartGeneration(ctx context.Context, intakeID string) error {
	body, err := json.Marshal(map[string]string{"intake_id": intakeID})
	if err != nil {
		return fmt.Errorf("stream: encoding generation request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u.endpoint("generate"), bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("stream: building generation request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := u.client.Do(req)
	if err != nil {
		return fmt.Errorf("stream: starting generation for %s: %w: %v", intakeID, ErrUpstreamUnavailable, err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("stream: generation for %s refused with %d: %w", intakeID, resp.StatusCode, ErrUpstreamUnavailable)
	}
	return nil
}

// Analyze submits one answered question for analysis and returns any
// discoveries it produced. Analysis is advisory: callers record the
// answer regardless and treat a failure here as zero discoveries.
func (u *Upstream) Analyze(ctx context.Context, intakeID, questionID, value string) ([]intake.Discovery, error) {
	body, err := json.Marshal(map[string]string{
		"intake_id":   intakeID,
		"question_id": questionID,
		"value":       value,
	})
	if err != nil {
		return nil, fmt.Errorf("stream: encoding analysis request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u.endpoint("analyze"), bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("stream: building analysis request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := u.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("stream: analyzing answer for %s: %w: %v", intakeID, ErrUpstreamUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("stream: analysis for %s answered %d: %w", intakeID, resp.StatusCode, ErrUpstreamUnavailable)
	}

	var result struct {
		Discoveries []intake.Discovery `json:"discoveries"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("stream: decoding analysis for %s: %w", intakeID, err)
	}
	return result.Discoveries, nil
}

// OpenEvents opens the backend's event stream for an intake. The
// returned body delivers raw server-sent event bytes; the caller owns
// closing it. Cancel ctx to tear the stream down.
func (u *Upstream) OpenEvents(ctx context.Context, intakeID string) (io.ReadCloser, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.endpoint("intakes", intakeID, "events"), nil)
	if err != nil {
		return nil, fmt.Errorf("stream: building events request: %w", err)
	}
	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set("Cache-Control", "no-cache")

	resp, err := u.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("stream: opening events for %s: %w: %v", intakeID, ErrUpstreamUnavailable, err)
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return nil, fmt.Errorf("stream: events for %s refused with %d: %w", intakeID, resp.StatusCode, ErrUpstreamUnavailable)
	}
	return resp.Body, nil
}

// ArtifactExists probes whether the finished memo exists on the
// backend, without downloading it.
func (u *Upstream) ArtifactExists(ctx context.Context, intakeID string) (bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, u.endpoint("intakes", intakeID, "memo"), nil)
	if err != nil {
		return false, fmt.Errorf("stream: building artifact probe: %w", err)
	}

	resp, err := u.client.Do(req)
	if err != nil {
		return false, fmt.Errorf("stream: probing artifact for %s: %w: %v", intakeID, ErrUpstreamUnavailable, err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))

	switch resp.StatusCode {
	case http.StatusOK:
		return true, nil
	case http.StatusNotFound:
		return false, nil
	default:
		return false, fmt.Errorf("stream: artifact probe for %s answered %d: %w", intakeID, resp.StatusCode, ErrUpstreamUnavailable)
	}
}

// FetchArtifact downloads the finished memo. Returns the body and its
// content type.
func (u *Upstream) FetchArtifact(ctx context.Context, intakeID string) ([]byte, string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.endpoint("intakes", intakeID, "memo"), nil)
	if err != nil {
		return nil, "", fmt.Errorf("stream: building artifact request: %w", err)
	}

	resp, err := u.client.Do(req)
	if err != nil {
		return nil, "", fmt.Errorf("stream: fetching artifact for %s: %w: %v", intakeID, ErrUpstreamUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		if resp.StatusCode == http.StatusNotFound {
			return nil, "", fmt.Errorf("stream: artifact for %s: %w", intakeID, ErrArtifactMissing)
		}
		return nil, "", fmt.Errorf("stream: artifact fetch for %s answered %d: %w", intakeID, resp.StatusCode, ErrUpstreamUnavailable)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, "", fmt.Errorf("stream: reading artifact for %s: %w: %v", intakeID, ErrUpstreamUnavailable, err)
	}

	contentType := resp.Header.Get("Content-Type")
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	return body, contentType, nil
}
