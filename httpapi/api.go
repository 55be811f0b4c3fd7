// Copyright 2026 The Memoflow Authors
// SPDX-License-Identifier: Apache-2.0

package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/lumenwealth/memoflow/intake"
	"github.com/lumenwealth/memoflow/lib/accesstoken"
	"github.com/lumenwealth/memoflow/payment"
	"github.com/lumenwealth/memoflow/stream"
)

// Analyzer produces discoveries for one answered question. Satisfied
// by *stream.Upstream.
type Analyzer interface {
	Analyze(ctx context.Context, intakeID, questionID, value string) ([]intake.Discovery, error)
}

// ArtifactFetcher downloads the finished memo. Satisfied by
// *stream.Upstream.
type ArtifactFetcher interface {
	FetchArtifact(ctx context.Context, intakeID string) ([]byte, string, error)
}

// API is the external HTTP surface of the memo service.
type API struct {
	store      *intake.Store
	catalog    *intake.Catalog
	gate       *payment.Gate
	relays     *stream.Relays
	reconciler *stream.Reconciler
	analyzer   Analyzer
	fetcher    ArtifactFetcher
	tokens     *accesstoken.Manager
	logger     *slog.Logger
}

// Config wires the API's collaborators.
type Config struct {
	Store      *intake.Store
	Catalog    *intake.Catalog
	Gate       *payment.Gate
	Relays     *stream.Relays
	Reconciler *stream.Reconciler
	Analyzer   Analyzer
	Fetcher    ArtifactFetcher
	Tokens     *accesstoken.Manager
	Logger     *slog.Logger
}

// New creates the API.
func New(cfg Config) *API {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &API{
		store:      cfg.Store,
		catalog:    cfg.Catalog,
		gate:       cfg.Gate,
		relays:     cfg.Relays,
		reconciler: cfg.Reconciler,
		analyzer:   cfg.Analyzer,
		fetcher:    cfg.Fetcher,
		tokens:     cfg.Tokens,
		logger:     logger,
	}
}

// Handler returns the routed HTTP handler.
func (a *API) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", a.handleHealth)
	mux.HandleFunc("POST /v1/intakes", a.handleStart)
	mux.HandleFunc("POST /v1/intakes/{id}/answers", a.handleAnswer)
	mux.HandleFunc("POST /v1/intakes/{id}/questionnaire", a.handleQuestionnaire)
	mux.HandleFunc("GET /v1/intakes/{id}/events", a.handleEvents)
	mux.HandleFunc("POST /v1/intakes/{id}/payment", a.handlePaymentInitiate)
	mux.HandleFunc("POST /v1/intakes/{id}/payment/verify", a.handlePaymentVerify)
	mux.HandleFunc("GET /v1/intakes/{id}/ready", a.handleReady)
	mux.HandleFunc("GET /v1/intakes/{id}/report", a.handleReport)
	mux.HandleFunc("POST /v1/intakes/{id}/token", a.handleToken)
	mux.HandleFunc("POST /v1/auth/logout", a.handleLogout)
	return mux
}

// bearerToken extracts the bearer credential from a request.
func bearerToken(r *http.Request) (string, bool) {
	header := r.Header.Get("Authorization")
	token, found := strings.CutPrefix(header, "Bearer ")
	if !found || token == "" {
		return "", false
	}
	return token, true
}

// authenticate validates the request's bearer token against the
// intake named in the path.
func (a *API) authenticate(r *http.Request, intakeID string) (*accesstoken.Token, error) {
	encoded, ok := bearerToken(r)
	if !ok {
		return nil, ErrAuthRequired
	}
	return a.tokens.Validate(encoded, intakeID)
}

func decodeBody(r *http.Request, target any) error {
	decoder := json.NewDecoder(http.MaxBytesReader(nil, r.Body, 1<<20))
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(target); err != nil {
		return fmt.Errorf("httpapi: decoding request body: %w", err)
	}
	return nil
}

func (a *API) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type startRequest struct {
	UserID   string `json:"user_id"`
	Contact  string `json:"contact"`
	Remember bool   `json:"remember"`
}

type startResponse struct {
	Session *intake.Session   `json:"session"`
	Token   string            `json:"token"`
	Mode    accesstoken.Mode  `json:"token_mode"`
	Catalog []intake.Question `json:"questions"`
}

// handleStart opens a new intake session and issues its access
// token. "remember" asks for a durable token instead of one that dies
// with the session.
func (a *API) handleStart(w http.ResponseWriter, r *http.Request) {
	var req startRequest
	if err := decodeBody(r, &req); err != nil {
		a.writeErrorDetail(w, http.StatusBadRequest, errorDetail{Code: "bad_request", Message: err.Error()})
		return
	}
	// The user identifier is the only credential Start takes; a
	// request without one is unauthenticated, not malformed.
	if req.UserID == "" {
		a.writeError(w, r, ErrAuthRequired)
		return
	}

	session, err := a.store.CreateSession(r.Context(), req.UserID, req.Contact)
	if err != nil {
		a.writeError(w, r, err)
		return
	}

	mode := accesstoken.ModeEphemeral
	if req.Remember {
		mode = accesstoken.ModeRemembered
	}
	encoded, _, err := a.tokens.Issue(session.ID, mode)
	if err != nil {
		a.writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusCreated, startResponse{
		Session: session,
		Token:   encoded,
		Mode:    mode,
		Catalog: a.catalog.Questions,
	})
}

type answerRequest struct {
	QuestionID string `json:"question_id"`
	Value      string `json:"value"`
}

type answerResponse struct {
	Accepted             bool     `json:"accepted"`
	DiscoveriesTriggered int      `json:"discoveries_triggered"`
	Answered             int      `json:"answered"`
	MissingRequired      []string `json:"missing_required"`
}

// handleAnswer records one questionnaire answer. The first answer
// moves the session from created to answering. Each answer is also
// submitted for analysis; discoveries that come back are attached to
// the session and surface on the event stream and in the preview, not
// in this response. An analysis failure never loses the answer.
func (a *API) handleAnswer(w http.ResponseWriter, r *http.Request) {
	intakeID := r.PathValue("id")
	if _, err := a.authenticate(r, intakeID); err != nil {
		a.writeError(w, r, err)
		return
	}

	var req answerRequest
	if err := decodeBody(r, &req); err != nil {
		a.writeErrorDetail(w, http.StatusBadRequest, errorDetail{Code: "bad_request", Message: err.Error()})
		return
	}
	if _, known := a.catalog.Question(req.QuestionID); !known {
		a.writeErrorDetail(w, http.StatusBadRequest, errorDetail{Code: "bad_request", Message: fmt.Sprintf("unknown question %q", req.QuestionID)})
		return
	}

	session, err := a.store.GetSession(r.Context(), intakeID)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	if session.Status == intake.StatusCreated {
		if _, err := a.store.Transition(r.Context(), intakeID, intake.EventFirstAnswer); err != nil && !errors.Is(err, intake.ErrConflict) {
			a.writeError(w, r, err)
			return
		}
	}

	if _, err := a.store.UpsertAnswer(r.Context(), intakeID, req.QuestionID, req.Value); err != nil {
		a.writeError(w, r, err)
		return
	}

	response := answerResponse{Accepted: true}
	if discoveries, err := a.analyzer.Analyze(r.Context(), intakeID, req.QuestionID, req.Value); err != nil {
		a.logger.Warn("answer analysis unavailable", "intake_id", intakeID, "error", err)
	} else if len(discoveries) > 0 {
		attached, err := a.store.AppendDiscoveries(r.Context(), intakeID, discoveries)
		if err != nil {
			a.logger.Warn("attaching discoveries failed", "intake_id", intakeID, "error", err)
		} else {
			response.DiscoveriesTriggered = len(attached)
		}
	}

	session, err = a.store.GetSession(r.Context(), intakeID)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	response.Answered = len(session.Answers)
	response.MissingRequired = a.catalog.MissingRequired(session)

	writeJSON(w, http.StatusOK, response)
}

type questionnaireRequest struct {
	Answers []answerRequest `json:"answers"`
}

// handleQuestionnaire accepts a full answer batch, completes the
// questionnaire, and returns the instant preview. The batch is
// optional — a client that submitted its answers one by one posts an
// empty body. Batched answers skip per-answer analysis; the preview is
// computed synchronously either way. Completion with required
// questions still open is rejected, listing what is missing.
func (a *API) handleQuestionnaire(w http.ResponseWriter, r *http.Request) {
	intakeID := r.PathValue("id")
	if _, err := a.authenticate(r, intakeID); err != nil {
		a.writeError(w, r, err)
		return
	}

	var req questionnaireRequest
	if err := decodeBody(r, &req); err != nil && !errors.Is(err, io.EOF) {
		a.writeErrorDetail(w, http.StatusBadRequest, errorDetail{Code: "bad_request", Message: err.Error()})
		return
	}
	for _, answer := range req.Answers {
		if _, known := a.catalog.Question(answer.QuestionID); !known {
			a.writeErrorDetail(w, http.StatusBadRequest, errorDetail{Code: "bad_request", Message: fmt.Sprintf("unknown question %q", answer.QuestionID)})
			return
		}
	}

	session, err := a.store.GetSession(r.Context(), intakeID)
	if err != nil {
		a.writeError(w, r, err)
		return
	}

	if len(req.Answers) > 0 {
		if session.Status == intake.StatusCreated {
			if _, err := a.store.Transition(r.Context(), intakeID, intake.EventFirstAnswer); err != nil && !errors.Is(err, intake.ErrConflict) {
				a.writeError(w, r, err)
				return
			}
		}
		for _, answer := range req.Answers {
			if _, err := a.store.UpsertAnswer(r.Context(), intakeID, answer.QuestionID, answer.Value); err != nil {
				a.writeError(w, r, err)
				return
			}
		}
		if session, err = a.store.GetSession(r.Context(), intakeID); err != nil {
			a.writeError(w, r, err)
			return
		}
	}

	if missing := a.catalog.MissingRequired(session); len(missing) > 0 {
		a.writeErrorDetail(w, http.StatusConflict, errorDetail{
			Code:            "incomplete",
			Message:         "required questions are unanswered",
			MissingRequired: missing,
		})
		return
	}

	if session.Status == intake.StatusAnswering {
		if session, err = a.store.Transition(r.Context(), intakeID, intake.EventAllRequiredAnswered); err != nil {
			a.writeError(w, r, err)
			return
		}
	} else if session.Status != intake.StatusPreviewReady {
		// Re-requesting the preview is idempotent; anything past
		// preview_ready is not an open questionnaire.
		a.writeError(w, r, &intake.RejectionError{SessionID: intakeID, From: session.Status, Event: intake.EventAllRequiredAnswered})
		return
	}

	writeJSON(w, http.StatusOK, intake.BuildPreview(session, a.catalog))
}

// handleEvents streams the generation run to the client.
func (a *API) handleEvents(w http.ResponseWriter, r *http.Request) {
	intakeID := r.PathValue("id")
	if _, err := a.authenticate(r, intakeID); err != nil {
		a.writeError(w, r, err)
		return
	}

	if err := a.relays.Serve(r.Context(), w, intakeID); err != nil {
		a.writeError(w, r, err)
	}
}

// handlePaymentInitiate opens a payment order and returns the
// checkout parameters.
func (a *API) handlePaymentInitiate(w http.ResponseWriter, r *http.Request) {
	intakeID := r.PathValue("id")
	if _, err := a.authenticate(r, intakeID); err != nil {
		a.writeError(w, r, err)
		return
	}

	checkout, err := a.gate.Initiate(r.Context(), intakeID)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, checkout)
}

type verifyRequest struct {
	OrderID   string `json:"order_id"`
	PaymentID string `json:"payment_id"`
	Signature string `json:"signature"`
}

// handlePaymentVerify checks the provider callback and reports the
// resulting session state.
func (a *API) handlePaymentVerify(w http.ResponseWriter, r *http.Request) {
	intakeID := r.PathValue("id")
	if _, err := a.authenticate(r, intakeID); err != nil {
		a.writeError(w, r, err)
		return
	}

	var req verifyRequest
	if err := decodeBody(r, &req); err != nil {
		a.writeErrorDetail(w, http.StatusBadRequest, errorDetail{Code: "bad_request", Message: err.Error()})
		return
	}
	if req.OrderID == "" || req.PaymentID == "" || req.Signature == "" {
		a.writeErrorDetail(w, http.StatusBadRequest, errorDetail{Code: "bad_request", Message: "order_id, payment_id, and signature are required"})
		return
	}

	session, err := a.gate.Verify(r.Context(), intakeID, req.OrderID, req.PaymentID, req.Signature)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": session.Status})
}

// handleReady answers the completion probe.
func (a *API) handleReady(w http.ResponseWriter, r *http.Request) {
	intakeID := r.PathValue("id")
	if _, err := a.authenticate(r, intakeID); err != nil {
		a.writeError(w, r, err)
		return
	}

	ready, err := a.reconciler.CheckReady(r.Context(), intakeID)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"ready": ready})
}

// handleReport serves the unified report. Delivered sessions answer
// the memo artifact from the local cache. A generating session whose
// artifact already exists on the backend is converged here: fetch,
// cache, mark delivered, serve. Everything not yet delivered answers
// the preview payload instead.
func (a *API) handleReport(w http.ResponseWriter, r *http.Request) {
	intakeID := r.PathValue("id")
	if _, err := a.authenticate(r, intakeID); err != nil {
		a.writeError(w, r, err)
		return
	}

	session, err := a.store.GetSession(r.Context(), intakeID)
	if err != nil {
		a.writeError(w, r, err)
		return
	}

	switch session.Status {
	case intake.StatusDelivered:
		artifact, err := a.store.GetArtifact(r.Context(), intakeID)
		if errors.Is(err, intake.ErrNotFound) {
			// Delivered via the stream before any fetch cached it.
			artifact, err = a.fetchAndCache(r, intakeID)
		}
		if err != nil {
			a.writeError(w, r, err)
			return
		}
		a.serveArtifact(w, r, artifact)

	case intake.StatusGenerating:
		artifact, err := a.fetchAndCache(r, intakeID)
		if errors.Is(err, ErrNotReady) {
			// The run is still going. Answer the preview so the
			// client has something to show while it polls.
			a.servePreview(w, session)
			return
		}
		if err != nil {
			a.writeError(w, r, err)
			return
		}
		// The artifact exists, so the run finished even if the
		// memo_ready event was lost. A conflict means the stream
		// relay beat us to the transition.
		if _, err := a.store.Transition(r.Context(), intakeID, intake.EventArtifactReady); err != nil && !errors.Is(err, intake.ErrConflict) {
			a.writeError(w, r, err)
			return
		}
		a.serveArtifact(w, r, artifact)

	case intake.StatusExpired:
		a.writeError(w, r, fmt.Errorf("httpapi: intake %s: %w", intakeID, intake.ErrSessionExpired))

	default:
		a.servePreview(w, session)
	}
}

// servePreview answers the pre-delivery report shape: the session
// status plus the instant preview computed from answers so far.
func (a *API) servePreview(w http.ResponseWriter, session *intake.Session) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":       session.Status,
		"preview_data": intake.BuildPreview(session, a.catalog),
	})
}

// fetchAndCache pulls the memo from the backend and stores it in the
// local cache. A backend 404 surfaces as not-ready rather than
// unavailable.
func (a *API) fetchAndCache(r *http.Request, intakeID string) (*intake.Artifact, error) {
	body, contentType, err := a.fetcher.FetchArtifact(r.Context(), intakeID)
	if err != nil {
		if errors.Is(err, stream.ErrArtifactMissing) {
			return nil, fmt.Errorf("httpapi: intake %s: %w", intakeID, ErrNotReady)
		}
		return nil, err
	}
	return a.store.PutArtifact(r.Context(), intakeID, contentType, body)
}

// serveArtifact writes the memo with its content hash as ETag,
// honoring If-None-Match.
func (a *API) serveArtifact(w http.ResponseWriter, r *http.Request, artifact *intake.Artifact) {
	etag := `"` + artifact.ContentHash + `"`
	if r.Header.Get("If-None-Match") == etag {
		w.WriteHeader(http.StatusNotModified)
		return
	}
	w.Header().Set("Content-Type", artifact.ContentType)
	w.Header().Set("ETag", etag)
	w.Header().Set("Cache-Control", "private, max-age=0")
	w.WriteHeader(http.StatusOK)
	w.Write(artifact.Body)
}

type tokenRequest struct {
	Remember bool `json:"remember"`
}

// handleToken issues a fresh token for the intake, authenticated by
// the current one. Used to upgrade an ephemeral session to a
// remembered one.
func (a *API) handleToken(w http.ResponseWriter, r *http.Request) {
	intakeID := r.PathValue("id")
	if _, err := a.authenticate(r, intakeID); err != nil {
		a.writeError(w, r, err)
		return
	}

	var req tokenRequest
	if err := decodeBody(r, &req); err != nil {
		a.writeErrorDetail(w, http.StatusBadRequest, errorDetail{Code: "bad_request", Message: err.Error()})
		return
	}

	mode := accesstoken.ModeEphemeral
	if req.Remember {
		mode = accesstoken.ModeRemembered
	}
	encoded, _, err := a.tokens.Issue(intakeID, mode)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"token": encoded, "token_mode": mode})
}

// handleLogout revokes the presented token. Revocation lasts until
// the token would have expired anyway; ephemeral tokens are held
// until their session ends.
func (a *API) handleLogout(w http.ResponseWriter, r *http.Request) {
	encoded, ok := bearerToken(r)
	if !ok {
		a.writeError(w, r, ErrAuthRequired)
		return
	}

	token, err := a.tokens.Inspect(encoded)
	if err != nil {
		a.writeError(w, r, err)
		return
	}

	// Ephemeral tokens have no absolute expiry; hold their entry
	// until the session ends.
	var expiry time.Time
	if token.ExpiresAt != 0 {
		expiry = time.Unix(token.ExpiresAt, 0)
	}
	a.tokens.Revocations().RevokeToken(token.ID, expiry)
	a.logger.Info("token revoked", "intake_id", token.IntakeID)
	w.WriteHeader(http.StatusNoContent)
}
