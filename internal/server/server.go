// Package server exposes the resolution engine over HTTP.
//
// The server is a thin shell: it decodes transcripts, hands them to the
// resolver, queues executable resolutions on the dispatch pool, and encodes
// the outcome. It never interprets confidence or tiers itself — that is the
// resolver's job — and it performs no OS actions.
//
// Two ingress paths are offered. POST /v1/resolve handles one utterance per
// request and suits push-to-talk clients. GET /v1/stream upgrades to a
// WebSocket session for continuous transcription, where the client also
// reports foreground-application changes that steer the context tracker.
package server

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/MrWong99/earshot/internal/command"
	"github.com/MrWong99/earshot/internal/devctx"
	"github.com/MrWong99/earshot/internal/dispatch"
	"github.com/MrWong99/earshot/internal/health"
	"github.com/MrWong99/earshot/internal/macro"
	"github.com/MrWong99/earshot/internal/observe"
	"github.com/MrWong99/earshot/internal/resolver"
	"github.com/MrWong99/earshot/pkg/types"
)

// Server wires the resolver and its collaborators to HTTP endpoints.
type Server struct {
	resolver *resolver.Resolver
	registry *command.Registry
	macros   *macro.Manager
	pool     *dispatch.Pool
	tracker  *devctx.Tracker
	health   *health.Handler
	metrics  *observe.Metrics
	logger   *slog.Logger
}

// Option configures optional server collaborators.
type Option func(*Server)

// WithMacros enables the macro endpoints backed by the given manager.
func WithMacros(m *macro.Manager) Option {
	return func(s *Server) { s.macros = m }
}

// WithDispatch queues executable resolutions on the given pool. Without a
// pool the server resolves and replies but never executes.
func WithDispatch(p *dispatch.Pool) Option {
	return func(s *Server) { s.pool = p }
}

// WithContextTracker routes app_change stream events into the given tracker.
func WithContextTracker(t *devctx.Tracker) Option {
	return func(s *Server) { s.tracker = t }
}

// WithHealth mounts the /healthz and /readyz endpoints of the given handler.
func WithHealth(h *health.Handler) Option {
	return func(s *Server) { s.health = h }
}

// WithMetrics sets the metrics instance used by the request middleware.
func WithMetrics(m *observe.Metrics) Option {
	return func(s *Server) { s.metrics = m }
}

// WithLogger sets the structured logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) { s.logger = logger }
}

// New creates a server around the given resolver and command registry.
func New(res *resolver.Resolver, registry *command.Registry, opts ...Option) *Server {
	s := &Server{
		resolver: res,
		registry: registry,
		metrics:  observe.DefaultMetrics(),
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Handler returns the http.Handler serving all endpoints:
//
//	POST   /v1/resolve               — resolve one utterance
//	GET    /v1/stream                — WebSocket transcript stream
//	GET    /v1/confirmations         — list pending confirmations
//	POST   /v1/confirmations/{id}    — accept or reject one confirmation
//	GET    /v1/vocabulary            — keyword boosts for the STT collaborator
//	GET    /v1/macros                — list saved macros (when enabled)
//	POST   /v1/macros                — save a macro (when enabled)
//	DELETE /v1/macros/{name}         — delete a macro (when enabled)
//	GET    /v1/stats                 — pipeline and dispatch counters
//	GET    /healthz, /readyz         — liveness and readiness (when enabled)
//	GET    /metrics                  — Prometheus scrape endpoint
func (s *Server) Handler() http.Handler {
	api := http.NewServeMux()
	api.HandleFunc("POST /v1/resolve", s.handleResolve)
	api.HandleFunc("GET /v1/confirmations", s.handleListConfirmations)
	api.HandleFunc("POST /v1/confirmations/{id}", s.handleConfirmation)
	api.HandleFunc("GET /v1/vocabulary", s.handleVocabulary)
	api.HandleFunc("GET /v1/stats", s.handleStats)
	if s.macros != nil {
		api.HandleFunc("GET /v1/macros", s.handleListMacros)
		api.HandleFunc("POST /v1/macros", s.handleSaveMacro)
		api.HandleFunc("DELETE /v1/macros/{name}", s.handleDeleteMacro)
	}

	mux := http.NewServeMux()
	mux.Handle("/v1/", observe.Middleware(s.metrics)(api))
	// The stream is a long-lived session, not a request; it bypasses the
	// per-request middleware so the upgrade can reach the raw writer.
	mux.HandleFunc("GET /v1/stream", s.handleStream)
	if s.health != nil {
		s.health.Register(mux)
	}
	mux.Handle("GET /metrics", promhttp.Handler())
	return mux
}

// ── Resolve ───────────────────────────────────────────────────────────────────

// resolveRequest is the JSON body for the resolve endpoint.
type resolveRequest struct {
	// ID is an optional client-supplied utterance id; one is generated when
	// absent.
	ID string `json:"id,omitempty"`

	// Text is the raw transcript. Required.
	Text string `json:"text"`

	// Confidence is the STT recognition confidence (0–1), zero when the
	// collaborator does not report one.
	Confidence float64 `json:"confidence,omitempty"`

	// Timestamp marks when the utterance was captured; the server clock is
	// used when absent.
	Timestamp time.Time `json:"timestamp,omitempty"`
}

// resolutionPayload is the JSON shape of a resolution on the wire.
type resolutionPayload struct {
	ID          string              `json:"id"`
	UtteranceID string              `json:"utterance_id"`
	IntentID    string              `json:"intent_id,omitempty"`
	Slots       types.Slots         `json:"slots,omitempty"`
	Tier        string              `json:"tier"`
	Confidence  float64             `json:"confidence"`
	Breakdown   map[string]float64  `json:"breakdown,omitempty"`
	Danger      bool                `json:"danger,omitempty"`
	Ack         string              `json:"ack,omitempty"`
	Suggestions []suggestionPayload `json:"suggestions,omitempty"`
	ElapsedMs   float64             `json:"elapsed_ms"`

	// JobID is set when the resolution was queued for execution.
	JobID string `json:"job_id,omitempty"`
}

type suggestionPayload struct {
	IntentID string  `json:"intent_id"`
	Phrase   string  `json:"phrase"`
	Score    float64 `json:"score"`
}

func toPayload(res types.Resolution, jobID string) resolutionPayload {
	p := resolutionPayload{
		ID:          res.ID,
		UtteranceID: res.UtteranceID,
		IntentID:    res.IntentID,
		Slots:       res.Slots,
		Tier:        res.Tier.String(),
		Confidence:  res.Confidence,
		Breakdown:   res.Breakdown,
		Danger:      res.Danger,
		Ack:         res.Ack,
		ElapsedMs:   float64(res.Elapsed.Microseconds()) / 1000,
		JobID:       jobID,
	}
	for _, sug := range res.Suggestions {
		p.Suggestions = append(p.Suggestions, suggestionPayload{
			IntentID: sug.IntentID,
			Phrase:   sug.Phrase,
			Score:    sug.Score,
		})
	}
	return p
}

// handleResolve handles POST /v1/resolve.
func (s *Server) handleResolve(w http.ResponseWriter, r *http.Request) {
	var req resolveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.Text == "" {
		http.Error(w, "text is required", http.StatusBadRequest)
		return
	}

	res, err := s.resolver.Resolve(r.Context(), s.toUtterance(req))
	if err != nil {
		if errors.Is(err, command.ErrIndexUnavailable) {
			http.Error(w, "command index not yet loaded", http.StatusServiceUnavailable)
			return
		}
		s.logger.Error("resolve failed", "utterance", req.ID, "error", err)
		http.Error(w, "resolve failed", http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, toPayload(res, s.submit(res)))
}

// toUtterance fills in the fields the client may omit.
func (s *Server) toUtterance(req resolveRequest) types.Utterance {
	utt := types.Utterance{
		ID:         req.ID,
		Text:       req.Text,
		Confidence: req.Confidence,
		Timestamp:  req.Timestamp,
	}
	if utt.ID == "" {
		utt.ID = uuid.NewString()
	}
	if utt.Timestamp.IsZero() {
		utt.Timestamp = time.Now()
	}
	return utt
}

// submit queues an executable resolution on the dispatch pool and returns
// the job id, or "" when nothing was queued. A full queue is reported to the
// client as an unqueued resolution, not an error: the intent was understood,
// the executor is just behind.
func (s *Server) submit(res types.Resolution) string {
	if s.pool == nil || !res.Tier.Executable() || res.IntentID == "" {
		return ""
	}
	priority := dispatch.PriorityNormal
	if idx, err := s.registry.Snapshot(); err == nil {
		if def, ok := idx.Lookup(res.IntentID); ok {
			priority = dispatch.PriorityFor(def)
		}
	}
	id, err := s.pool.Submit(res, priority)
	if err != nil {
		s.logger.Warn("dispatch rejected", "intent", res.IntentID, "error", err)
		return ""
	}
	return id
}

// ── Confirmations ─────────────────────────────────────────────────────────────

// confirmationRequest is the JSON body for answering a confirmation.
type confirmationRequest struct {
	Accept bool `json:"accept"`
}

// pendingResponse lists confirmations still awaiting an answer.
type pendingResponse struct {
	Pending []resolver.PendingInfo `json:"pending"`
}

// handleListConfirmations handles GET /v1/confirmations.
func (s *Server) handleListConfirmations(w http.ResponseWriter, _ *http.Request) {
	pending := s.resolver.Pending()
	if pending == nil {
		pending = []resolver.PendingInfo{}
	}
	writeJSON(w, http.StatusOK, pendingResponse{Pending: pending})
}

// handleConfirmation handles POST /v1/confirmations/{id}. Accepting releases
// the parked resolution to dispatch; rejecting cancels it.
func (s *Server) handleConfirmation(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	var req confirmationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}

	if !req.Accept {
		if err := s.resolver.Cancel(id); err != nil {
			http.Error(w, "no pending confirmation with that id", http.StatusNotFound)
			return
		}
		w.WriteHeader(http.StatusNoContent)
		return
	}

	res, err := s.resolver.Confirm(id)
	if err != nil {
		http.Error(w, "no pending confirmation with that id", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, toPayload(res, s.submit(res)))
}

// ── Vocabulary ────────────────────────────────────────────────────────────────

// vocabularyResponse carries the keyword boosts the STT collaborator should
// load, tagged with the index generation so clients can skip unchanged sets.
type vocabularyResponse struct {
	Generation uint64           `json:"generation"`
	Commands   int              `json:"commands"`
	Keywords   []keywordPayload `json:"keywords"`
}

type keywordPayload struct {
	Keyword string  `json:"keyword"`
	Boost   float64 `json:"boost"`
}

// handleVocabulary handles GET /v1/vocabulary.
func (s *Server) handleVocabulary(w http.ResponseWriter, _ *http.Request) {
	idx, err := s.registry.Snapshot()
	if err != nil {
		http.Error(w, "command index not yet loaded", http.StatusServiceUnavailable)
		return
	}

	resp := vocabularyResponse{
		Generation: idx.Generation(),
		Commands:   idx.Len(),
		Keywords:   make([]keywordPayload, 0, len(idx.Vocabulary())),
	}
	for _, kb := range idx.Vocabulary() {
		resp.Keywords = append(resp.Keywords, keywordPayload{Keyword: kb.Keyword, Boost: kb.Boost})
	}
	writeJSON(w, http.StatusOK, resp)
}

// ── Macros ────────────────────────────────────────────────────────────────────

// macroSaveRequest is the JSON body for saving a macro.
type macroSaveRequest struct {
	Name  string   `json:"name"`
	Steps []string `json:"steps"`
}

// macroSavedResponse reports the saved macro's index id and the phrase the
// voice layer should speak back.
type macroSavedResponse struct {
	IntentID string `json:"intent_id"`
	Spoken   string `json:"spoken"`
}

type macroListResponse struct {
	Macros []macro.Macro `json:"macros"`
}

type macroDeletedResponse struct {
	Spoken string `json:"spoken"`
}

// handleListMacros handles GET /v1/macros.
func (s *Server) handleListMacros(w http.ResponseWriter, _ *http.Request) {
	list := s.macros.List()
	if list == nil {
		list = []macro.Macro{}
	}
	writeJSON(w, http.StatusOK, macroListResponse{Macros: list})
}

// handleSaveMacro handles POST /v1/macros.
func (s *Server) handleSaveMacro(w http.ResponseWriter, r *http.Request) {
	var req macroSaveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}

	spoken, err := s.macros.Save(req.Name, req.Steps)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	writeJSON(w, http.StatusCreated, macroSavedResponse{
		IntentID: macro.IntentID(req.Name),
		Spoken:   spoken,
	})
}

// handleDeleteMacro handles DELETE /v1/macros/{name}.
func (s *Server) handleDeleteMacro(w http.ResponseWriter, r *http.Request) {
	spoken, err := s.macros.Delete(r.PathValue("name"))
	if err != nil {
		if errors.Is(err, macro.ErrNotFound) {
			http.Error(w, "no macro with that name", http.StatusNotFound)
			return
		}
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, macroDeletedResponse{Spoken: spoken})
}

// ── Stats ─────────────────────────────────────────────────────────────────────

// statsResponse aggregates the counters of every running subsystem.
type statsResponse struct {
	Resolver resolver.Stats  `json:"resolver"`
	Dispatch *dispatch.Stats `json:"dispatch,omitempty"`
}

// handleStats handles GET /v1/stats.
func (s *Server) handleStats(w http.ResponseWriter, _ *http.Request) {
	resp := statsResponse{Resolver: s.resolver.Stats()}
	if s.pool != nil {
		ds := s.pool.Stats()
		resp.Dispatch = &ds
	}
	writeJSON(w, http.StatusOK, resp)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
