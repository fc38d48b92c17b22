package relay

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"drunk-bob/internal/domain"
	"drunk-bob/internal/observability"
	"drunk-bob/internal/recommendation"
	"drunk-bob/internal/solana"
	"drunk-bob/internal/storage"
)

// ServerConfig configures the HTTP API.
type ServerConfig struct {
	AllowedOrigins []string
	RateLimitRPS   float64
	RateLimitBurst int
	// HealthChecks are run by GET /health, keyed by component name.
	HealthChecks map[string]func(context.Context) error
}

// Server exposes the hub and the recommendation extractor over HTTP.
type Server struct {
	router          *chi.Mux
	hub             *Hub
	directives      storage.DirectiveStore
	recommendations storage.RecommendationStore
	limiter         *rate.Limiter
	checks          map[string]func(context.Context) error
	logger          *zap.Logger
	now             func() time.Time
}

// NewServer builds the router. recommendations may be nil, in which case
// parsed replies are returned but not stored.
func NewServer(cfg ServerConfig, hub *Hub, directives storage.DirectiveStore, recommendations storage.RecommendationStore, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	origins := cfg.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	limit, burst := rate.Inf, cfg.RateLimitBurst
	if cfg.RateLimitRPS > 0 {
		limit = rate.Limit(cfg.RateLimitRPS)
		if burst < 1 {
			burst = 1
		}
	}

	s := &Server{
		router:          chi.NewRouter(),
		hub:             hub,
		directives:      directives,
		recommendations: recommendations,
		limiter:         rate.NewLimiter(limit, burst),
		checks:          cfg.HealthChecks,
		logger:          logger.Named("api"),
		now:             time.Now,
	}

	s.router.Use(cors.Handler(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type"},
		MaxAge:         300,
	}))
	s.routes()
	return s
}

func (s *Server) routes() {
	s.router.Get("/health", s.handleHealth)
	s.router.Handle("/metrics", observability.Handler())
	s.router.Handle("/ws", s.hub)

	s.router.Group(func(r chi.Router) {
		r.Use(s.instrument, s.rateLimit)
		r.Get("/api/wallets", s.handleWallets)
		r.Post("/api/wallets/{wallet}/sign-message", s.handleSignMessage)
		r.Post("/api/wallets/{wallet}/lock", s.handleLock)
		r.Post("/api/wallets/{wallet}/claim", s.handleClaim)
		r.Get("/api/wallets/{wallet}/directives", s.handleListDirectives)
		r.Get("/api/directives/{id}", s.handleGetDirective)
		r.Get("/api/directives/{id}/status", s.handleDirectiveStatus)
		r.Get("/api/blockhash", s.handleBlockhash)
		r.Post("/api/recommendations/parse", s.handleParse)
	})
}

// Router returns the HTTP handler.
func (s *Server) Router() http.Handler { return s.router }

// instrument records request count and latency by route pattern.
func (s *Server) instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		route := r.URL.Path
		if rctx := chi.RouteContext(r.Context()); rctx != nil {
			if p := rctx.RoutePattern(); p != "" {
				route = p
			}
		}
		code := ww.Status()
		if code == 0 {
			code = http.StatusOK
		}
		observability.RecordHTTPRequest(r.Method, route, code, time.Since(start).Seconds())
	})
}

func (s *Server) rateLimit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !s.limiter.Allow() {
			s.logger.Warn("rate limit exceeded", zap.String("method", r.Method), zap.String("path", r.URL.Path))
			s.writeError(w, http.StatusTooManyRequests, http.StatusText(http.StatusTooManyRequests))
			return
		}
		next.ServeHTTP(w, r)
	})
}

// ErrorResponse is the JSON body of a failed request.
type ErrorResponse struct {
	Error string `json:"error"`
}

// DirectiveResponse is the JSON view of a directive.
type DirectiveResponse struct {
	DirectiveID string   `json:"directive_id"`
	Wallet      string   `json:"wallet"`
	Kind        string   `json:"kind"`
	Status      string   `json:"status"`
	Payload     []string `json:"payload"`
	Signatures  []string `json:"signatures,omitempty"`
	CreatedAt   int64    `json:"created_at"`
	CompletedAt *int64   `json:"completed_at,omitempty"`
}

func toDirectiveResponse(d *domain.Directive) DirectiveResponse {
	return DirectiveResponse{
		DirectiveID: d.DirectiveID,
		Wallet:      d.Wallet,
		Kind:        d.Kind.String(),
		Status:      d.Status.String(),
		Payload:     d.Payload,
		Signatures:  d.Signatures,
		CreatedAt:   d.CreatedAt,
		CompletedAt: d.CompletedAt,
	}
}

type signMessageRequest struct {
	Message string `json:"message"`
}

type lockRequest struct {
	Transaction string `json:"transaction"`
}

type claimRequest struct {
	Transactions []string `json:"transactions"`
}

// ParseRequest is the body of POST /api/recommendations/parse.
type ParseRequest struct {
	Text      string `json:"text"`
	SessionID string `json:"session_id"`
	Wallet    string `json:"wallet"`
}

// ParseResponse is the result of running the extractor on one reply.
type ParseResponse struct {
	ReplyID          string `json:"reply_id"`
	IsRecommendation bool   `json:"is_recommendation"`
	Stored           bool   `json:"stored"`
	recommendation.Response
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	code, resp := http.StatusOK, map[string]string{"status": "ok"}
	for name, check := range s.checks {
		if err := check(ctx); err != nil {
			s.logger.Warn("health check failed", zap.String("component", name), zap.Error(err))
			code = http.StatusServiceUnavailable
			resp["status"] = "degraded"
			resp[name] = err.Error()
			continue
		}
		resp[name] = "ok"
	}
	s.writeJSON(w, code, resp)
}

func (s *Server) handleWallets(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string][]string{"wallets": s.hub.Wallets()})
}

func (s *Server) handleSignMessage(w http.ResponseWriter, r *http.Request) {
	var req signMessageRequest
	if !s.decode(w, r, &req) {
		return
	}
	d, err := s.hub.SignMessage(r.Context(), chi.URLParam(r, "wallet"), req.Message)
	s.writeIssued(w, d, err)
}

func (s *Server) handleLock(w http.ResponseWriter, r *http.Request) {
	var req lockRequest
	if !s.decode(w, r, &req) {
		return
	}
	d, err := s.hub.Lock(r.Context(), chi.URLParam(r, "wallet"), req.Transaction)
	s.writeIssued(w, d, err)
}

func (s *Server) handleClaim(w http.ResponseWriter, r *http.Request) {
	var req claimRequest
	if !s.decode(w, r, &req) {
		return
	}
	d, err := s.hub.Claim(r.Context(), chi.URLParam(r, "wallet"), req.Transactions)
	s.writeIssued(w, d, err)
}

func (s *Server) writeIssued(w http.ResponseWriter, d *domain.Directive, err error) {
	switch {
	case err == nil:
		s.writeJSON(w, http.StatusAccepted, toDirectiveResponse(d))
	case errors.Is(err, ErrInvalidDirective):
		s.writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, ErrWalletNotConnected):
		s.writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, ErrHubClosed):
		s.writeError(w, http.StatusServiceUnavailable, err.Error())
	default:
		s.logger.Error("issue directive", zap.Error(err))
		s.writeError(w, http.StatusBadGateway, err.Error())
	}
}

func (s *Server) handleListDirectives(w http.ResponseWriter, r *http.Request) {
	wallet := chi.URLParam(r, "wallet")
	if _, err := solana.ValidateWalletAddress(wallet); err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	ds, err := s.directives.ListByWallet(r.Context(), wallet)
	if err != nil {
		s.logger.Error("list directives", zap.Error(err))
		s.writeError(w, http.StatusInternalServerError, "failed to list directives")
		return
	}
	out := make([]DirectiveResponse, len(ds))
	for i, d := range ds {
		out[i] = toDirectiveResponse(d)
	}
	s.writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleGetDirective(w http.ResponseWriter, r *http.Request) {
	d, err := s.directives.GetByID(r.Context(), chi.URLParam(r, "id"))
	if errors.Is(err, storage.ErrNotFound) {
		s.writeError(w, http.StatusNotFound, "directive not found")
		return
	}
	if err != nil {
		s.logger.Error("get directive", zap.Error(err))
		s.writeError(w, http.StatusInternalServerError, "failed to get directive")
		return
	}
	s.writeJSON(w, http.StatusOK, toDirectiveResponse(d))
}

// SignatureStatusResponse reports whether one broadcast signature landed.
type SignatureStatusResponse struct {
	Signature          string `json:"signature"`
	Landed             bool   `json:"landed"`
	ConfirmationStatus string `json:"confirmation_status,omitempty"`
	Slot               int64  `json:"slot,omitempty"`
	Error              any    `json:"error,omitempty"`
}

func (s *Server) handleDirectiveStatus(w http.ResponseWriter, r *http.Request) {
	if s.hub.rpc == nil {
		s.writeError(w, http.StatusNotImplemented, "no RPC endpoint configured")
		return
	}
	d, err := s.directives.GetByID(r.Context(), chi.URLParam(r, "id"))
	if errors.Is(err, storage.ErrNotFound) {
		s.writeError(w, http.StatusNotFound, "directive not found")
		return
	}
	if err != nil {
		s.logger.Error("get directive", zap.Error(err))
		s.writeError(w, http.StatusInternalServerError, "failed to get directive")
		return
	}
	if len(d.Signatures) == 0 {
		s.writeJSON(w, http.StatusOK, []SignatureStatusResponse{})
		return
	}

	statuses, err := s.hub.rpc.GetSignatureStatuses(r.Context(), d.Signatures)
	if err != nil {
		s.logger.Error("signature statuses", zap.String("directive_id", d.DirectiveID), zap.Error(err))
		s.writeError(w, http.StatusBadGateway, err.Error())
		return
	}
	out := make([]SignatureStatusResponse, len(d.Signatures))
	for i, sig := range d.Signatures {
		out[i] = SignatureStatusResponse{Signature: sig}
		if i < len(statuses) && statuses[i] != nil {
			st := statuses[i]
			out[i].Landed = st.Landed()
			out[i].ConfirmationStatus = st.ConfirmationStatus
			out[i].Slot = st.Slot
			out[i].Error = st.Err
		}
	}
	s.writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleBlockhash(w http.ResponseWriter, r *http.Request) {
	if s.hub.rpc == nil {
		s.writeError(w, http.StatusNotImplemented, "no RPC endpoint configured")
		return
	}
	h, err := s.hub.rpc.GetLatestBlockhash(r.Context())
	if err != nil {
		s.logger.Error("latest blockhash", zap.Error(err))
		s.writeError(w, http.StatusBadGateway, err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"blockhash": h.String()})
}

func (s *Server) handleParse(w http.ResponseWriter, r *http.Request) {
	var req ParseRequest
	if !s.decode(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.Text) == "" {
		s.writeError(w, http.StatusBadRequest, "text is required")
		return
	}

	records := recommendation.Parse(req.Text)
	observability.RecordRecommendations(len(records))

	resp := ParseResponse{
		ReplyID:          uuid.NewString(),
		IsRecommendation: recommendation.IsRecommendationReply(req.Text),
		Response:         recommendation.FormatResponse(records),
	}

	if s.recommendations != nil && len(records) > 0 && req.SessionID != "" {
		events := toEvents(resp.ReplyID, req, records, s.now().UnixMilli())
		if err := s.recommendations.InsertBulk(r.Context(), events); err != nil {
			s.logger.Error("store recommendations", zap.String("reply_id", resp.ReplyID), zap.Error(err))
		} else {
			resp.Stored = true
		}
	}
	s.writeJSON(w, http.StatusOK, resp)
}

func toEvents(replyID string, req ParseRequest, records []recommendation.Record, createdAt int64) []*domain.RecommendationEvent {
	events := make([]*domain.RecommendationEvent, len(records))
	for i, rec := range records {
		e := &domain.RecommendationEvent{
			ReplyID:   replyID,
			SessionID: req.SessionID,
			Wallet:    req.Wallet,
			Position:  i + 1,
			Name:      rec.Name,
			Brand:     rec.Brand,
			Spirit:    rec.Spirit,
			Proof:     rec.Proof,
			ImageURL:  rec.ImageURL,
			Why:       rec.Why,
			CreatedAt: createdAt,
		}
		if rec.Price.Known {
			amount := rec.Price.Amount
			e.Price = &amount
		}
		events[i] = e
	}
	return events
}

func (s *Server) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, 1<<20)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid JSON body")
		return false
	}
	return true
}

func (s *Server) writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func (s *Server) writeError(w http.ResponseWriter, code int, msg string) {
	s.writeJSON(w, code, ErrorResponse{Error: msg})
}
