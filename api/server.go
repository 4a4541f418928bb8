// Package api provides the HTTP API server for the FinOps platform.
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"cloud-finops/db/clickhouse"
	"cloud-finops/internal/analysis"
	"cloud-finops/internal/billing"
	"cloud-finops/internal/forecast"
	"cloud-finops/internal/llm"
	"cloud-finops/internal/recommend"
	"cloud-finops/internal/store"
	"cloud-finops/pkg/config"
	"cloud-finops/pkg/model"
)

// Config holds server configuration.
type Config struct {
	Port           int
	ReadTimeout    time.Duration
	WriteTimeout   time.Duration
	MaxRequestSize int64
}

// DefaultConfig returns default server configuration.
func DefaultConfig() *Config {
	return &Config{
		Port:           8080,
		ReadTimeout:    30 * time.Second,
		WriteTimeout:   120 * time.Second,
		MaxRequestSize: 1 * 1024 * 1024, // 1MB
	}
}

// Server is the HTTP API server.
type Server struct {
	httpServer *http.Server
	config     *Config
	appCfg     *config.Config

	store     *store.Postgres
	mirror    *clickhouse.Store
	biller    *billing.Client
	forecasts *forecast.Engine
	recs      *recommend.Engine
	chain     *analysis.Chain
	logger    zerolog.Logger
}

// NewServer wires the API over the already-constructed components. The
// ClickHouse mirror may be nil when disabled.
func NewServer(appCfg *config.Config, cfg *Config, pg *store.Postgres, mirror *clickhouse.Store, biller *billing.Client, logger zerolog.Logger) *Server {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	return &Server{
		config:    cfg,
		appCfg:    appCfg,
		store:     pg,
		mirror:    mirror,
		biller:    biller,
		forecasts: forecast.NewEngine(biller, pg, appCfg.AWS.AccountID, logger),
		recs:      recommend.NewEngine(biller, pg, appCfg.AWS.AccountID, logger),
		chain:     analysis.NewChain(pg, logger),
		logger:    logger.With().Str("component", "api").Logger(),
	}
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(s.requestLogger)

	r.Get("/health", s.handleHealth)
	r.Get("/ready", s.handleReady)

	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/ingest", s.handleIngest)
		r.Get("/costs/summary", s.handleCostSummary)
		r.Post("/costs/insights", s.handleInsights)
		r.Post("/forecast", s.handleForecast)
		r.Get("/forecast", s.handleLatestForecasts)
		r.Post("/recommendations", s.handleGenerateRecommendations)
		r.Get("/recommendations", s.handleListRecommendations)
		r.Patch("/recommendations/{id}", s.handleUpdateRecommendation)
		r.Post("/ask", s.handleAsk)
		r.Get("/chat/{session}", s.handleChatHistory)
		r.Get("/settings/{user}", s.handleGetSettings)
		r.Put("/settings/{user}", s.handleSaveSettings)
	})

	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf(":%d", s.config.Port),
		Handler:      r,
		ReadTimeout:  s.config.ReadTimeout,
		WriteTimeout: s.config.WriteTimeout,
	}

	s.logger.Info().Int("port", s.config.Port).Msg("API server starting")
	return s.httpServer.ListenAndServe()
}

// StartWithGracefulShutdown starts the server and drains in-flight
// requests on SIGINT or SIGTERM.
func (s *Server) StartWithGracefulShutdown() error {
	errChan := make(chan error, 1)
	go func() {
		if err := s.Start(); err != http.ErrServerClosed {
			errChan <- err
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errChan:
		return err
	case <-quit:
		s.logger.Info().Msg("shutting down server")
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		return s.httpServer.Shutdown(ctx)
	}
}

func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		s.logger.Info().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Dur("duration", time.Since(start)).
			Msg("request")
	})
}

// =============================================================================
// HEALTH ENDPOINTS
// =============================================================================

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.jsonResponse(w, http.StatusOK, map[string]string{
		"status":  "healthy",
		"version": "1.0.0",
	})
}

func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	if err := s.store.Ping(ctx); err != nil {
		s.jsonError(w, http.StatusServiceUnavailable, "database not ready")
		return
	}
	if s.mirror != nil {
		if err := s.mirror.Ping(ctx); err != nil {
			s.jsonError(w, http.StatusServiceUnavailable, "analytics mirror not ready")
			return
		}
	}

	s.jsonResponse(w, http.StatusOK, map[string]string{"status": "ready"})
}

// =============================================================================
// INGESTION
// =============================================================================

// IngestRequest selects the billing window to pull.
type IngestRequest struct {
	StartDate   string   `json:"start_date"`
	EndDate     string   `json:"end_date"`
	Granularity string   `json:"granularity"`
	Dimensions  []string `json:"dimensions"`
}

// IngestResponse reports the ingestion outcome.
type IngestResponse struct {
	RecordCount int    `json:"record_count"`
	Mirrored    bool   `json:"mirrored"`
	StartDate   string `json:"start_date"`
	EndDate     string `json:"end_date"`
}

func (s *Server) handleIngest(w http.ResponseWriter, r *http.Request) {
	var req IngestRequest
	if err := s.decode(w, r, &req); err != nil {
		return
	}

	start, end, err := parseDateRange(req.StartDate, req.EndDate)
	if err != nil {
		s.jsonError(w, http.StatusBadRequest, err.Error())
		return
	}

	gran := model.Granularity(req.Granularity)
	if req.Granularity == "" {
		gran = model.GranularityDaily
	}

	dims := make([]model.Dimension, 0, len(req.Dimensions))
	for _, d := range req.Dimensions {
		dims = append(dims, model.Dimension(d))
	}
	if len(dims) == 0 {
		dims = []model.Dimension{model.DimensionService, model.DimensionRegion}
	}

	ctx := r.Context()
	records, err := s.biller.FetchByDimension(ctx, start, end, gran, dims)
	if err != nil {
		s.jsonError(w, http.StatusBadGateway, fmt.Sprintf("billing fetch failed: %v", err))
		return
	}

	if err := s.store.InsertCostRecords(ctx, records); err != nil {
		s.jsonError(w, http.StatusInternalServerError, fmt.Sprintf("failed to persist cost records: %v", err))
		return
	}

	mirrored := false
	if s.mirror != nil {
		if err := s.mirror.MirrorCostRecords(ctx, records); err != nil {
			s.logger.Warn().Err(err).Msg("analytics mirror write failed")
		} else {
			mirrored = true
		}
	}

	s.jsonResponse(w, http.StatusOK, IngestResponse{
		RecordCount: len(records),
		Mirrored:    mirrored,
		StartDate:   start.Format("2006-01-02"),
		EndDate:     end.Format("2006-01-02"),
	})
}

// =============================================================================
// COST SUMMARY
// =============================================================================

// CostSummaryResponse aggregates spend by service and by day over a
// window, with the configured budget alert evaluated against the total.
type CostSummaryResponse struct {
	ByService   []model.ServiceTotal `json:"by_service"`
	ByDay       []model.DailyTotal   `json:"by_day"`
	TotalCost   string               `json:"total_cost"`
	BudgetAlert *BudgetStatus        `json:"budget_alert,omitempty"`
}

// BudgetStatus reports whether the window total crossed the threshold.
type BudgetStatus struct {
	Threshold string `json:"threshold"`
	Exceeded  bool   `json:"exceeded"`
}

func (s *Server) handleCostSummary(w http.ResponseWriter, r *http.Request) {
	start, end, err := parseDateRange(r.URL.Query().Get("start_date"), r.URL.Query().Get("end_date"))
	if err != nil {
		s.jsonError(w, http.StatusBadRequest, err.Error())
		return
	}

	ctx := r.Context()
	var byService []model.ServiceTotal
	var byDay []model.DailyTotal
	if s.mirror != nil {
		// Columnar aggregates when the mirror is up; fall back to the
		// system of record on any failure.
		var svcErr, dayErr error
		byService, svcErr = s.mirror.SumCostByService(ctx, start, end)
		byDay, dayErr = s.mirror.SumCostByDay(ctx, start, end)
		if svcErr != nil || dayErr != nil {
			s.logger.Warn().AnErr("service_err", svcErr).AnErr("day_err", dayErr).
				Msg("mirror aggregation failed, falling back to postgres")
			byService, byDay = nil, nil
		}
	}
	if byService == nil && byDay == nil {
		byService = s.store.SumCostByService(ctx, start, end)
		byDay = s.store.SumCostByDay(ctx, start, end)
	}

	total := model.SumServiceTotals(byService)
	resp := CostSummaryResponse{
		ByService: byService,
		ByDay:     byDay,
		TotalCost: total.StringFixed(2),
	}

	if user := r.URL.Query().Get("user"); user != "" {
		if settings, err := s.store.GetSettings(ctx, user); err == nil && settings != nil &&
			settings.BudgetAlerts != nil && settings.BudgetAlerts.Enabled {
			resp.BudgetAlert = &BudgetStatus{
				Threshold: settings.BudgetAlerts.Threshold.StringFixed(2),
				Exceeded:  total.GreaterThan(settings.BudgetAlerts.Threshold),
			}
		}
	}

	s.jsonResponse(w, http.StatusOK, resp)
}

// =============================================================================
// INSIGHTS
// =============================================================================

// InsightsRequest selects the backend and history window.
type InsightsRequest struct {
	Backend string `json:"backend,omitempty"`
	Days    int    `json:"days,omitempty"`
}

func (s *Server) handleInsights(w http.ResponseWriter, r *http.Request) {
	var req InsightsRequest
	if err := s.decode(w, r, &req); err != nil {
		return
	}
	if req.Days <= 0 {
		req.Days = 30
	}
	backendID := req.Backend
	if backendID == "" {
		backendID = s.appCfg.DefaultBackend
	}
	backend, err := s.openBackend(backendID)
	if err != nil {
		s.jsonError(w, http.StatusBadRequest, err.Error())
		return
	}

	ctx := r.Context()
	cutoff := time.Now().UTC().AddDate(0, 0, -req.Days)
	records, err := s.store.CostRecordsSince(ctx, cutoff, 0)
	if err != nil {
		s.jsonError(w, http.StatusInternalServerError, fmt.Sprintf("failed to load cost records: %v", err))
		return
	}
	if len(records) == 0 {
		s.jsonError(w, http.StatusNotFound, "no cost data in the requested window; ingest first")
		return
	}

	insights, err := backend.SummarizeInsights(ctx, records)
	if err != nil {
		s.jsonError(w, http.StatusBadGateway, err.Error())
		return
	}
	s.jsonResponse(w, http.StatusOK, map[string]any{
		"insights":     insights,
		"record_count": len(records),
		"backend":      backendID,
	})
}

// =============================================================================
// FORECASTS
// =============================================================================

// ForecastRequest selects the horizon and strategy.
type ForecastRequest struct {
	Days    int    `json:"days"`
	Backend string `json:"backend,omitempty"`
}

func (s *Server) handleForecast(w http.ResponseWriter, r *http.Request) {
	var req ForecastRequest
	if err := s.decode(w, r, &req); err != nil {
		return
	}
	if req.Days <= 0 {
		req.Days = 30
	}

	ctx := r.Context()
	if req.Backend == "" {
		result, err := s.forecasts.Native(ctx, req.Days)
		if err != nil {
			s.jsonError(w, http.StatusBadGateway, fmt.Sprintf("forecast failed: %v", err))
			return
		}
		s.jsonResponse(w, http.StatusOK, result)
		return
	}

	backend, err := s.openBackend(req.Backend)
	if err != nil {
		s.jsonError(w, http.StatusBadRequest, err.Error())
		return
	}
	narrative, err := s.forecasts.Generative(ctx, backend, req.Days)
	if err != nil {
		s.jsonError(w, http.StatusBadGateway, fmt.Sprintf("forecast failed: %v", err))
		return
	}
	s.jsonResponse(w, http.StatusOK, map[string]string{"narrative": narrative})
}

func (s *Server) handleLatestForecasts(w http.ResponseWriter, r *http.Request) {
	limit := 30
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 {
			limit = n
		}
	}
	points := s.store.LatestForecasts(r.Context(), limit)
	s.jsonResponse(w, http.StatusOK, map[string]any{"forecasts": points})
}

// =============================================================================
// RECOMMENDATIONS
// =============================================================================

// RecommendRequest selects the strategy. An empty backend means the
// provider-native source.
type RecommendRequest struct {
	Backend string `json:"backend,omitempty"`
}

func (s *Server) handleGenerateRecommendations(w http.ResponseWriter, r *http.Request) {
	var req RecommendRequest
	if err := s.decode(w, r, &req); err != nil {
		return
	}

	ctx := r.Context()
	var (
		recs []model.Recommendation
		err  error
	)
	if req.Backend == "" {
		recs, err = s.recs.Native(ctx)
	} else {
		var backend llm.Backend
		backend, err = s.openBackend(req.Backend)
		if err != nil {
			s.jsonError(w, http.StatusBadRequest, err.Error())
			return
		}
		recs, err = s.recs.Generative(ctx, backend)
	}
	if err != nil {
		s.jsonError(w, http.StatusBadGateway, fmt.Sprintf("recommendation generation failed: %v", err))
		return
	}

	s.jsonResponse(w, http.StatusOK, map[string]any{
		"recommendations":   recs,
		"potential_savings": model.TotalPotentialSavings(recs).StringFixed(2),
	})
}

func (s *Server) handleListRecommendations(w http.ResponseWriter, r *http.Request) {
	status := model.RecommendationStatus(r.URL.Query().Get("status"))
	recs := s.store.ListRecommendations(r.Context(), status)
	s.jsonResponse(w, http.StatusOK, map[string]any{
		"recommendations":   recs,
		"potential_savings": model.TotalPotentialSavings(recs).StringFixed(2),
	})
}

func (s *Server) handleUpdateRecommendation(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		s.jsonError(w, http.StatusBadRequest, "invalid recommendation id")
		return
	}

	var req struct {
		Status model.RecommendationStatus `json:"status"`
	}
	if err := s.decode(w, r, &req); err != nil {
		return
	}

	if err := s.store.UpdateRecommendationStatus(r.Context(), id, req.Status); err != nil {
		s.jsonError(w, http.StatusBadRequest, err.Error())
		return
	}
	s.jsonResponse(w, http.StatusOK, map[string]string{"status": string(req.Status)})
}

// =============================================================================
// NATURAL-LANGUAGE ANALYSIS
// =============================================================================

// AskRequest carries a natural-language question. SessionID groups
// turns into a conversation; zero means a fresh session.
type AskRequest struct {
	Question  string    `json:"question"`
	Backend   string    `json:"backend,omitempty"`
	SessionID uuid.UUID `json:"session_id,omitempty"`
}

// AskResponse is the analysis result plus the session the turn was
// recorded under.
type AskResponse struct {
	*analysis.Result
	SessionID uuid.UUID `json:"session_id"`
}

func (s *Server) handleAsk(w http.ResponseWriter, r *http.Request) {
	var req AskRequest
	if err := s.decode(w, r, &req); err != nil {
		return
	}

	backendID := req.Backend
	if backendID == "" {
		backendID = s.appCfg.DefaultBackend
	}
	backend, err := s.openBackend(backendID)
	if err != nil {
		s.jsonError(w, http.StatusBadRequest, err.Error())
		return
	}

	ctx := r.Context()
	result, err := s.chain.Ask(ctx, backend, req.Question)
	if err != nil {
		s.jsonError(w, http.StatusBadRequest, err.Error())
		return
	}

	sessionID := req.SessionID
	if sessionID == uuid.Nil {
		sessionID = uuid.New()
	}
	turn := model.ChatTurn{
		SessionID:  sessionID,
		UserQuery:  req.Question,
		Response:   result.Summary,
		Backend:    backendID,
		TokensUsed: result.TokensUsed,
	}
	if err := s.store.SaveChatTurn(ctx, turn); err != nil {
		s.logger.Warn().Err(err).Msg("failed to record chat turn")
	}

	s.jsonResponse(w, http.StatusOK, AskResponse{Result: result, SessionID: sessionID})
}

func (s *Server) handleChatHistory(w http.ResponseWriter, r *http.Request) {
	sessionID, err := uuid.Parse(chi.URLParam(r, "session"))
	if err != nil {
		s.jsonError(w, http.StatusBadRequest, "invalid session id")
		return
	}
	limit := 50
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 {
			limit = n
		}
	}
	turns := s.store.ChatHistory(r.Context(), sessionID, limit)
	s.jsonResponse(w, http.StatusOK, map[string]any{
		"session_id": sessionID,
		"turns":      turns,
	})
}

// =============================================================================
// SETTINGS
// =============================================================================

func (s *Server) handleGetSettings(w http.ResponseWriter, r *http.Request) {
	user := chi.URLParam(r, "user")
	settings, err := s.store.GetSettings(r.Context(), user)
	if err != nil {
		s.jsonError(w, http.StatusInternalServerError, fmt.Sprintf("failed to load settings: %v", err))
		return
	}
	if settings == nil {
		s.jsonError(w, http.StatusNotFound, "no settings for user")
		return
	}
	s.jsonResponse(w, http.StatusOK, settings)
}

func (s *Server) handleSaveSettings(w http.ResponseWriter, r *http.Request) {
	var settings model.UserSettings
	if err := s.decode(w, r, &settings); err != nil {
		return
	}
	settings.UserID = chi.URLParam(r, "user")

	if err := s.store.SaveSettings(r.Context(), settings); err != nil {
		s.jsonError(w, http.StatusInternalServerError, fmt.Sprintf("failed to save settings: %v", err))
		return
	}
	s.jsonResponse(w, http.StatusOK, map[string]string{"status": "saved"})
}

// =============================================================================
// HELPERS
// =============================================================================

func (s *Server) openBackend(id string) (llm.Backend, error) {
	return llm.Open(id, s.appCfg, s.logger)
}

func (s *Server) decode(w http.ResponseWriter, r *http.Request, dst any) error {
	r.Body = http.MaxBytesReader(w, r.Body, s.config.MaxRequestSize)
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		s.jsonError(w, http.StatusBadRequest, fmt.Sprintf("invalid request: %v", err))
		return err
	}
	return nil
}

// parseDateRange parses a YYYY-MM-DD pair, defaulting to the trailing
// 30 days when both are empty.
func parseDateRange(startStr, endStr string) (time.Time, time.Time, error) {
	if startStr == "" && endStr == "" {
		end := time.Now().UTC().Truncate(24 * time.Hour)
		return end.AddDate(0, 0, -30), end, nil
	}
	start, err := time.Parse("2006-01-02", startStr)
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("invalid start_date %q: want YYYY-MM-DD", startStr)
	}
	end, err := time.Parse("2006-01-02", endStr)
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("invalid end_date %q: want YYYY-MM-DD", endStr)
	}
	if end.Before(start) {
		return time.Time{}, time.Time{}, fmt.Errorf("end_date must not precede start_date")
	}
	return start, end, nil
}

func (s *Server) jsonResponse(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func (s *Server) jsonError(w http.ResponseWriter, status int, message string) {
	s.jsonResponse(w, status, map[string]string{"error": message})
}
