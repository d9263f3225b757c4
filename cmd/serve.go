package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/compliance-cli/internal/config"
	"github.com/sells-group/compliance-cli/internal/model"
	"github.com/sells-group/compliance-cli/internal/monitoring"
	"github.com/sells-group/compliance-cli/internal/scanner"
	"github.com/sells-group/compliance-cli/internal/store"
)

var servePort int

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the compliance HTTP API",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		env, err := initEnv(ctx, "serve")
		if err != nil {
			return err
		}
		defer env.Close()

		collector := monitoring.NewCollector(env.Store)
		if cfg.Monitoring.Enabled {
			checker := monitoring.NewChecker(collector, monitoring.NewAlerter(cfg.Monitoring), cfg.Monitoring)
			go checker.Run(ctx)
		}

		api := &apiServer{
			scanner:      env.Scanner,
			batch:        env.Coordinator,
			store:        env.Store,
			catalog:      env.Engine.Catalog(),
			collector:    collector,
			monitoring:   cfg.Monitoring,
			defaultLimit: cfg.Batch.DefaultLimit,
		}
		return startServer(ctx, buildRouter(api, cfg.Server.CORSOrigins), resolvePort(servePort, cfg.Server.Port))
	},
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 0, "server port (default from config)")
	rootCmd.AddCommand(serveCmd)
}

// batchRunner runs a source rescan.
type batchRunner interface {
	Run(ctx context.Context, sourceRef string, limit int) (*scanner.BatchResult, error)
}

// apiServer holds the collaborators behind the HTTP routes.
type apiServer struct {
	scanner      scanner.ProductScanner
	batch        batchRunner
	store        store.Store
	catalog      []model.ComplianceRule
	collector    *monitoring.Collector
	monitoring   config.MonitoringConfig
	defaultLimit int
}

func resolvePort(flagPort, cfgPort int) int {
	if flagPort != 0 {
		return flagPort
	}
	return cfgPort
}

// buildRouter mounts the API on a chi router with CORS for origins.
func buildRouter(api *apiServer, origins []string) chi.Router {
	if len(origins) == 0 {
		origins = []string{"*"}
	}

	r := chi.NewRouter()
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(requestLogger)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Content-Type"},
		MaxAge:         300,
	}))

	r.Get("/health", api.handleHealth)
	r.Get("/rules", api.handleRules)
	r.Get("/stats", api.handleStats)
	r.Post("/scan", api.handleScan)
	r.Post("/batch", api.handleBatch)
	r.Get("/products/{id}", api.handleProduct)
	r.Route("/violations", func(r chi.Router) {
		r.Get("/", api.handleListViolations)
		r.Post("/{id}/{action}", api.handleTransition)
	})
	return r
}

// startServer serves handler on port until ctx is cancelled.
func startServer(ctx context.Context, handler http.Handler, port int) error {
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		zap.L().Info("shutting down server")
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 30*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	zap.L().Info("starting server", zap.Int("port", port))
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return eris.Wrap(err, "server listen")
	}
	return nil
}

func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		zap.L().Debug("http request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Duration("elapsed", time.Since(start)),
		)
	})
}

func respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func respondError(w http.ResponseWriter, status int, msg string) {
	respondJSON(w, status, map[string]string{"error": msg})
}

func (a *apiServer) handleHealth(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (a *apiServer) handleRules(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, a.catalog)
}

func (a *apiServer) handleStats(w http.ResponseWriter, r *http.Request) {
	if a.collector == nil {
		respondError(w, http.StatusNotFound, "monitoring unavailable")
		return
	}
	lookback := a.monitoring.LookbackHours
	if lookback <= 0 {
		lookback = 24
	}
	snap, err := a.collector.Collect(r.Context(), lookback, a.monitoring.StaleAfterHours)
	if err != nil {
		zap.L().Error("api: collect stats", zap.Error(err))
		respondError(w, http.StatusInternalServerError, "failed to collect stats")
		return
	}
	respondJSON(w, http.StatusOK, snap)
}

type scanRequest struct {
	URL         string `json:"url"`
	SourceRef   string `json:"source_ref"`
	CategoryRef string `json:"category_ref"`
}

func (a *apiServer) handleScan(w http.ResponseWriter, r *http.Request) {
	var req scanRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.URL == "" {
		respondError(w, http.StatusBadRequest, "url is required")
		return
	}

	res, err := a.scanner.Scan(r.Context(), scanner.Request{
		URL:         req.URL,
		SourceRef:   req.SourceRef,
		CategoryRef: req.CategoryRef,
	})
	if err != nil {
		stage, _ := scanner.StageOf(err)
		respondError(w, scanErrorStatus(stage), err.Error())
		return
	}
	respondJSON(w, http.StatusOK, res)
}

// scanErrorStatus maps a failed stage onto an HTTP status.
func scanErrorStatus(stage scanner.Stage) int {
	switch stage {
	case scanner.StageInvalidURL:
		return http.StatusBadRequest
	case scanner.StageFetch:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

type batchRequest struct {
	SourceRef string `json:"source_ref"`
	Limit     int    `json:"limit"`
}

func (a *apiServer) handleBatch(w http.ResponseWriter, r *http.Request) {
	var req batchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.SourceRef == "" {
		respondError(w, http.StatusBadRequest, "source_ref is required")
		return
	}
	if req.Limit <= 0 {
		req.Limit = a.defaultLimit
	}

	res, err := a.batch.Run(r.Context(), req.SourceRef, req.Limit)
	if err != nil {
		zap.L().Error("api: batch failed", zap.String("source_ref", req.SourceRef), zap.Error(err))
		respondError(w, http.StatusInternalServerError, "batch failed")
		return
	}
	respondJSON(w, http.StatusOK, res)
}

func (a *apiServer) handleProduct(w http.ResponseWriter, r *http.Request) {
	detail, err := loadProductDetail(r.Context(), a.store, chi.URLParam(r, "id"))
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			respondError(w, http.StatusNotFound, "product not found")
			return
		}
		zap.L().Error("api: load product", zap.Error(err))
		respondError(w, http.StatusInternalServerError, "failed to load product")
		return
	}
	respondJSON(w, http.StatusOK, detail)
}

func (a *apiServer) handleListViolations(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := store.ViolationFilter{
		ProductID: q.Get("product_id"),
		Status:    model.ViolationStatus(q.Get("status")),
		Severity:  model.Severity(q.Get("severity")),
		RuleID:    q.Get("rule_id"),
	}
	var err error
	if filter.Limit, err = intParam(q.Get("limit")); err != nil {
		respondError(w, http.StatusBadRequest, "limit must be a non-negative integer")
		return
	}
	if filter.Offset, err = intParam(q.Get("offset")); err != nil {
		respondError(w, http.StatusBadRequest, "offset must be a non-negative integer")
		return
	}

	vs, err := a.store.ListViolations(r.Context(), filter)
	if err != nil {
		zap.L().Error("api: list violations", zap.Error(err))
		respondError(w, http.StatusInternalServerError, "failed to list violations")
		return
	}
	if vs == nil {
		vs = []model.Violation{}
	}
	respondJSON(w, http.StatusOK, vs)
}

func intParam(s string) (int, error) {
	if s == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(s)
	if err != nil || n < 0 {
		return 0, eris.Errorf("invalid integer %q", s)
	}
	return n, nil
}

type transitionRequest struct {
	AssignedTo string `json:"assigned_to"`
	Notes      string `json:"notes"`
}

func (a *apiServer) handleTransition(w http.ResponseWriter, r *http.Request) {
	action := chi.URLParam(r, "action")
	switch action {
	case actionAssign, actionResolve, actionDismiss:
	default:
		respondError(w, http.StatusNotFound, "unknown action")
		return
	}

	var req transitionRequest
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			respondError(w, http.StatusBadRequest, "invalid request body")
			return
		}
	}

	update, err := statusUpdateFor(action, req.AssignedTo, req.Notes)
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	v, err := a.store.UpdateViolationStatus(r.Context(), chi.URLParam(r, "id"), update)
	switch {
	case err == nil:
		respondJSON(w, http.StatusOK, v)
	case errors.Is(err, store.ErrNotFound):
		respondError(w, http.StatusNotFound, "violation not found")
	case errors.Is(err, model.ErrInvalidTransition):
		respondError(w, http.StatusConflict, err.Error())
	default:
		zap.L().Error("api: update violation", zap.Error(err))
		respondError(w, http.StatusInternalServerError, "failed to update violation")
	}
}
