// Package server exposes the coding pipeline over HTTP: case submission
// and status on a mux router, case history on gin routes mounted under
// the same listener, persistence in sqlite.
package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/spf13/cobra"

	"medcoder/internal/bootstrap"
	"medcoder/internal/utils"
	"medcoder/pkg/database"
	"medcoder/pkg/events"
	"medcoder/pkg/logger"
	"medcoder/pkg/orchestrator"
	"medcoder/pkg/orchestrator/agents"
	"medcoder/pkg/types"
)

const (
	shutdownGrace  = 10 * time.Second
	caseRunTimeout = 10 * time.Minute
)

// Config is the HTTP server configuration.
type Config struct {
	Port        int      `json:"port"`
	Host        string   `json:"host"`
	CORSOrigins []string `json:"cors_origins"`
	DBPath      string   `json:"db_path"`
}

// API is the HTTP layer over the orchestrator: it accepts cases, runs
// them in the background, and serves status, health, and history.
type API struct {
	config     Config
	orch       *orchestrator.Orchestrator
	services   agents.Services
	store      database.Store
	dispatcher *events.Dispatcher
	logger     utils.ExtendedLogger

	// Cancel functions for in-flight cases, so shutdown can stop them.
	mu      sync.Mutex
	running map[string]context.CancelFunc
}

// submitRequest is the POST /api/cases body.
type submitRequest struct {
	CaseID         string             `json:"case_id,omitempty"`
	PatientID      string             `json:"patient_id"`
	ProviderID     string             `json:"provider_id"`
	DateOfService  string             `json:"date_of_service,omitempty"`
	PlaceOfService string             `json:"place_of_service,omitempty"`
	ClaimKind      string             `json:"claim_kind,omitempty"`
	Demographics   types.Demographics `json:"demographics"`
	Notes          types.CaseNotes    `json:"notes"`
}

// NewServerCommand builds the server subcommand. The log flag pointers
// come from the root command's persistent flags.
func NewServerCommand(logFile, logLevel, logFormat *string) *cobra.Command {
	cfg := Config{}
	cmd := &cobra.Command{
		Use:   "server",
		Short: "Serve the coding pipeline over HTTP",
		Long: `Starts the HTTP API: POST /api/cases submits a case for background
processing, GET /api/cases/{id} returns its status and final state,
GET /api/health reports backend routing, and /api/history serves the
persisted case log.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			log, err := logger.CreateLogger(*logFile, *logLevel, *logFormat, true)
			if err != nil {
				return err
			}
			defer log.Close()
			return runServer(cmd.Context(), cfg, log)
		},
	}
	cmd.Flags().IntVar(&cfg.Port, "port", 8080, "listen port")
	cmd.Flags().StringVar(&cfg.Host, "host", "0.0.0.0", "listen host")
	cmd.Flags().StringSliceVar(&cfg.CORSOrigins, "cors-origins", []string{"*"}, "allowed CORS origins")
	cmd.Flags().StringVar(&cfg.DBPath, "db-path", "medcoder.db", "sqlite database path")
	return cmd
}

func runServer(ctx context.Context, cfg Config, log utils.ExtendedLogger) error {
	store, err := database.NewSQLiteStore(cfg.DBPath)
	if err != nil {
		return err
	}
	defer store.Close()

	dispatcher := events.NewDispatcher()
	dispatcher.Register(events.NewLoggingListener(log))
	dispatcher.Register(database.NewEventRecorder(store, log))

	services, err := bootstrap.BuildServices(log, dispatcher)
	if err != nil {
		return err
	}

	orch := orchestrator.New(log, dispatcher)
	if err := orchestrator.RegisterCodingPipeline(orch, bootstrap.AgentConfigFromEnv()); err != nil {
		return err
	}

	api := &API{
		config:     cfg,
		orch:       orch,
		services:   services,
		store:      store,
		dispatcher: dispatcher,
		logger:     log,
		running:    make(map[string]context.CancelFunc),
	}
	return api.serve(ctx)
}

// routes builds the full router: mux for the case endpoints, gin for the
// history endpoints, mounted under one listener.
func (api *API) routes() *mux.Router {
	router := mux.NewRouter()
	router.Use(api.corsMiddleware)

	router.HandleFunc("/api/cases", api.handleSubmitCase).Methods(http.MethodPost)
	router.HandleFunc("/api/cases/{id}", api.handleGetCase).Methods(http.MethodGet)
	router.HandleFunc("/api/health", api.handleHealth).Methods(http.MethodGet)
	router.HandleFunc("/api/backends/reset", api.handleBackendReset).Methods(http.MethodPost)

	router.PathPrefix("/api/history").Handler(HistoryRoutes(api.store))
	return router
}

func (api *API) serve(ctx context.Context) error {
	router := api.routes()

	addr := fmt.Sprintf("%s:%d", api.config.Host, api.config.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		api.logger.Infof("🚀 medcoder API listening on %s", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	case sig := <-sigCh:
		api.logger.Infof("received %s, shutting down", sig)
	}

	api.cancelRunningCases()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}
	api.logger.Info("server stopped")
	return nil
}

// handleSubmitCase accepts a case, records it as processing, and runs
// the pipeline in the background. Responds 202 with the case id.
func (api *API) handleSubmitCase(w http.ResponseWriter, r *http.Request) {
	var req submitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid request body: %v", err))
		return
	}
	if req.Notes.Primary == "" {
		writeError(w, http.StatusBadRequest, "notes.primary is required")
		return
	}

	initial, err := buildInitialState(req)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	if err := api.store.SaveCase(r.Context(), database.CaseRecord{
		CaseID:      initial.CaseMeta.CaseID,
		Status:      types.CaseProcessing,
		SubmittedAt: time.Now().UTC(),
	}); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	go api.processCase(initial)

	writeJSON(w, http.StatusAccepted, map[string]string{
		"case_id": initial.CaseMeta.CaseID,
		"status":  string(types.CaseProcessing),
	})
}

// processCase runs one case to completion and persists the outcome.
// Runs on its own goroutine with its own deadline.
func (api *API) processCase(initial *types.WorkflowState) {
	caseID := initial.CaseMeta.CaseID
	ctx, cancel := context.WithTimeout(context.Background(), caseRunTimeout)
	defer cancel()

	api.mu.Lock()
	api.running[caseID] = cancel
	api.mu.Unlock()
	defer func() {
		api.mu.Lock()
		delete(api.running, caseID)
		api.mu.Unlock()
	}()

	final, runErr := api.orch.Run(ctx, initial, api.services)
	if runErr != nil {
		api.logger.WithError(runErr).Errorf("case %s did not complete", caseID)
	}
	if final == nil {
		if err := api.store.UpdateCaseStatus(context.Background(), caseID, types.CaseError); err != nil {
			api.logger.WithError(err).Errorf("marking case %s errored failed", caseID)
		}
		return
	}
	if err := api.store.SaveFinalState(context.Background(), caseID, final); err != nil {
		api.logger.WithError(err).Errorf("persisting final state for case %s failed", caseID)
	}
}

func (api *API) handleGetCase(w http.ResponseWriter, r *http.Request) {
	caseID := mux.Vars(r)["id"]
	rec, err := api.store.GetCase(r.Context(), caseID)
	if err == database.ErrCaseNotFound {
		writeError(w, http.StatusNotFound, fmt.Sprintf("case %s not found", caseID))
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (api *API) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":   "ok",
		"backends": api.services.Backend.GetHealthSummary(),
	})
}

func (api *API) handleBackendReset(w http.ResponseWriter, r *http.Request) {
	api.services.Backend.ResetAllFailures()
	writeJSON(w, http.StatusOK, map[string]any{
		"status":   "reset",
		"backends": api.services.Backend.GetAssignmentStatus(),
	})
}

func (api *API) cancelRunningCases() {
	api.mu.Lock()
	defer api.mu.Unlock()
	for caseID, cancel := range api.running {
		api.logger.Warnf("cancelling in-flight case %s", caseID)
		cancel()
	}
}

func (api *API) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		for _, allowed := range api.config.CORSOrigins {
			if allowed == "*" || strings.EqualFold(allowed, origin) {
				w.Header().Set("Access-Control-Allow-Origin", allowed)
				break
			}
		}
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func buildInitialState(req submitRequest) (*types.WorkflowState, error) {
	caseID := req.CaseID
	if caseID == "" {
		caseID = uuid.NewString()
	}
	dos := time.Now().UTC()
	if req.DateOfService != "" {
		parsed, err := time.Parse("2006-01-02", req.DateOfService)
		if err != nil {
			return nil, fmt.Errorf("invalid date_of_service %q, want YYYY-MM-DD", req.DateOfService)
		}
		dos = parsed
	}
	kind := types.ClaimKind(req.ClaimKind)
	if req.ClaimKind == "" {
		kind = types.ClaimPrimary
	}
	meta := types.CaseMetadata{
		CaseID:         caseID,
		PatientID:      req.PatientID,
		ProviderID:     req.ProviderID,
		DateOfService:  dos,
		PlaceOfService: req.PlaceOfService,
		ClaimKind:      kind,
	}
	return types.NewWorkflowState(meta, req.Demographics, req.Notes), nil
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
