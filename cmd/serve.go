package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/spendtrack/internal/ingest"
	"github.com/sells-group/spendtrack/internal/usaspending"
)

var servePort int

// startSyncFunc begins an import in the background and returns its ledger
// row, or ingest.ErrRunConflict when one is already running.
type startSyncFunc func(ctx context.Context, category usaspending.Category, pages int) (*ingest.SyncRun, error)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the sync API server",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		pool, err := openPool(ctx)
		if err != nil {
			return err
		}
		defer pool.Close()

		runs := ingest.NewRunLog(pool)
		client := usaspending.New(usaspending.Options{
			BaseURL:   cfg.USASpending.BaseURL,
			Timeout:   time.Duration(cfg.USASpending.TimeoutSecs) * time.Second,
			UserAgent: cfg.USASpending.UserAgent,
			RateLimit: cfg.USASpending.RateLimit,
		})
		importer := ingest.NewImporter(client, pool)

		start := func(reqCtx context.Context, category usaspending.Category, pages int) (*ingest.SyncRun, error) {
			running, err := runs.IsAnyRunning(reqCtx)
			if err != nil {
				return nil, err
			}
			if running {
				return nil, ingest.ErrRunConflict
			}

			run, err := runs.Create(reqCtx, ingest.RunKindIncremental, map[string]any{
				"category": category.String(),
				"pages":    pages,
			})
			if err != nil {
				return nil, err
			}

			// Run against the server context so an import outlives the
			// request but stops on shutdown.
			go func() {
				opts := ingest.Options{Category: category, Pages: pages, PageSize: cfg.Sync.PageSize}
				if err := importer.Run(ctx, opts, run.ID); err != nil {
					zap.L().Error("background import failed",
						zap.Int64("run_id", run.ID),
						zap.String("category", category.String()),
						zap.Error(err),
					)
				}
			}()

			return run, nil
		}

		mux := newServeMux(runs, start)

		port := servePort
		if port == 0 {
			port = cfg.Server.Port
		}

		srv := &http.Server{
			Addr:    fmt.Sprintf(":%d", port),
			Handler: mux,
		}

		// Graceful shutdown
		go func() {
			<-ctx.Done()
			zap.L().Info("shutting down server")
			srv.Shutdown(context.Background())
		}()

		zap.L().Info("starting server", zap.Int("port", port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return eris.Wrap(err, "server listen")
		}

		return nil
	},
}

// newServeMux wires the sync API routes.
func newServeMux(runs *ingest.RunLog, start startSyncFunc) *http.ServeMux {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	mux.HandleFunc("GET /sync/status", func(w http.ResponseWriter, r *http.Request) {
		current, err := runs.CurrentRunning(r.Context())
		if err != nil {
			writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "ledger unavailable"})
			return
		}
		last, err := runs.LastCompleted(r.Context())
		if err != nil {
			writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "ledger unavailable"})
			return
		}

		writeJSON(w, http.StatusOK, map[string]any{
			"is_running":   current != nil,
			"current_sync": current,
			"last_sync":    last,
		})
	})

	mux.HandleFunc("GET /sync/runs", func(w http.ResponseWriter, r *http.Request) {
		list, err := runs.List(r.Context(), 50)
		if err != nil {
			writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "ledger unavailable"})
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"runs": list})
	})

	mux.HandleFunc("POST /sync/start", func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			AwardType string `json:"award_type"`
			Pages     int    `json:"pages"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
			return
		}

		if req.AwardType == "" {
			req.AwardType = usaspending.Contracts.String()
		}
		category, err := usaspending.ParseCategory(req.AwardType)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
			return
		}
		if req.Pages <= 0 {
			req.Pages = 5
		}
		pages := clampPages(req.Pages)

		run, err := start(r.Context(), category, pages)
		if err != nil {
			if errors.Is(err, ingest.ErrRunConflict) {
				writeJSON(w, http.StatusConflict, map[string]string{"error": "a sync is already running"})
				return
			}
			zap.L().Error("failed to start sync", zap.Error(err))
			writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to start sync"})
			return
		}

		writeJSON(w, http.StatusAccepted, map[string]any{
			"message":    "sync started",
			"sync_id":    run.ID,
			"award_type": category.String(),
			"pages":      pages,
		})
	})

	return mux
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 0, "server port (default from config)")
	rootCmd.AddCommand(serveCmd)
}
