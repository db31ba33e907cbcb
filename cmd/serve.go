package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/imagery-cli/internal/jobs"
	"github.com/sells-group/imagery-cli/internal/model"
	"github.com/sells-group/imagery-cli/internal/ratelimit"
)

var (
	servePort   int
	serveNoWork bool
)

// server holds the dependencies of the ops HTTP API.
type server struct {
	ping     func(ctx context.Context) error
	queue    jobs.Queue
	limiter  *ratelimit.Limiter
	breakers interface{ States() map[string]string }
	gatherer prometheus.Gatherer
}

func newServer(env *enrichEnv) *server {
	s := &server{
		ping:     env.Store.Ping,
		queue:    env.Queue,
		limiter:  env.Limiter,
		gatherer: env.Prometheus,
	}
	if env.Breakers != nil {
		s.breakers = env.Breakers
	}
	return s
}

func (s *server) routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{http.MethodGet, http.MethodPost},
	}))

	r.Get("/health", s.health)
	r.Get("/ratelimits", s.rateLimits)
	r.Handle("/metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))
	r.Post("/coordinate", s.coordinate)
	r.Post("/enrich/{type}/{id}", s.enrich)
	return r
}

func (s *server) health(w http.ResponseWriter, r *http.Request) {
	if s.ping != nil {
		if err := s.ping(r.Context()); err != nil {
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable", "error": err.Error()})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *server) rateLimits(w http.ResponseWriter, _ *http.Request) {
	out := map[string]any{"requests": s.limiter.AllStats()}
	if s.breakers != nil {
		out["circuits"] = s.breakers.States()
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *server) coordinate(w http.ResponseWriter, r *http.Request) {
	force := r.URL.Query().Get("force") == "true"
	job := jobs.NewCoordinatorJob(force)
	if err := s.queue.EnqueueMany(r.Context(), []model.EnrichmentJob{job}); err != nil {
		zap.L().Error("enqueue coordinator job failed", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "enqueue failed"})
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "accepted", "job_id": job.ID})
}

func (s *server) enrich(w http.ResponseWriter, r *http.Request) {
	entityType := model.EntityType(chi.URLParam(r, "type"))
	if !entityType.Valid() {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "type must be venue, city or country"})
		return
	}
	force := r.URL.Query().Get("force") == "true"
	job := jobs.NewWorkerJob(entityType, chi.URLParam(r, "id"), force, "")
	if err := s.queue.EnqueueMany(r.Context(), []model.EnrichmentJob{job}); err != nil {
		zap.L().Error("enqueue worker job failed", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "enqueue failed"})
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "accepted", "job_id": job.ID})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the ops API and the job runner",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		env, err := initEnv(ctx, "serve")
		if err != nil {
			return err
		}
		defer env.Close()

		port := servePort
		if port == 0 {
			port = cfg.Server.Port
		}

		srv := &http.Server{
			Addr:              fmt.Sprintf(":%d", port),
			Handler:           newServer(env).routes(),
			ReadHeaderTimeout: 10 * time.Second,
		}

		if !serveNoWork {
			env.startMonitoring(ctx)
			go func() {
				if err := env.Runner().Run(ctx); err != nil && ctx.Err() == nil {
					zap.L().Error("job runner stopped", zap.Error(err))
				}
			}()
		}

		// Graceful shutdown
		go func() {
			<-ctx.Done()
			zap.L().Info("shutting down server")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		}()

		zap.L().Info("starting server", zap.Int("port", port), zap.Bool("runner", !serveNoWork))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return eris.Wrap(err, "server listen")
		}

		return nil
	},
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 0, "server port (default from config)")
	serveCmd.Flags().BoolVar(&serveNoWork, "no-work", false, "serve the API without running queued jobs")
	rootCmd.AddCommand(serveCmd)
}
