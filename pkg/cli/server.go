package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/mchmarny/riskscore/pkg/data"
	"github.com/mchmarny/riskscore/pkg/metrics"
	"github.com/mchmarny/riskscore/pkg/scoring"
	"github.com/urfave/cli/v3"
)

const (
	serverShutdownWaitSeconds = 5
	serverTimeoutSeconds      = 60
	serverMaxHeaderBytes      = 20
	serverMaxBodyBytes        = 1 << 20

	flagAddress = "address"
	flagFetch   = "fetch"

	requestIDHeader = "X-Request-ID"
	routeUnmatched  = "unmatched"
)

func serveCmd() *cli.Command {
	return &cli.Command{
		Name:    "serve",
		Aliases: []string{"server"},
		Usage:   "Start the scoring HTTP server",
		Action:  cmdStartServer,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  flagAddress,
				Usage: "Address on which the server will listen",
			},
			&cli.BoolFlag{
				Name:  flagFetch,
				Usage: "Download the artifact set from the configured artifact URL before loading",
			},
		},
	}
}

func cmdStartServer(ctx context.Context, cmd *cli.Command) error {
	cfg := getConfig(cmd)
	if cmd.IsSet(flagAddress) {
		cfg.Address = cmd.String(flagAddress)
	}

	if cmd.Bool(flagFetch) {
		if _, err := fetchArtifacts(ctx, cfg, cfg.ArtifactURL); err != nil {
			return err
		}
	}

	svc, err := loadService(ctx, cfg.Config)
	if err != nil {
		return err
	}

	db, err := openJournal(cfg.Config)
	if err != nil {
		return err
	}
	if db != nil {
		defer db.Close()
		slog.Info("journal enabled", "driver", db.Driver())
	}

	api := newAPIContext(svc, db, metrics.New(""))

	s := &http.Server{
		Addr:           cfg.Address,
		Handler:        makeRouter(api),
		ReadTimeout:    serverTimeoutSeconds * time.Second,
		WriteTimeout:   serverTimeoutSeconds * time.Second,
		MaxHeaderBytes: 1 << serverMaxHeaderBytes,
	}

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		if err := s.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	slog.Info("server started", "address", cfg.Address)

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("starting server: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), serverShutdownWaitSeconds*time.Second)
	defer cancel()

	if err := s.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		slog.Error("error shutting down server", "error", err)
	}
	slog.Info("server stopped")
	return nil
}

type apiContext struct {
	svc     *scoring.Service
	db      *data.DB
	metrics *metrics.Metrics
}

func newAPIContext(svc *scoring.Service, db *data.DB, m *metrics.Metrics) *apiContext {
	m.Threshold.Set(svc.Threshold())
	m.Columns.Set(float64(len(svc.Columns())))
	return &apiContext{svc: svc, db: db, metrics: m}
}

func makeRouter(a *apiContext) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /{$}", homeAPIHandler)
	mux.HandleFunc("GET /api", echoAPIHandler)

	// scoring routes read a JSON body on GET and POST alike
	for _, method := range []string{http.MethodGet, http.MethodPost} {
		mux.HandleFunc(method+" /predict", predictAPIHandler(a))
		mux.HandleFunc(method+" /dataframe", dataframeAPIHandler(a))
		mux.HandleFunc(method+" /plot/{forme}", plotAPIHandler(a))
	}

	mux.Handle("GET /metrics", a.metrics.Handler())

	return a.instrument(mux)
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// instrument logs and measures every request. Bodies are capped at
// serverMaxBodyBytes.
func (a *apiContext) instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		id := r.Header.Get(requestIDHeader)
		if _, err := uuid.Parse(id); err != nil {
			id = uuid.NewString()
		}
		w.Header().Set(requestIDHeader, id)

		if r.Body != nil {
			r.Body = http.MaxBytesReader(w, r.Body, serverMaxBodyBytes)
		}

		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)

		route := r.Pattern
		if route == "" {
			route = routeUnmatched
		}
		elapsed := time.Since(start)
		a.metrics.ObserveRequest(route, rec.status, elapsed.Seconds())

		slog.Info("request",
			"id", id,
			"method", r.Method,
			"path", r.URL.Path,
			"status", rec.status,
			"duration", elapsed.String(),
			"remote", r.RemoteAddr)
	})
}
