package ingest

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"time"

	"attune/internal/config"
	"attune/internal/model"
)

type RESTServer struct {
	cfg    *config.Manager
	out    chan<- model.FeatureFrame
	logger *slog.Logger
}

func StartREST(ctx context.Context, cfg *config.Manager, out chan<- model.FeatureFrame, logger *slog.Logger) *http.Server {
	current := cfg.Get().Ingest.REST
	if !current.Enabled {
		if logger != nil {
			logger.Info("rest ingest disabled")
		}
		return nil
	}
	if logger != nil {
		logger.Info("rest ingest enabled", "addr", current.Addr)
	}
	server := &RESTServer{cfg: cfg, out: out, logger: logger}
	mux := http.NewServeMux()
	mux.HandleFunc("/frames", server.handleFrames)
	mux.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})
	httpServer := &http.Server{Addr: current.Addr, Handler: mux}
	go func() {
		<-ctx.Done()
		ctxShutdown, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = httpServer.Shutdown(ctxShutdown)
	}()
	go func() {
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			if logger != nil {
				logger.Error("rest ingest server error", "err", err)
			}
		}
	}()
	return httpServer
}

func (s *RESTServer) handleFrames(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, 2<<20))
	if err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	body = bytes.TrimSpace(body)
	if len(body) == 0 {
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	accepted := 0
	failed := 0
	if body[0] == '[' {
		frames, batchFailed := ParseFrameBatch(body, "rest")
		failed += batchFailed
		for _, frame := range frames {
			if SendNonBlocking(r.Context(), s.out, frame, s.logger) {
				accepted++
			} else {
				failed++
			}
		}
	} else {
		frame, err := ParseFrameBytes(body, "rest")
		if err != nil {
			if s.logger != nil {
				s.logger.Warn("rest frame rejected", "err", err)
			}
			failed++
		} else if SendNonBlocking(r.Context(), s.out, frame, s.logger) {
			accepted++
		} else {
			failed++
		}
	}

	w.Header().Set("Content-Type", "application/json")
	if failed > 0 && accepted == 0 {
		w.WriteHeader(http.StatusBadRequest)
	}
	_ = json.NewEncoder(w).Encode(map[string]int{"accepted": accepted, "failed": failed})
}
