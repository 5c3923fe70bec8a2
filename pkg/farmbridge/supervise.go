package farmbridge

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/thejerf/suture/v4"

	"github.com/leehyoungkeun/control-smartfarm-sub000/internal/ports"
)

const shutdownTimeout = 5 * time.Second

// newSupervisor builds the root supervisor and routes its events to obs.
func newSupervisor(name string, obs ports.Observability) *suture.Supervisor {
	return suture.New(name, suture.Spec{
		EventHook: func(e suture.Event) {
			fields := []ports.Field{{Key: "event", Value: e.String()}}
			for k, v := range e.Map() {
				fields = append(fields, ports.Field{Key: k, Value: v})
			}
			obs.LogWarn("supervisor_event", fields...)
		},
		FailureThreshold: 5,
		FailureDecay:     30,
		FailureBackoff:   15 * time.Second,
		Timeout:          shutdownTimeout,
	})
}

// httpService runs an http.Server under the supervisor.
type httpService struct {
	name   string
	server *http.Server
}

func (h *httpService) Serve(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		if err := h.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err, ok := <-errCh:
		if ok && err != nil {
			return fmt.Errorf("%s: %w", h.name, err)
		}
		return nil
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := h.server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("%s shutdown: %w", h.name, err)
		}
		return ctx.Err()
	}
}

func (h *httpService) String() string { return h.name }

// metricsHandler serves the registry on /metrics with a /healthz probe.
// ready reports the broker connection.
func metricsHandler(gatherer prometheus.Gatherer, ready func() bool) http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		if ready != nil && !ready() {
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte("broker disconnected"))
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	return mux
}

// gaugeService samples resource gauges on a fixed interval.
type gaugeService struct {
	interval time.Duration
	clk      clock.Clock
	sample   func()
}

func (g *gaugeService) Serve(ctx context.Context) error {
	ticker := g.clk.Ticker(g.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			g.sample()
		}
	}
}

func (g *gaugeService) String() string { return "resource-gauges" }
