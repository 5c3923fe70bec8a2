package cloudbridge

import (
	"context"
	"errors"
	"net/http"

	"github.com/benbjohnson/clock"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/goccy/go-json"

	"github.com/leehyoungkeun/control-smartfarm-sub000/internal/domain"
	"github.com/leehyoungkeun/control-smartfarm-sub000/internal/ports"
	"github.com/leehyoungkeun/control-smartfarm-sub000/internal/wire"
)

const maxIngestBody = 1 << 20

// EventSnapshot is the fan-out event for a bulk ingestion snapshot.
const EventSnapshot = "snapshot"

type farmKey struct{}

// IngestServer receives the edge nodes' bulk snapshots and daily summaries.
type IngestServer struct {
	registry *Registry
	store    ports.CloudStore
	fanout   ports.FanOut
	clk      clock.Clock
	obs      ports.Observability
	router   chi.Router
}

func NewIngestServer(registry *Registry, store ports.CloudStore, fanout ports.FanOut, clk clock.Clock, obs ports.Observability) *IngestServer {
	if clk == nil {
		clk = clock.New()
	}
	s := &IngestServer{registry: registry, store: store, fanout: fanout, clk: clk, obs: obs}

	r := chi.NewRouter()
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Group(func(r chi.Router) {
		r.Use(s.authenticate)
		r.Post(wire.PathSnapshot, s.handleSnapshot)
		r.Post(wire.PathDailySummary, s.handleDailySummary)
	})
	s.router = r
	return s
}

func (s *IngestServer) Handler() http.Handler { return s.router }

func (s *IngestServer) authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := domain.FarmID(r.Header.Get(wire.HeaderFarmID))
		farm, err := s.registry.Authenticate(r.Context(), id, r.Header.Get(wire.HeaderFarmSecret))
		switch {
		case errors.Is(err, ErrUnknownFarm), errors.Is(err, ErrBadSecret):
			s.obs.LogWarn("ingest_auth_failed", ports.Field{Key: "farm_id", Value: id}, ports.Field{Key: "error", Value: err.Error()})
			writeResult(w, http.StatusUnauthorized, errors.New("unauthorized"))
			return
		case err != nil:
			s.obs.LogError("ingest_auth_lookup_failed", err, ports.Field{Key: "farm_id", Value: id})
			writeResult(w, http.StatusInternalServerError, errors.New("farm lookup failed"))
			return
		}
		ctx := context.WithValue(r.Context(), farmKey{}, farm.ID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func farmFrom(ctx context.Context) domain.FarmID {
	id, _ := ctx.Value(farmKey{}).(domain.FarmID)
	return id
}

func (s *IngestServer) handleSnapshot(w http.ResponseWriter, r *http.Request) {
	farm := farmFrom(r.Context())
	var body domain.IngestPayload
	if err := decodeBody(w, r, &body); err != nil {
		writeResult(w, http.StatusBadRequest, err)
		return
	}
	if body.FarmID != "" && body.FarmID != farm {
		writeResult(w, http.StatusBadRequest, errors.New("farmId does not match header"))
		return
	}

	ctx := r.Context()
	// any delivery, fresh or replayed, counts as a sign of life
	if err := s.store.TouchLastSeen(ctx, farm, s.clk.Now()); err != nil {
		s.obs.LogError("touch_last_seen_failed", err, ports.Field{Key: "farm_id", Value: farm})
		writeResult(w, http.StatusInternalServerError, errors.New("store unavailable"))
		return
	}
	at := body.Timestamp
	if at.IsZero() {
		at = s.clk.Now()
	}
	if len(body.Sensors) > 0 {
		if err := s.store.SaveTelemetry(ctx, farm, at, body.Sensors); err != nil {
			s.obs.LogError("save_telemetry_failed", err, ports.Field{Key: "farm_id", Value: farm})
			writeResult(w, http.StatusInternalServerError, errors.New("store unavailable"))
			return
		}
	}
	if body.Status.OperatingState != "" {
		if err := s.store.SaveStatus(ctx, farm, body.Status); err != nil {
			s.obs.LogError("save_status_failed", err, ports.Field{Key: "farm_id", Value: farm})
		}
	}
	if s.fanout != nil {
		if raw, err := json.Marshal(body); err == nil {
			if err := s.fanout.Broadcast(ctx, farm, EventSnapshot, raw); err != nil {
				s.obs.LogWarn("fanout_failed", ports.Field{Key: "farm_id", Value: farm}, ports.Field{Key: "error", Value: err.Error()})
			}
		}
	}
	writeResult(w, http.StatusOK, nil)
}

func (s *IngestServer) handleDailySummary(w http.ResponseWriter, r *http.Request) {
	farm := farmFrom(r.Context())
	var body domain.DailySyncPayload
	if err := decodeBody(w, r, &body); err != nil {
		writeResult(w, http.StatusBadRequest, err)
		return
	}
	if body.FarmID != "" && body.FarmID != farm {
		writeResult(w, http.StatusBadRequest, errors.New("farmId does not match header"))
		return
	}
	for i := range body.Summaries {
		if body.Summaries[i].SummaryDate == "" {
			body.Summaries[i].SummaryDate = body.Date
		}
		if body.Summaries[i].SummaryDate == "" || body.Summaries[i].ProgramNumber <= 0 {
			writeResult(w, http.StatusBadRequest, errors.New("summary needs summaryDate and programNumber"))
			return
		}
	}

	ctx := r.Context()
	if err := s.store.UpsertDailySummaries(ctx, farm, body.Summaries); err != nil {
		s.obs.LogError("upsert_daily_summaries_failed", err, ports.Field{Key: "farm_id", Value: farm})
		writeResult(w, http.StatusInternalServerError, errors.New("store unavailable"))
		return
	}
	if err := s.store.TouchLastSeen(ctx, farm, s.clk.Now()); err != nil {
		s.obs.LogError("touch_last_seen_failed", err, ports.Field{Key: "farm_id", Value: farm})
	}
	s.obs.LogInfo("daily_summaries_stored",
		ports.Field{Key: "farm_id", Value: farm},
		ports.Field{Key: "date", Value: body.Date},
		ports.Field{Key: "rows", Value: len(body.Summaries)})
	writeResult(w, http.StatusOK, nil)
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxIngestBody)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return errors.New("invalid JSON body")
	}
	return nil
}

func writeResult(w http.ResponseWriter, status int, err error) {
	resp := wire.IngestResponse{Success: err == nil}
	if err != nil {
		resp.Error = err.Error()
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(resp)
}
