package fleet

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	jsoniter "github.com/json-iterator/go"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"personal/discord_gateway/src/client"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// StatusSource is implemented by *Coordinator.
type StatusSource interface {
	Statuses() []client.Status
	Dead() []int
}

// Router serves the shard status, health and metrics endpoints.
func Router(src StatusSource, gatherer prometheus.Gatherer) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		dead := src.Dead()
		if len(dead) > 0 {
			writeJSON(w, http.StatusServiceUnavailable, map[string]any{"status": "degraded", "dead_shards": dead})
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"status": "ok"})
	})

	r.Get("/shards", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, src.Statuses())
	})

	r.Get("/shards/{id}", func(w http.ResponseWriter, r *http.Request) {
		id, err := strconv.Atoi(chi.URLParam(r, "id"))
		if err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid shard id"})
			return
		}
		for _, s := range src.Statuses() {
			if s.Shard == id {
				writeJSON(w, http.StatusOK, s)
				return
			}
		}
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "unknown shard"})
	})

	if gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	}
	return r
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
