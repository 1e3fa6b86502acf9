package health

import (
	"context"
	"encoding/json"
	"net/http"
	"sync/atomic"
	"time"
)

// ready gates readiness during graceful shutdown. It starts true and is
// flipped off before the listener drains so load balancers stop routing new
// callbacks here.
var ready atomic.Bool

func init() { ready.Store(true) }

// SetReady toggles the readiness gate.
func SetReady(value bool) { ready.Store(value) }

// Checker pings the dependencies a confirmation needs.
type Checker interface {
	PingDB(ctx context.Context, timeout time.Duration) error
	PingRedis(ctx context.Context, timeout time.Duration) error
}

// Handler serves the health endpoints.
type Handler struct {
	Checker      Checker
	DBTimeout    time.Duration
	RedisTimeout time.Duration
}

// Live answers ok for as long as the process runs.
func (h Handler) Live(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

type readiness struct {
	DB    string `json:"db"`
	Redis string `json:"redis"`
}

func (s readiness) healthy() bool { return s.DB == "ok" && s.Redis == "ok" }

// Ready answers 200 only while the shutdown gate is open and both Postgres
// and Redis respond.
func (h Handler) Ready(w http.ResponseWriter, r *http.Request) {
	if !ready.Load() {
		http.Error(w, "shutting down", http.StatusServiceUnavailable)
		return
	}
	if h.Checker == nil {
		http.Error(w, "dependencies unavailable", http.StatusServiceUnavailable)
		return
	}

	status := readiness{
		DB:    check(r.Context(), h.Checker.PingDB, orDefault(h.DBTimeout, 500*time.Millisecond)),
		Redis: check(r.Context(), h.Checker.PingRedis, orDefault(h.RedisTimeout, 300*time.Millisecond)),
	}
	w.Header().Set("Content-Type", "application/json")
	if !status.healthy() {
		w.WriteHeader(http.StatusServiceUnavailable)
	}
	_ = json.NewEncoder(w).Encode(status)
}

func check(ctx context.Context, ping func(context.Context, time.Duration) error, timeout time.Duration) string {
	if err := ping(ctx, timeout); err != nil {
		return err.Error()
	}
	return "ok"
}

func orDefault(d, fallback time.Duration) time.Duration {
	if d <= 0 {
		return fallback
	}
	return d
}
