package actions

import (
	"encoding/json"
	"net/http"
	"time"
)

// DebugHandler 返回 /debug/actions 所需的 handler。
func (d *Dispatcher) DebugHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		snapshot := d.snapshot()
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(snapshot)
	})
}

type debugSnapshot struct {
	Pending    int       `json:"pending"`
	QueueDepth int       `json:"queueDepth"`
	Workers    int       `json:"workers"`
	RateLimit  float64   `json:"rateLimit"`
	Executor   string    `json:"executor"`
	Account    Account   `json:"account"`
	Actions    []string  `json:"actions"`
	Timestamp  time.Time `json:"timestamp"`
}

func (d *Dispatcher) snapshot() debugSnapshot {
	snap := debugSnapshot{Workers: d.cfg.Workers, Executor: d.gate.status(), Timestamp: time.Now()}
	d.mu.Lock()
	snap.Pending = len(d.pending)
	snap.Account = d.account
	snap.Actions = make([]string, 0, len(d.pending))
	for hash, a := range d.pending {
		snap.Actions = append(snap.Actions, string(a.Kind)+":"+hash)
	}
	d.mu.Unlock()
	snap.QueueDepth = len(d.queue)
	if limiter := d.limiter.Load(); limiter != nil {
		snap.RateLimit = float64(limiter.Limit())
	}
	return snap
}
