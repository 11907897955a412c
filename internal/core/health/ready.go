package health

import (
	"context"
	"encoding/json"
	"net/http"
	"sort"
	"time"
)

type ReadinessReporter interface {
	Readiness() (ready bool, partitions []int32)
}

// Check probes one dependency.
type Check func(ctx context.Context) error

// Readiness is ready when rr (if set) holds partitions and every check
// passes within timeout.
func Readiness(rr ReadinessReporter, checks map[string]Check, timeout time.Duration) http.HandlerFunc {
	if timeout <= 0 {
		timeout = time.Second
	}
	return func(w http.ResponseWriter, r *http.Request) {
		type resp struct {
			Status     string            `json:"status"`
			Partitions []int32           `json:"partitions,omitempty"`
			Checks     map[string]string `json:"checks,omitempty"`
		}
		ready := true
		out := resp{}
		if rr != nil {
			ok, parts := rr.Readiness()
			if ok {
				sort.Slice(parts, func(i, j int) bool { return parts[i] < parts[j] })
				out.Partitions = parts
			}
			ready = ok
		}

		if len(checks) > 0 {
			out.Checks = make(map[string]string, len(checks))
			ctx, cancel := context.WithTimeout(r.Context(), timeout)
			defer cancel()
			for name, check := range checks {
				if err := check(ctx); err != nil {
					out.Checks[name] = err.Error()
					ready = false
					continue
				}
				out.Checks[name] = "ok"
			}
		}

		out.Status = "not_ready"
		if ready {
			out.Status = "ready"
		}
		w.Header().Set("Content-Type", "application/json")
		if !ready {
			w.WriteHeader(http.StatusServiceUnavailable)
		}
		_ = json.NewEncoder(w).Encode(out)
	}
}
