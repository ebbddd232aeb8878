package runtime

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/md-rashed-zaman/clinicsched/libs/httpx"
)

// ReadyCheck names one dependency checked by /readyz.
type ReadyCheck struct {
	Name  string
	Check func(context.Context) error
}

// CheckTimeout bounds each dependency check.
var CheckTimeout = 2 * time.Second

// NewBaseMuxWithReady returns a mux with /healthz, which only says the
// process is alive, and /readyz, which runs every check and lists the
// failing ones by name.
func NewBaseMuxWithReady(checks ...ReadyCheck) *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("ok"))
	})
	mux.HandleFunc("GET /readyz", func(w http.ResponseWriter, r *http.Request) {
		failures := RunChecks(r.Context(), checks)
		if len(failures) == 0 {
			_, _ = w.Write([]byte("ok"))
			return
		}
		httpx.WriteJSON(w, http.StatusServiceUnavailable, map[string]any{
			"status":   "unavailable",
			"failures": failures,
		})
	})
	return mux
}

// RunChecks runs all checks in parallel and maps each failing name to its
// error text.
func RunChecks(ctx context.Context, checks []ReadyCheck) map[string]string {
	var (
		mu       sync.Mutex
		wg       sync.WaitGroup
		failures = make(map[string]string)
	)
	for _, c := range checks {
		if c.Check == nil {
			continue
		}
		name := c.Name
		if name == "" {
			name = "dependency"
		}
		wg.Add(1)
		go func(name string, check func(context.Context) error) {
			defer wg.Done()
			cctx, cancel := context.WithTimeout(ctx, CheckTimeout)
			defer cancel()
			if err := check(cctx); err != nil {
				mu.Lock()
				failures[name] = err.Error()
				mu.Unlock()
			}
		}(name, c.Check)
	}
	wg.Wait()
	return failures
}
