package metrics

import (
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/mohammed-shakir/imagery-composer/internal/core/observability"
)

func scrape(t *testing.T, h http.Handler) string {
	t.Helper()
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("status=%d want 200", rr.Code)
	}
	b, err := io.ReadAll(rr.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	return string(b)
}

func TestProvider_ExposesRuntimeBuildAndServiceCollectors(t *testing.T) {
	p := Init(Config{Build: BuildInfo{Version: "1.2.0", Revision: "abc", Branch: "main", BuildDate: "2026-01-01"}})

	observability.SetStore("local")
	observability.IncStoreCommand("classify", nil)
	observability.IncStoreCommand("load_image", errors.New("queue full"))
	observability.IncFormRejected("draw-end")

	body := scrape(t, p.Handler())
	for _, want := range []string{
		"go_goroutines",
		`app_build_details{branch="main",build_date="2026-01-01",revision="abc",version="1.2.0"} 1`,
		`store_commands_total{command="classify",outcome="ok",store="local"}`,
		`store_commands_total{command="load_image",outcome="error",store="local"}`,
		`form_validation_failures_total{action="draw-end"}`,
	} {
		if !strings.Contains(body, want) {
			t.Errorf("missing %s in payload", want)
		}
	}
}

func TestProvider_BuildVersionDefaultsToDev(t *testing.T) {
	p := Init(Config{})
	if !strings.Contains(scrape(t, p.Handler()), `version="dev"`) {
		t.Fatal("expected dev build version")
	}
}

func TestProvider_RegisterAddsCollectorToScrape(t *testing.T) {
	p := Init(Config{})
	lag := prometheus.NewGauge(prometheus.GaugeOpts{Name: "store_cmd_lag_seconds", Help: "lag"})
	p.Register(lag)
	lag.Set(1.5)

	if n := testutil.CollectAndCount(lag); n != 1 {
		t.Fatalf("samples=%d want 1", n)
	}
	if !strings.Contains(scrape(t, p.Handler()), "store_cmd_lag_seconds 1.5") {
		t.Fatal("registered gauge not exposed")
	}
	if p.Registerer() == nil {
		t.Fatal("nil registerer")
	}
}
