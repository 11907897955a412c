package sentinel

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/paulmach/orb"

	"github.com/mohammed-shakir/imagery-composer/internal/core/model"
)

func TestProcess_ClientCredentials(t *testing.T) {
	var gotAuth string
	var body processBody
	mux := http.NewServeMux()
	mux.HandleFunc("/oauth/token", func(w http.ResponseWriter, r *http.Request) {
		_ = r.ParseForm()
		if r.Form.Get("grant_type") != "client_credentials" {
			t.Errorf("grant_type=%q", r.Form.Get("grant_type"))
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"access_token":"tok-123","token_type":"Bearer","expires_in":3600}`))
	})
	mux.HandleFunc("/api/v1/process", func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		b, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(b, &body)
		w.Header().Set("Content-Type", "image/png")
		_, _ = w.Write([]byte{0x89, 'P', 'N', 'G'})
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	c, err := New(context.Background(), srv.URL, Auth{
		TokenURL:     srv.URL + "/oauth/token",
		ClientID:     "id",
		ClientSecret: "secret",
	}, nil)
	if err != nil {
		t.Fatal(err)
	}

	img, err := c.Process(context.Background(), ProcessRequest{
		Bound:      orb.Bound{Min: orb.Point{17.9, 59.2}, Max: orb.Point{18.2, 59.4}},
		DateFrom:   model.MustParseDate("2023-06-01"),
		DateTo:     model.MustParseDate("2023-07-01"),
		MaxCloud:   22,
		Evalscript: SceneClassification,
	})
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	if gotAuth != "Bearer tok-123" {
		t.Fatalf("authorization=%q", gotAuth)
	}
	mime, raw, err := img.Decode()
	if err != nil || mime != "image/png" || string(raw[1:]) != "PNG" {
		t.Fatalf("decoded image mime=%q raw=%v err=%v", mime, raw, err)
	}

	if body.Output.Width != 512 || body.Output.Height != 512 {
		t.Fatalf("default output size not applied: %+v", body.Output)
	}
	if len(body.Input.Data) != 1 || body.Input.Data[0].DataFilter.MaxCloudCoverage != 22 {
		t.Fatalf("data filter=%+v", body.Input.Data)
	}
	tr := body.Input.Data[0].DataFilter.TimeRange
	if tr.From != "2023-06-01T00:00:00Z" || tr.To != "2023-07-01T23:59:59Z" {
		t.Fatalf("time range=%+v", tr)
	}
	if !strings.Contains(body.Evalscript, "SCL") {
		t.Fatal("evalscript not forwarded")
	}
	if got := body.Input.Bounds.BBox; len(got) != 4 || got[0] != 17.9 || got[3] != 59.4 {
		t.Fatalf("bbox=%v", got)
	}
}

func TestProcess_StaticTokenAndUpstreamError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer static" {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		http.Error(w, "quota exceeded", http.StatusTooManyRequests)
	}))
	defer srv.Close()

	c, err := New(context.Background(), srv.URL, Auth{Token: "static"}, nil)
	if err != nil {
		t.Fatal(err)
	}
	_, err = c.Process(context.Background(), ProcessRequest{Bound: orb.Bound{Max: orb.Point{1, 1}}})
	if err == nil || !strings.Contains(err.Error(), "429") {
		t.Fatalf("expected 429 error, got %v", err)
	}
}

func TestNew_RequiresAuth(t *testing.T) {
	if _, err := New(context.Background(), "http://x", Auth{}, nil); err == nil {
		t.Fatal("expected error without credentials")
	}
	if _, err := New(context.Background(), "", Auth{Token: "t"}, nil); err == nil {
		t.Fatal("expected error without base url")
	}
}
