package tiles

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"image/png"
	"math"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/maptile"

	"github.com/mohammed-shakir/imagery-composer/internal/core/model"
)

func TestQuadkey(t *testing.T) {
	cases := []struct {
		tile maptile.Tile
		want string
	}{
		{maptile.New(3, 5, 3), "213"},
		{maptile.New(0, 0, 1), "0"},
		{maptile.New(1, 1, 1), "3"},
		{maptile.New(0, 0, 0), ""},
	}
	for _, tc := range cases {
		if got := Quadkey(tc.tile); got != tc.want {
			t.Fatalf("Quadkey(%v)=%q want %q", tc.tile, got, tc.want)
		}
	}
}

func TestProviderURL(t *testing.T) {
	p := DefaultProviders()
	tile := maptile.New(3, 5, 3)
	if got := p[model.MapSourceOSM].URL(tile); got != "https://tile.openstreetmap.org/3/3/5.png" {
		t.Fatalf("osm url=%s", got)
	}
	if got := p[model.MapSourceBing].URL(tile); got != "https://ecn.t0.tiles.virtualearth.net/tiles/a213.jpeg?g=14041" {
		t.Fatalf("bing url=%s", got)
	}
	if got := p[model.MapSourceEsri].URL(tile); got != "https://server.arcgisonline.com/ArcGIS/rest/services/World_Imagery/MapServer/tile/3/5/3" {
		t.Fatalf("esri url=%s", got)
	}

	o := WithOverrides(DefaultProviders(), map[string]string{"OSM": "http://local/{z}/{x}/{y}.png", "CUSTOM": "http://c/{q}"})
	if got := o[model.MapSourceOSM].URL(tile); got != "http://local/3/3/5.png" {
		t.Fatalf("override url=%s", got)
	}
	if got := o["CUSTOM"].URL(tile); got != "http://c/213" {
		t.Fatalf("custom url=%s", got)
	}
}

func TestPixelXY(t *testing.T) {
	x, y := PixelXY(orb.Point{0, 0}, 0)
	if math.Abs(x-128) > 1e-9 || math.Abs(y-128) > 1e-9 {
		t.Fatalf("origin at z0 = %v,%v", x, y)
	}
	x, y = PixelXY(orb.Point{-180, 85.05112878}, 2)
	if math.Abs(x) > 1e-9 || math.Abs(y) > 1e-6 {
		t.Fatalf("top-left = %v,%v", x, y)
	}
	x, _ = PixelXY(orb.Point{180, 0}, 1)
	if math.Abs(x-512) > 1e-9 {
		t.Fatalf("right edge at z1 = %v", x)
	}
}

func pngTile(t *testing.T, c color.Color) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, Size, Size))
	for y := 0; y < Size; y++ {
		for x := 0; x < Size; x++ {
			img.Set(x, y, c)
		}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

func TestFetcher_CachesTiles(t *testing.T) {
	body := pngTile(t, color.RGBA{R: 200, A: 255})
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		hits.Add(1)
		w.Header().Set("Content-Type", "image/png")
		_, _ = w.Write(body)
	}))
	defer srv.Close()

	providers := WithOverrides(DefaultProviders(), map[string]string{model.MapSourceOSM: srv.URL + "/{z}/{x}/{y}.png"})
	f, err := NewFetcher(providers, 8, nil)
	if err != nil {
		t.Fatal(err)
	}
	tile := maptile.New(1, 1, 2)
	for i := 0; i < 3; i++ {
		img, err := f.Fetch(context.Background(), "osm", tile)
		if err != nil {
			t.Fatalf("Fetch: %v", err)
		}
		if r, _, _, _ := img.At(10, 10).RGBA(); r>>8 != 200 {
			t.Fatalf("unexpected pixel red=%d", r>>8)
		}
	}
	if hits.Load() != 1 {
		t.Fatalf("expected one upstream fetch, got %d", hits.Load())
	}

	if _, err := f.Fetch(context.Background(), "nope", tile); err == nil {
		t.Fatal("unknown source should error")
	}
}
