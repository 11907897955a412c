// Package tiles fetches raster map tiles for the OSM, Bing and Esri layers.
package tiles

import (
	"bytes"
	"context"
	"fmt"
	"image"
	_ "image/jpeg" // tile decoders
	_ "image/png"
	"math"
	"net/http"
	"strconv"
	"strings"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/maptile"

	"github.com/mohammed-shakir/imagery-composer/internal/core/httpclient"
	"github.com/mohammed-shakir/imagery-composer/internal/core/model"
)

const Size = 256

type Provider struct {
	Name       string
	Template   string
	Subdomains []string
	MaxZoom    int
}

// DefaultProviders maps map source names to tile templates. Templates accept
// {z} {x} {y} {q} (quadkey) and {s} (subdomain).
func DefaultProviders() map[string]Provider {
	return map[string]Provider{
		model.MapSourceOSM: {
			Name:     model.MapSourceOSM,
			Template: "https://tile.openstreetmap.org/{z}/{x}/{y}.png",
			MaxZoom:  19,
		},
		model.MapSourceBing: {
			Name:       model.MapSourceBing,
			Template:   "https://ecn.t{s}.tiles.virtualearth.net/tiles/a{q}.jpeg?g=14041",
			Subdomains: []string{"0", "1", "2", "3"},
			MaxZoom:    19,
		},
		model.MapSourceEsri: {
			Name:     model.MapSourceEsri,
			Template: "https://server.arcgisonline.com/ArcGIS/rest/services/World_Imagery/MapServer/tile/{z}/{y}/{x}",
			MaxZoom:  19,
		},
	}
}

// WithOverrides replaces templates for the named providers.
func WithOverrides(p map[string]Provider, overrides map[string]string) map[string]Provider {
	for name, tpl := range overrides {
		prov, ok := p[name]
		if !ok {
			prov = Provider{Name: name, MaxZoom: 19}
		}
		prov.Template = tpl
		p[name] = prov
	}
	return p
}

func (p Provider) URL(t maptile.Tile) string {
	sub := ""
	if len(p.Subdomains) > 0 {
		sub = p.Subdomains[int(t.X+t.Y)%len(p.Subdomains)]
	}
	r := strings.NewReplacer(
		"{z}", strconv.Itoa(int(t.Z)),
		"{x}", strconv.FormatUint(uint64(t.X), 10),
		"{y}", strconv.FormatUint(uint64(t.Y), 10),
		"{q}", Quadkey(t),
		"{s}", sub,
	)
	return r.Replace(p.Template)
}

// Quadkey returns the Bing quadkey of t, one base-4 digit per zoom level.
func Quadkey(t maptile.Tile) string {
	var b strings.Builder
	b.Grow(int(t.Z))
	for i := int(t.Z); i > 0; i-- {
		digit := byte('0')
		mask := uint32(1) << (i - 1)
		if t.X&mask != 0 {
			digit++
		}
		if t.Y&mask != 0 {
			digit += 2
		}
		b.WriteByte(digit)
	}
	return b.String()
}

// PixelXY projects a lon/lat point to global web mercator pixels at zoom z.
func PixelXY(ll orb.Point, z maptile.Zoom) (float64, float64) {
	lat := math.Max(math.Min(ll.Lat(), 85.05112878), -85.05112878)
	scale := float64(Size) * math.Exp2(float64(z))
	x := (ll.Lon() + 180) / 360 * scale
	sin := math.Sin(lat * math.Pi / 180)
	y := (0.5 - math.Log((1+sin)/(1-sin))/(4*math.Pi)) * scale
	return x, y
}

type Fetcher struct {
	http      *http.Client
	providers map[string]Provider
	cache     *lru.Cache[string, image.Image]
}

func NewFetcher(providers map[string]Provider, cacheSize int, hc *http.Client) (*Fetcher, error) {
	if cacheSize <= 0 {
		cacheSize = 256
	}
	c, err := lru.New[string, image.Image](cacheSize)
	if err != nil {
		return nil, fmt.Errorf("tile cache: %w", err)
	}
	if hc == nil {
		hc = httpclient.NewOutbound()
	}
	return &Fetcher{http: hc, providers: providers, cache: c}, nil
}

func (f *Fetcher) Provider(source string) (Provider, bool) {
	p, ok := f.providers[strings.ToUpper(source)]
	return p, ok
}

// Fetch returns the decoded tile, served from the LRU when possible.
func (f *Fetcher) Fetch(ctx context.Context, source string, t maptile.Tile) (image.Image, error) {
	p, ok := f.Provider(source)
	if !ok {
		return nil, fmt.Errorf("unknown map source %q", source)
	}
	u := p.URL(t)
	if img, ok := f.cache.Get(u); ok {
		return img, nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("tile request: %w", err)
	}
	b, _, err := httpclient.Do(f.http, "tiles_"+strings.ToLower(p.Name), req)
	if err != nil {
		return nil, err
	}
	img, _, err := image.Decode(bytes.NewReader(b))
	if err != nil {
		return nil, fmt.Errorf("decode tile %s: %w", u, err)
	}
	f.cache.Add(u, img)
	return img, nil
}
