// Package capture renders the session's map view into an image, the server
// side counterpart of taking a screenshot of the map element.
package capture

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/png"
	"log/slog"
	"math"
	"time"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/maptile"
	"golang.org/x/image/draw"
	"golang.org/x/sync/errgroup"

	"github.com/mohammed-shakir/imagery-composer/internal/backends/tiles"
	"github.com/mohammed-shakir/imagery-composer/internal/core/model"
	"github.com/mohammed-shakir/imagery-composer/internal/core/observability"
	mylog "github.com/mohammed-shakir/imagery-composer/internal/logger"
)

const TargetMap = "map"

var (
	ErrNoView        = errors.New("nothing to capture: no extent drawn")
	ErrRegion        = errors.New("capture region outside viewport")
	ErrUnknownTarget = errors.New("unknown capture target")
)

// Viewer loads the view model of a session; session stores satisfy it.
type Viewer interface {
	LoadView(ctx context.Context, id string) (model.ViewModel, bool, error)
}

type TileSource interface {
	Fetch(ctx context.Context, source string, t maptile.Tile) (image.Image, error)
}

type Config struct {
	Width    int
	Height   int
	MaxZoom  int
	MaxTiles int
	Workers  int
	SRID     string
}

type Service struct {
	views   Viewer
	tiles   TileSource
	objects *Objects
	cfg     Config
	log     *slog.Logger
}

func New(views Viewer, ts TileSource, objects *Objects, cfg Config, log *slog.Logger) *Service {
	if cfg.Width <= 0 || cfg.Height <= 0 {
		cfg.Width, cfg.Height = 512, 512
	}
	if cfg.MaxZoom <= 0 || cfg.MaxZoom > 22 {
		cfg.MaxZoom = 19
	}
	if cfg.MaxTiles <= 0 {
		cfg.MaxTiles = 64
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 8
	}
	if log == nil {
		log = slog.Default()
	}
	return &Service{views: views, tiles: ts, objects: objects, cfg: cfg, log: log}
}

// GetImage renders the current view of the session in ctx. A partial capture
// is cropped to region, which must lie inside the viewport.
func (s *Service) GetImage(ctx context.Context, target string, full bool, region model.Region) (model.EncodedImage, error) {
	start := time.Now()
	img, err := s.getImage(ctx, target, full, region)
	observability.ObserveCapture(full, err, time.Since(start).Seconds())
	return img, err
}

func (s *Service) getImage(ctx context.Context, target string, full bool, region model.Region) (model.EncodedImage, error) {
	if target != TargetMap {
		return "", fmt.Errorf("%w: %q", ErrUnknownTarget, target)
	}
	if !full {
		if err := s.checkRegion(region); err != nil {
			return "", err
		}
	}

	id := mylog.SessionID(ctx)
	vm, ok, err := s.views.LoadView(ctx, id)
	if err != nil {
		return "", fmt.Errorf("load view: %w", err)
	}
	if !ok || vm.Extent == nil {
		return "", ErrNoView
	}
	srid := vm.SRID
	if srid == "" {
		srid = s.cfg.SRID
	}
	b, err := vm.Extent.Bound(srid)
	if err != nil {
		return "", fmt.Errorf("capture extent: %w", err)
	}

	view, err := s.Render(ctx, vm.MapSource, b)
	if err != nil {
		return "", err
	}
	var out image.Image = view
	if !full {
		out = crop(view, region)
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, out); err != nil {
		return "", fmt.Errorf("encode capture: %w", err)
	}
	s.log.LogAttrs(ctx, slog.LevelDebug, "captured view",
		slog.String("map_source", vm.MapSource),
		slog.Bool("full", full),
		slog.Int("bytes", buf.Len()),
	)
	return model.NewEncodedImage("image/png", buf.Bytes()), nil
}

func (s *Service) checkRegion(r model.Region) error {
	if r.Empty() || r.X < 0 || r.Y < 0 || r.X+r.Width > s.cfg.Width || r.Y+r.Height > s.cfg.Height {
		return fmt.Errorf("%w: %+v in %dx%d", ErrRegion, r, s.cfg.Width, s.cfg.Height)
	}
	return nil
}

func crop(src *image.RGBA, r model.Region) *image.RGBA {
	dst := image.NewRGBA(image.Rect(0, 0, r.Width, r.Height))
	draw.Draw(dst, dst.Bounds(), src, image.Pt(r.X, r.Y), draw.Src)
	return dst
}

// window is the pixel rectangle of a bound at one zoom level.
type window struct {
	z              maptile.Zoom
	x0, y0, x1, y1 float64
	tx0, ty0       uint32
	tx1, ty1       uint32
}

func (w window) tiles() int {
	return int(w.tx1-w.tx0+1) * int(w.ty1-w.ty0+1)
}

func newWindow(b orb.Bound, z maptile.Zoom) window {
	x0, y0 := tiles.PixelXY(orb.Point{b.Min.Lon(), b.Max.Lat()}, z)
	x1, y1 := tiles.PixelXY(orb.Point{b.Max.Lon(), b.Min.Lat()}, z)
	if x1-x0 < 1 {
		c := (x0 + x1) / 2
		x0, x1 = c-0.5, c+0.5
	}
	if y1-y0 < 1 {
		c := (y0 + y1) / 2
		y0, y1 = c-0.5, c+0.5
	}
	world := float64(tiles.Size) * math.Exp2(float64(z))
	x0, y0 = math.Max(x0, 0), math.Max(y0, 0)
	x1, y1 = math.Min(x1, world), math.Min(y1, world)

	last := uint32(math.Exp2(float64(z))) - 1
	tile := func(p float64) uint32 {
		t := uint32(math.Max(math.Floor(p/tiles.Size), 0))
		if t > last {
			t = last
		}
		return t
	}
	return window{
		z: z, x0: x0, y0: y0, x1: x1, y1: y1,
		tx0: tile(x0), ty0: tile(y0),
		tx1: tile(math.Max(x1-1e-9, x0)), ty1: tile(math.Max(y1-1e-9, y0)),
	}
}

// fit picks the deepest zoom where the bound fits the viewport within the
// tile budget.
func (s *Service) fit(b orb.Bound) window {
	for z := s.cfg.MaxZoom; z > 0; z-- {
		w := newWindow(b, maptile.Zoom(z))
		if w.x1-w.x0 <= float64(s.cfg.Width) && w.y1-w.y0 <= float64(s.cfg.Height) && w.tiles() <= s.cfg.MaxTiles {
			return w
		}
	}
	return newWindow(b, 0)
}

// Render mosaics the tiles of source covering b and scales them to the viewport.
func (s *Service) Render(ctx context.Context, source string, b orb.Bound) (*image.RGBA, error) {
	w := s.fit(b)
	cols, rows := int(w.tx1-w.tx0+1), int(w.ty1-w.ty0+1)
	mosaic := image.NewRGBA(image.Rect(0, 0, cols*tiles.Size, rows*tiles.Size))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.cfg.Workers)
	for ty := w.ty0; ty <= w.ty1; ty++ {
		for tx := w.tx0; tx <= w.tx1; tx++ {
			t := maptile.New(tx, ty, w.z)
			at := image.Pt(int(tx-w.tx0)*tiles.Size, int(ty-w.ty0)*tiles.Size)
			g.Go(func() error {
				img, err := s.tiles.Fetch(gctx, source, t)
				if err != nil {
					return err
				}
				// tiles cover disjoint rectangles of the mosaic
				draw.Draw(mosaic, image.Rectangle{Min: at, Max: at.Add(image.Pt(tiles.Size, tiles.Size))}, img, img.Bounds().Min, draw.Src)
				return nil
			})
		}
	}
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("render %s tiles: %w", source, err)
	}

	ox, oy := float64(w.tx0)*tiles.Size, float64(w.ty0)*tiles.Size
	src := image.Rect(
		int(math.Floor(w.x0-ox)), int(math.Floor(w.y0-oy)),
		int(math.Ceil(w.x1-ox)), int(math.Ceil(w.y1-oy)),
	).Intersect(mosaic.Bounds())

	out := image.NewRGBA(image.Rect(0, 0, s.cfg.Width, s.cfg.Height))
	draw.BiLinear.Scale(out, out.Bounds(), mosaic, src, draw.Src, nil)
	return out, nil
}
