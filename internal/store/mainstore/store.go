// Package mainstore applies store commands in process and keeps one view
// model per session.
package mainstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/paulmach/orb"

	"github.com/mohammed-shakir/imagery-composer/internal/backends/detection"
	"github.com/mohammed-shakir/imagery-composer/internal/backends/sentinel"
	"github.com/mohammed-shakir/imagery-composer/internal/backends/stac"
	"github.com/mohammed-shakir/imagery-composer/internal/cache/keys"
	"github.com/mohammed-shakir/imagery-composer/internal/core/config"
	"github.com/mohammed-shakir/imagery-composer/internal/core/model"
	"github.com/mohammed-shakir/imagery-composer/internal/core/observability"
	mylog "github.com/mohammed-shakir/imagery-composer/internal/logger"
	"github.com/mohammed-shakir/imagery-composer/internal/mapper"
	"github.com/mohammed-shakir/imagery-composer/internal/store"
)

var (
	ErrNoExtent      = errors.New("no extent drawn yet")
	ErrUnsupported   = errors.New("not supported")
	ErrUnknownSource = store.ErrUnknownSource
)

type Catalog interface {
	Search(ctx context.Context, p stac.SearchParams) ([]stac.Item, error)
	Item(ctx context.Context, id string) (stac.Item, error)
}

type Processor interface {
	Process(ctx context.Context, p sentinel.ProcessRequest) (model.EncodedImage, error)
}

type Detector interface {
	TreeDetection(ctx context.Context, img model.EncodedImage) (detection.Result, error)
	ObjectDetection(ctx context.Context, img model.EncodedImage, detectionType string) (detection.Result, error)
}

// ResultCache stores encoded backend results; redisstore.Client satisfies it.
type ResultCache interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, val []byte, ttl time.Duration) error
}

// Sink persists view model snapshots; session stores satisfy it.
type Sink interface {
	LoadView(ctx context.Context, id string) (model.ViewModel, bool, error)
	SaveView(ctx context.Context, id string, vm model.ViewModel) error
}

type Deps struct {
	Catalog   Catalog
	Processor Processor
	Detector  Detector
	Cache     ResultCache
	Mapper    mapper.Interface
	Sink      Sink
	Options   config.Options
	Log       *slog.Logger
}

type Settings struct {
	SRID                 string
	CellRes              int
	CacheTTL             time.Duration
	Width                int
	Height               int
	DefaultDataSource    string
	DefaultMapSource     string
	DefaultDetectionType string
}

// Store is the state holder of one session.
type Store struct {
	id   string
	deps *Deps
	cfg  *Settings

	mu       sync.Mutex
	hydrated bool
	vm       model.ViewModel
}

var _ store.Store = (*Store)(nil)

func newStore(id string, deps *Deps, cfg *Settings) *Store {
	return &Store{
		id:   id,
		deps: deps,
		cfg:  cfg,
		vm: model.ViewModel{
			DataSource:    cfg.DefaultDataSource,
			MapSource:     cfg.DefaultMapSource,
			DetectionType: cfg.DefaultDetectionType,
			SRID:          cfg.SRID,
		},
	}
}

// View returns a copy of the current view model.
func (s *Store) View(ctx context.Context) model.ViewModel {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.hydrate(ctx)
	return s.vm.Clone()
}

func (s *Store) hydrate(ctx context.Context) {
	if s.hydrated {
		return
	}
	s.hydrated = true
	if s.deps.Sink == nil {
		return
	}
	vm, ok, err := s.deps.Sink.LoadView(ctx, s.id)
	if err != nil {
		s.deps.Log.LogAttrs(ctx, slog.LevelWarn, "view restore failed",
			slog.String("session_id", s.id), slog.Any("err", err))
		return
	}
	if ok {
		vm.Loading = false
		s.vm = vm
	}
}

// run applies fn to a working copy of the view model and commits it. Slow
// commands publish a loading snapshot first.
func (s *Store) run(ctx context.Context, name string, slow bool, fn func(ctx context.Context, vm *model.ViewModel) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.hydrate(ctx)

	ctx = mylog.WithComponent(mylog.WithSessionID(ctx, s.id), "mainstore")
	start := time.Now()

	work := s.vm.Clone()
	if slow {
		s.vm.Loading = true
		s.publish(ctx)
	}

	err := fn(ctx, &work)
	work.Loading = false
	work.UpdatedAt = time.Now().UTC()
	if err != nil {
		work = s.vm.Clone()
		work.Loading = false
		work.Error = err.Error()
		work.UpdatedAt = time.Now().UTC()
	} else {
		work.Error = ""
	}
	s.vm = work
	s.publish(ctx)

	observability.IncStoreCommand(name, err)
	lvl := slog.LevelDebug
	if err != nil {
		lvl = slog.LevelWarn
	}
	s.deps.Log.LogAttrs(ctx, lvl, "store command",
		slog.String("command", name),
		slog.Duration("took", time.Since(start)),
		slog.Any("err", err),
	)
	return err
}

func (s *Store) publish(ctx context.Context) {
	if s.deps.Sink == nil {
		return
	}
	if err := s.deps.Sink.SaveView(ctx, s.id, s.vm.Clone()); err != nil {
		s.deps.Log.LogAttrs(ctx, slog.LevelWarn, "view snapshot failed", slog.Any("err", err))
	}
}

func (s *Store) LoadImage(ctx context.Context, req model.ImageRequest) error {
	return s.run(ctx, store.CmdLoadImage, true, func(ctx context.Context, vm *model.ViewModel) error {
		if req.Extent == nil {
			return ErrNoExtent
		}
		e := *req.Extent
		b, err := e.Bound(s.cfg.SRID)
		if err != nil {
			return fmt.Errorf("load image: %w", err)
		}
		vm.Extent = &e
		vm.SRID = s.cfg.SRID
		vm.Overlay = nil
		vm.Detections = nil
		from, to := dateRange(req)

		switch vm.DataSource {
		case model.DataSourceSTAC:
			items, err := s.searchSTAC(ctx, b, from, to, req.CloudCoverage)
			if err != nil {
				return err
			}
			vm.Items = make([]model.ImageResult, 0, len(items))
			vm.Image = nil
			for _, it := range items {
				r, ok := itemResult(it)
				if !ok {
					continue
				}
				vm.Items = append(vm.Items, r)
				if vm.Image == nil {
					img := r
					vm.Image = &img
				}
			}
			return nil
		case model.DataSourceSentinel:
			img, err := s.processSentinel(ctx, b, from, to, req.CloudCoverage)
			if err != nil {
				return err
			}
			vm.Items = nil
			vm.Image = &model.ImageResult{Source: model.DataSourceSentinel, Data: img, Extent: &e}
			return nil
		case model.DataSourceBing:
			// imagery comes from screenshots of the map layer
			vm.Items = nil
			vm.Image = nil
			return nil
		default:
			return fmt.Errorf("data source %q: %w", vm.DataSource, ErrUnknownSource)
		}
	})
}

func (s *Store) LoadImageByID(ctx context.Context, itemID string) error {
	return s.run(ctx, store.CmdLoadImageByID, true, func(ctx context.Context, vm *model.ViewModel) error {
		if vm.DataSource != model.DataSourceSTAC {
			return fmt.Errorf("load by id on %s: %w", vm.DataSource, ErrUnsupported)
		}
		for _, it := range vm.Items {
			if it.ItemID == itemID {
				img := it
				vm.Image = &img
				return nil
			}
		}
		return s.loadItem(ctx, vm, itemID)
	})
}

func (s *Store) LoadImageSTAC(ctx context.Context, itemID string) error {
	return s.run(ctx, store.CmdLoadImageSTAC, true, func(ctx context.Context, vm *model.ViewModel) error {
		return s.loadItem(ctx, vm, itemID)
	})
}

func (s *Store) Classify(ctx context.Context, req model.ImageRequest) error {
	return s.run(ctx, store.CmdClassify, true, func(ctx context.Context, vm *model.ViewModel) error {
		b, err := s.lastBound(vm)
		if err != nil {
			return err
		}
		if s.deps.Processor == nil {
			return fmt.Errorf("classification: %w", ErrUnsupported)
		}
		from, to := dateRange(req)
		img, err := s.deps.Processor.Process(ctx, sentinel.ProcessRequest{
			Bound: b, DateFrom: from, DateTo: to, MaxCloud: req.CloudCoverage,
			Evalscript: sentinel.SceneClassification, Width: s.cfg.Width, Height: s.cfg.Height,
		})
		if err != nil {
			return fmt.Errorf("classification: %w", err)
		}
		ext := *vm.Extent
		vm.Overlay = &model.ImageResult{Source: "classification", Data: img, Extent: &ext}
		vm.Detections = nil
		return nil
	})
}

func (s *Store) ObjectDetection(ctx context.Context, req model.ImageRequest) error {
	return s.run(ctx, store.CmdObjectDetection, true, func(ctx context.Context, vm *model.ViewModel) error {
		b, err := s.lastBound(vm)
		if err != nil {
			return err
		}
		if s.deps.Processor == nil || s.deps.Detector == nil {
			return fmt.Errorf("object detection: %w", ErrUnsupported)
		}
		from, to := dateRange(req)
		img, err := s.deps.Processor.Process(ctx, sentinel.ProcessRequest{
			Bound: b, DateFrom: from, DateTo: to, MaxCloud: req.CloudCoverage,
			Evalscript: sentinel.TrueColor, Width: s.cfg.Width, Height: s.cfg.Height,
		})
		if err != nil {
			return fmt.Errorf("object detection: %w", err)
		}
		res, err := s.deps.Detector.ObjectDetection(ctx, img, vm.DetectionType)
		if err != nil {
			return fmt.Errorf("object detection: %w", err)
		}
		applyDetection(vm, res, "objectDetection")
		return nil
	})
}

func (s *Store) MapSource(ctx context.Context, sel model.MapSourceSelection) error {
	return s.run(ctx, store.CmdMapSource, false, func(_ context.Context, vm *model.ViewModel) error {
		if !s.deps.Options.HasMapSource(sel.Name) {
			return fmt.Errorf("map source %q: %w", sel.Name, ErrUnknownSource)
		}
		vm.MapSource = sel.Name
		return nil
	})
}

func (s *Store) DataSource(ctx context.Context, source string) error {
	return s.run(ctx, store.CmdDataSource, false, func(_ context.Context, vm *model.ViewModel) error {
		if !s.deps.Options.HasDataSource(source) {
			return fmt.Errorf("data source %q: %w", source, ErrUnknownSource)
		}
		if vm.DataSource != source {
			vm.Items = nil
			vm.Image = nil
		}
		vm.DataSource = source
		return nil
	})
}

func (s *Store) DetectionType(ctx context.Context, detectionType string) error {
	return s.run(ctx, store.CmdDetectionType, false, func(_ context.Context, vm *model.ViewModel) error {
		vm.DetectionType = detectionType
		return nil
	})
}

func (s *Store) BingTreeDetection(ctx context.Context, img model.EncodedImage) error {
	return s.run(ctx, store.CmdBingTreeDetection, true, func(ctx context.Context, vm *model.ViewModel) error {
		if s.deps.Detector == nil {
			return fmt.Errorf("tree detection: %w", ErrUnsupported)
		}
		res, err := s.deps.Detector.TreeDetection(ctx, img)
		if err != nil {
			return fmt.Errorf("tree detection: %w", err)
		}
		applyDetection(vm, res, "treeDetection")
		return nil
	})
}

func (s *Store) BingObjectDetection(ctx context.Context, img model.EncodedImage) error {
	return s.run(ctx, store.CmdBingObjectDetection, true, func(ctx context.Context, vm *model.ViewModel) error {
		if s.deps.Detector == nil {
			return fmt.Errorf("object detection: %w", ErrUnsupported)
		}
		res, err := s.deps.Detector.ObjectDetection(ctx, img, vm.DetectionType)
		if err != nil {
			return fmt.Errorf("object detection: %w", err)
		}
		applyDetection(vm, res, "objectDetection")
		return nil
	})
}

func (s *Store) lastBound(vm *model.ViewModel) (orb.Bound, error) {
	if vm.Extent == nil {
		return orb.Bound{}, ErrNoExtent
	}
	return vm.Extent.Bound(s.cfg.SRID)
}

func (s *Store) loadItem(ctx context.Context, vm *model.ViewModel, itemID string) error {
	if s.deps.Catalog == nil {
		return fmt.Errorf("stac lookup: %w", ErrUnsupported)
	}
	var it stac.Item
	key := keys.Item(model.DataSourceSTAC, itemID)
	if !s.cacheGet(ctx, key, &it) {
		var err error
		it, err = s.deps.Catalog.Item(ctx, itemID)
		if err != nil {
			return fmt.Errorf("stac item %s: %w", itemID, err)
		}
		s.cacheSet(ctx, key, it)
	}
	r, ok := itemResult(it)
	if !ok {
		return fmt.Errorf("stac item %s has no displayable asset", itemID)
	}
	vm.Image = &r
	return nil
}

func (s *Store) searchSTAC(ctx context.Context, b orb.Bound, from, to model.Date, cloud int) ([]stac.Item, error) {
	if s.deps.Catalog == nil {
		return nil, fmt.Errorf("stac search: %w", ErrUnsupported)
	}
	key := s.resultKey(ctx, model.DataSourceSTAC, b, from, to, cloud)
	var items []stac.Item
	if key != "" && s.cacheGet(ctx, key, &items) {
		return items, nil
	}
	items, err := s.deps.Catalog.Search(ctx, stac.SearchParams{Bound: b, DateFrom: from, DateTo: to, CloudMax: cloud})
	if err != nil {
		return nil, fmt.Errorf("stac search: %w", err)
	}
	if key != "" {
		s.cacheSet(ctx, key, items)
	}
	return items, nil
}

func (s *Store) processSentinel(ctx context.Context, b orb.Bound, from, to model.Date, cloud int) (model.EncodedImage, error) {
	if s.deps.Processor == nil {
		return "", fmt.Errorf("sentinel processing: %w", ErrUnsupported)
	}
	key := s.resultKey(ctx, model.DataSourceSentinel, b, from, to, cloud)
	var img model.EncodedImage
	if key != "" && s.cacheGet(ctx, key, &img) {
		return img, nil
	}
	img, err := s.deps.Processor.Process(ctx, sentinel.ProcessRequest{
		Bound: b, DateFrom: from, DateTo: to, MaxCloud: cloud,
		Evalscript: sentinel.TrueColor, Width: s.cfg.Width, Height: s.cfg.Height,
	})
	if err != nil {
		return "", fmt.Errorf("sentinel processing: %w", err)
	}
	if key != "" {
		s.cacheSet(ctx, key, img)
	}
	return img, nil
}

// resultKey returns "" when results for this bound should not be cached.
func (s *Store) resultKey(ctx context.Context, source string, b orb.Bound, from, to model.Date, cloud int) string {
	if s.deps.Cache == nil || s.deps.Mapper == nil {
		return ""
	}
	cells, err := s.deps.Mapper.CellsForBound(b, s.cfg.CellRes)
	if err != nil {
		s.deps.Log.LogAttrs(ctx, slog.LevelDebug, "no cells for bound", slog.Any("err", err))
		return ""
	}
	return keys.Result(source, s.cfg.CellRes, cells, from.String(), to.String(), cloud)
}

func (s *Store) cacheGet(ctx context.Context, key string, out any) bool {
	if s.deps.Cache == nil {
		return false
	}
	b, ok, err := s.deps.Cache.Get(ctx, key)
	if err != nil {
		s.deps.Log.LogAttrs(ctx, slog.LevelWarn, "result cache get failed", slog.String("key", key), slog.Any("err", err))
		return false
	}
	if !ok {
		observability.IncCacheMiss()
		return false
	}
	if err := json.Unmarshal(b, out); err != nil {
		observability.IncCacheMiss()
		return false
	}
	observability.IncCacheHit()
	return true
}

func (s *Store) cacheSet(ctx context.Context, key string, v any) {
	if s.deps.Cache == nil {
		return
	}
	b, err := json.Marshal(v)
	if err != nil {
		return
	}
	if err := s.deps.Cache.Set(ctx, key, b, s.cfg.CacheTTL); err != nil {
		s.deps.Log.LogAttrs(ctx, slog.LevelWarn, "result cache set failed", slog.String("key", key), slog.Any("err", err))
	}
}

// dateRange orders the request dates for backend queries.
func dateRange(req model.ImageRequest) (model.Date, model.Date) {
	if req.DateTo.Before(req.DateFrom.Time) {
		return req.DateTo, req.DateFrom
	}
	return req.DateFrom, req.DateTo
}

func itemResult(it stac.Item) (model.ImageResult, bool) {
	_, a, ok := it.PreferredAsset()
	if !ok {
		return model.ImageResult{}, false
	}
	return model.ImageResult{
		Source:   model.DataSourceSTAC,
		ItemID:   it.ID,
		URL:      a.Href,
		Extent:   it.Extent(),
		Datetime: it.Properties.Datetime,
		Cloud:    it.Properties.CloudCover,
	}, true
}

func applyDetection(vm *model.ViewModel, res detection.Result, source string) {
	vm.Detections = append([]model.Detection(nil), res.Detections...)
	vm.Overlay = nil
	if res.Overlay != "" {
		ov := model.ImageResult{Source: source, Data: res.Overlay}
		if vm.Extent != nil {
			e := *vm.Extent
			ov.Extent = &e
		}
		vm.Overlay = &ov
	}
}
