// Package composer translates user actions into store payloads. It owns the
// filter form and the data source selector of one session and never handles
// the outcome of what it dispatches.
package composer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/mohammed-shakir/imagery-composer/internal/core/model"
	"github.com/mohammed-shakir/imagery-composer/internal/core/observability"
	"github.com/mohammed-shakir/imagery-composer/internal/form"
	mylog "github.com/mohammed-shakir/imagery-composer/internal/logger"
	"github.com/mohammed-shakir/imagery-composer/internal/store"
)

const (
	ActionDrawEnd         = "drawEnd"
	ActionClassify        = "classify"
	ActionObjectDetection = "objectDetection"
)

// ErrInvalidForm is matched by every *InvalidFormError.
var ErrInvalidForm = errors.New("filter form invalid")

type InvalidFormError struct {
	Action string
	Fields map[string][]string
}

func (e *InvalidFormError) Error() string {
	names := make([]string, 0, len(e.Fields))
	for n := range e.Fields {
		names = append(names, n)
	}
	sort.Strings(names)
	return fmt.Sprintf("%s: filter form invalid: %s", e.Action, strings.Join(names, ","))
}

func (e *InvalidFormError) Is(target error) bool { return target == ErrInvalidForm }

// Capturer produces images of the current map view.
type Capturer interface {
	GetImage(ctx context.Context, target string, full bool, region model.Region) (model.EncodedImage, error)
	DownloadImage(ctx context.Context, img model.EncodedImage) (model.Download, error)
}

// ChangeEvent is the part of a DOM change event the composer reads.
type ChangeEvent struct {
	Target struct {
		Value string `json:"value"`
	} `json:"target"`
}

func NewChangeEvent(value string) ChangeEvent {
	var ev ChangeEvent
	ev.Target.Value = value
	return ev
}

type Config struct {
	ScreenshotTarget string
	ScreenshotRegion model.Region
}

type Composer struct {
	store   store.Store
	capture Capturer
	filter  *form.Form
	sources *form.Form
	cfg     Config
	log     *slog.Logger

	img model.EncodedImage
}

type Option func(*Composer)

func WithLogger(l *slog.Logger) Option {
	return func(c *Composer) {
		if l != nil {
			c.log = l
		}
	}
}

// WithLastImage seeds the last captured image, e.g. from a restored session.
func WithLastImage(img model.EncodedImage) Option {
	return func(c *Composer) { c.img = img }
}

func New(st store.Store, capt Capturer, filter, sources *form.Form, cfg Config, opts ...Option) *Composer {
	if cfg.ScreenshotTarget == "" {
		cfg.ScreenshotTarget = "map"
	}
	c := &Composer{
		store:   st,
		capture: capt,
		filter:  filter,
		sources: sources,
		cfg:     cfg,
		log:     slog.Default(),
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

func (c *Composer) FilterForm() *form.Form      { return c.filter }
func (c *Composer) DataSourcesForm() *form.Form { return c.sources }

// Img is the last image captured by TakeScreenshot.
func (c *Composer) Img() model.EncodedImage { return c.img }

// request builds a fresh payload from the form, or marks the form touched and
// reports why it was not sent.
func (c *Composer) request(ctx context.Context, action string) (model.ImageRequest, error) {
	if !c.filter.Valid() {
		c.filter.MarkAllAsTouched()
		observability.IncFormRejected(action)
		c.log.LogAttrs(ctx, slog.LevelDebug, "form invalid, not dispatching",
			slog.String("action", action),
			slog.Any("fields", c.filter.InvalidFields()),
		)
		return model.ImageRequest{}, &InvalidFormError{Action: action, Fields: c.filter.AllErrors()}
	}
	return form.ImageRequest(c.filter)
}

func (c *Composer) OnDrawEnd(ctx context.Context, extent model.Extent) error {
	ctx = mylog.WithAction(ctx, ActionDrawEnd)
	req, err := c.request(ctx, ActionDrawEnd)
	if err != nil {
		return err
	}
	e := extent
	req.Extent = &e
	return c.store.LoadImage(ctx, req)
}

func (c *Composer) OnClassify(ctx context.Context) error {
	ctx = mylog.WithAction(ctx, ActionClassify)
	req, err := c.request(ctx, ActionClassify)
	if err != nil {
		return err
	}
	return c.store.Classify(ctx, req)
}

func (c *Composer) OnObjectDetection(ctx context.Context) error {
	ctx = mylog.WithAction(ctx, ActionObjectDetection)
	req, err := c.request(ctx, ActionObjectDetection)
	if err != nil {
		return err
	}
	return c.store.ObjectDetection(ctx, req)
}

func (c *Composer) OnChangeMapSource(ctx context.Context, ev ChangeEvent) error {
	return c.store.MapSource(mylog.WithAction(ctx, "mapSource"), model.MapSourceSelection{Name: ev.Target.Value})
}

// OnChangeDataSource updates the selection only once the store accepted it.
func (c *Composer) OnChangeDataSource(ctx context.Context, ev ChangeEvent) error {
	if err := c.store.DataSource(mylog.WithAction(ctx, "dataSource"), ev.Target.Value); err != nil {
		return err
	}
	if c.sources == nil {
		return nil
	}
	return c.sources.SetValue(form.FieldSelectBox, ev.Target.Value)
}

func (c *Composer) OnDetectionTypeChange(ctx context.Context, ev ChangeEvent) error {
	return c.store.DetectionType(mylog.WithAction(ctx, "detectionType"), ev.Target.Value)
}

// TakeScreenshot captures the configured region and sends it to tree detection.
func (c *Composer) TakeScreenshot(ctx context.Context) error {
	ctx = mylog.WithAction(ctx, "screenshot")
	img, err := c.capture.GetImage(ctx, c.cfg.ScreenshotTarget, false, c.cfg.ScreenshotRegion)
	if err != nil {
		return err
	}
	c.img = img
	return c.store.BingTreeDetection(ctx, img)
}

func (c *Composer) OnBingObjectDetection(ctx context.Context) error {
	ctx = mylog.WithAction(ctx, "bingObjectDetection")
	img, err := c.capture.GetImage(ctx, c.cfg.ScreenshotTarget, true, model.Region{})
	if err != nil {
		return err
	}
	return c.store.BingObjectDetection(ctx, img)
}

// OnDownloadScreenshot captures the full view and hands it to the user.
func (c *Composer) OnDownloadScreenshot(ctx context.Context) (model.Download, error) {
	ctx = mylog.WithAction(ctx, "downloadScreenshot")
	img, err := c.capture.GetImage(ctx, c.cfg.ScreenshotTarget, true, model.Region{})
	if err != nil {
		return model.Download{}, err
	}
	return c.capture.DownloadImage(ctx, img)
}

func (c *Composer) OnLoadImage(ctx context.Context, itemID string) error {
	return c.store.LoadImageByID(mylog.WithAction(ctx, "loadImageById"), itemID)
}

func (c *Composer) LoadImageSTAC(ctx context.Context, itemID string) error {
	return c.store.LoadImageSTAC(mylog.WithAction(ctx, "loadImageSTAC"), itemID)
}
