// Package router exposes the composer actions over HTTP. Each request
// rebuilds the session's forms, runs one composer action and saves the forms
// back.
package router

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"sort"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/mohammed-shakir/imagery-composer/internal/composer"
	"github.com/mohammed-shakir/imagery-composer/internal/core/config"
	"github.com/mohammed-shakir/imagery-composer/internal/core/model"
	"github.com/mohammed-shakir/imagery-composer/internal/core/observability"
	"github.com/mohammed-shakir/imagery-composer/internal/form"
	mylog "github.com/mohammed-shakir/imagery-composer/internal/logger"
	"github.com/mohammed-shakir/imagery-composer/internal/session"
	"github.com/mohammed-shakir/imagery-composer/internal/store"
	"github.com/mohammed-shakir/imagery-composer/internal/store/bus"
)

const maxBody = 1 << 20

var errBadRequest = errors.New("bad request")

type Deps struct {
	Sessions session.Store
	Stores   store.Resolver
	Capture  composer.Capturer
	Options  config.Options
	Form     config.FormCfg
	Log      *slog.Logger
}

type API struct {
	d        Deps
	defaults form.FilterDefaults
}

func New(d Deps) *API {
	if d.Log == nil {
		d.Log = slog.Default()
	}
	return &API{
		d: d,
		defaults: form.FilterDefaults{
			DateFrom:         d.Form.DateFrom,
			DateTo:           d.Form.DateTo,
			CloudCoverage:    d.Form.CloudCoverage,
			EnforceDateOrder: d.Form.EnforceDateOrder,
		},
	}
}

// Routes mounts the /api endpoints on r.
func (a *API) Routes(r chi.Router) {
	r.Get("/api/options", a.observe("/api/options", a.getOptions))
	r.Get("/api/form", a.observe("/api/form", a.getForm))
	r.Patch("/api/form", a.observe("/api/form", a.patchForm))
	r.Get("/api/vm", a.observe("/api/vm", a.getView))

	r.Post("/api/draw-end", a.observe("/api/draw-end", a.drawEnd))
	r.Post("/api/classify", a.observe("/api/classify", a.action(func(ctx context.Context, c *composer.Composer, _ *http.Request) error {
		return c.OnClassify(ctx)
	})))
	r.Post("/api/object-detection", a.observe("/api/object-detection", a.action(func(ctx context.Context, c *composer.Composer, _ *http.Request) error {
		return c.OnObjectDetection(ctx)
	})))
	r.Post("/api/map-source", a.observe("/api/map-source", a.change((*composer.Composer).OnChangeMapSource, a.d.Options.HasMapSource)))
	r.Post("/api/data-source", a.observe("/api/data-source", a.change((*composer.Composer).OnChangeDataSource, a.d.Options.HasDataSource)))
	r.Post("/api/detection-type", a.observe("/api/detection-type", a.change((*composer.Composer).OnDetectionTypeChange, nil)))
	r.Post("/api/screenshot", a.observe("/api/screenshot", a.screenshot))
	r.Post("/api/bing-object-detection", a.observe("/api/bing-object-detection", a.action(func(ctx context.Context, c *composer.Composer, _ *http.Request) error {
		return c.OnBingObjectDetection(ctx)
	})))
	r.Get("/api/screenshot/download", a.observe("/api/screenshot/download", a.download))
	r.Post("/api/items/{itemID}/load", a.observe("/api/items/{itemID}/load", a.action(func(ctx context.Context, c *composer.Composer, r *http.Request) error {
		return c.OnLoadImage(ctx, chi.URLParam(r, "itemID"))
	})))
	r.Post("/api/stac/items/{itemID}/load", a.observe("/api/stac/items/{itemID}/load", a.action(func(ctx context.Context, c *composer.Composer, r *http.Request) error {
		return c.LoadImageSTAC(ctx, chi.URLParam(r, "itemID"))
	})))
}

type statusWriter struct {
	http.ResponseWriter
	code int
}

func (w *statusWriter) WriteHeader(code int) {
	w.code = code
	w.ResponseWriter.WriteHeader(code)
}

func (a *API) observe(route string, h http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		sw := &statusWriter{ResponseWriter: w, code: http.StatusOK}
		h(sw, r)
		observability.ObserveHTTP(r.Method, route, sw.code, time.Since(start).Seconds())
	}
}

// sessionID falls back to the request when the session middleware did not run.
func sessionID(r *http.Request) string {
	if id := mylog.SessionID(r.Context()); id != "" {
		return id
	}
	id, _ := session.ID(r)
	return id
}

// composerFor rebuilds the session composer from its saved state.
func (a *API) composerFor(ctx context.Context, sid string) (*composer.Composer, error) {
	st, ok, err := a.d.Sessions.LoadState(ctx, sid)
	if err != nil {
		return nil, fmt.Errorf("load session: %w", err)
	}
	filter := form.NewFilterForm(a.defaults)
	sources := form.NewDataSourcesForm(a.d.Form.DefaultDataSource)
	var opts []composer.Option
	if ok {
		filter.Restore(st.Filter)
		sources.Restore(st.Sources)
		opts = append(opts, composer.WithLastImage(st.LastImage))
	}
	opts = append(opts, composer.WithLogger(a.d.Log))
	cfg := composer.Config{ScreenshotTarget: a.d.Form.ScreenshotTarget, ScreenshotRegion: a.d.Form.ScreenshotRegion}
	return composer.New(a.d.Stores.For(sid), a.d.Capture, filter, sources, cfg, opts...), nil
}

func (a *API) save(ctx context.Context, sid string, c *composer.Composer) {
	st := session.State{
		Filter:    c.FilterForm().State(),
		Sources:   c.DataSourcesForm().State(),
		LastImage: c.Img(),
		UpdatedAt: time.Now().UTC(),
	}
	if err := a.d.Sessions.SaveState(ctx, sid, st); err != nil {
		a.d.Log.WarnContext(ctx, "save session state", "err", err)
	}
}

type formView struct {
	Filter     form.Status `json:"filter"`
	DataSource string      `json:"dataSource"`
}

func viewOf(c *composer.Composer) formView {
	return formView{
		Filter:     c.FilterForm().Status(),
		DataSource: c.DataSourcesForm().Value(form.FieldSelectBox),
	}
}

type actionFunc func(ctx context.Context, c *composer.Composer, r *http.Request) error

// action runs fn against the session composer and answers 202 with the form
// state, or maps the error.
func (a *API) action(fn actionFunc) http.HandlerFunc {
	return a.run(func(ctx context.Context, w http.ResponseWriter, r *http.Request, c *composer.Composer) error {
		if err := fn(ctx, c, r); err != nil {
			return err
		}
		writeJSON(w, http.StatusAccepted, viewOf(c))
		return nil
	})
}

func (a *API) run(fn func(context.Context, http.ResponseWriter, *http.Request, *composer.Composer) error) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		sid := sessionID(r)
		ctx = mylog.WithSessionID(ctx, sid)

		c, err := a.composerFor(ctx, sid)
		if err != nil {
			a.fail(ctx, w, nil, err)
			return
		}
		err = fn(ctx, w, r, c)
		a.save(ctx, sid, c)
		if err != nil {
			a.fail(ctx, w, c, err)
		}
	}
}

// change decodes a select change event. When known is set, values outside
// the configured options are rejected before anything is dispatched.
func (a *API) change(on func(*composer.Composer, context.Context, composer.ChangeEvent) error, known func(string) bool) http.HandlerFunc {
	return a.action(func(ctx context.Context, c *composer.Composer, r *http.Request) error {
		var ev composer.ChangeEvent
		if err := decodeBody(r, &ev); err != nil {
			return err
		}
		if known != nil && !known(ev.Target.Value) {
			return fmt.Errorf("%q: %w", ev.Target.Value, store.ErrUnknownSource)
		}
		return on(c, ctx, ev)
	})
}

func (a *API) drawEnd(w http.ResponseWriter, r *http.Request) {
	a.action(func(ctx context.Context, c *composer.Composer, r *http.Request) error {
		var body struct {
			Extent *model.Extent `json:"extent"`
		}
		if err := decodeBody(r, &body); err != nil {
			return err
		}
		if body.Extent == nil {
			return fmt.Errorf("%w: extent is required", errBadRequest)
		}
		return c.OnDrawEnd(ctx, *body.Extent)
	})(w, r)
}

func (a *API) screenshot(w http.ResponseWriter, r *http.Request) {
	a.run(func(ctx context.Context, w http.ResponseWriter, _ *http.Request, c *composer.Composer) error {
		if err := c.TakeScreenshot(ctx); err != nil {
			return err
		}
		writeJSON(w, http.StatusAccepted, map[string]any{"image": c.Img()})
		return nil
	})(w, r)
}

func (a *API) download(w http.ResponseWriter, r *http.Request) {
	a.run(func(ctx context.Context, w http.ResponseWriter, r *http.Request, c *composer.Composer) error {
		d, err := c.OnDownloadScreenshot(ctx)
		if err != nil {
			return err
		}
		if d.URL != "" {
			http.Redirect(w, r, d.URL, http.StatusFound)
			return nil
		}
		w.Header().Set("Content-Type", d.MimeType)
		w.Header().Set("Content-Disposition", mime.FormatMediaType("attachment", map[string]string{"filename": d.Filename}))
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write(d.Data)
		return nil
	})(w, r)
}

func (a *API) getOptions(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, a.d.Options)
}

func (a *API) getForm(w http.ResponseWriter, r *http.Request) {
	a.run(func(_ context.Context, w http.ResponseWriter, _ *http.Request, c *composer.Composer) error {
		writeJSON(w, http.StatusOK, viewOf(c))
		return nil
	})(w, r)
}

// patchForm sets control values, e.g. {"cloudCoverage":"30"}.
func (a *API) patchForm(w http.ResponseWriter, r *http.Request) {
	a.run(func(_ context.Context, w http.ResponseWriter, r *http.Request, c *composer.Composer) error {
		var values map[string]string
		if err := decodeBody(r, &values); err != nil {
			return err
		}
		// all names are checked before any value is applied
		names := make([]string, 0, len(values))
		for name := range values {
			if formFor(c, name).Get(name) == nil {
				return fmt.Errorf("%w: unknown control %q", errBadRequest, name)
			}
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			if err := formFor(c, name).SetValue(name, values[name]); err != nil {
				return fmt.Errorf("%w: %v", errBadRequest, err)
			}
		}
		writeJSON(w, http.StatusOK, viewOf(c))
		return nil
	})(w, r)
}

func formFor(c *composer.Composer, name string) *form.Form {
	if name == form.FieldSelectBox {
		return c.DataSourcesForm()
	}
	return c.FilterForm()
}

func (a *API) getView(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	sid := sessionID(r)
	vm, ok, err := a.d.Sessions.LoadView(ctx, sid)
	if err != nil {
		a.fail(ctx, w, nil, err)
		return
	}
	if !ok {
		vm = model.ViewModel{
			DataSource:    a.d.Form.DefaultDataSource,
			MapSource:     a.d.Form.DefaultMapSource,
			DetectionType: a.d.Form.DefaultDetection,
			SRID:          a.d.Form.ExtentSRID,
		}
	}
	writeJSON(w, http.StatusOK, vm)
}

type errorBody struct {
	Error string    `json:"error"`
	Form  *formView `json:"form,omitempty"`
}

func (a *API) fail(ctx context.Context, w http.ResponseWriter, c *composer.Composer, err error) {
	code := http.StatusBadGateway
	switch {
	case errors.Is(err, composer.ErrInvalidForm):
		code = http.StatusUnprocessableEntity
	case errors.Is(err, errBadRequest), errors.Is(err, store.ErrUnknownSource):
		code = http.StatusBadRequest
	case errors.Is(err, bus.ErrQueueFull), errors.Is(err, bus.ErrClosed):
		code = http.StatusServiceUnavailable
	}
	body := errorBody{Error: err.Error()}
	if c != nil && code == http.StatusUnprocessableEntity {
		v := viewOf(c)
		body.Form = &v
	}
	lvl := slog.LevelWarn
	if code < http.StatusInternalServerError {
		lvl = slog.LevelDebug
	}
	a.d.Log.Log(ctx, lvl, "request failed", "status", code, "err", err)
	writeJSON(w, code, body)
}

func decodeBody(r *http.Request, out any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBody))
	if err := dec.Decode(out); err != nil {
		if errors.Is(err, io.EOF) {
			return fmt.Errorf("%w: empty body", errBadRequest)
		}
		return fmt.Errorf("%w: %v", errBadRequest, err)
	}
	return nil
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
