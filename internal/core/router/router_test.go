package router

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mohammed-shakir/imagery-composer/internal/core/config"
	"github.com/mohammed-shakir/imagery-composer/internal/core/model"
	"github.com/mohammed-shakir/imagery-composer/internal/session"
	"github.com/mohammed-shakir/imagery-composer/internal/store"
	"github.com/mohammed-shakir/imagery-composer/internal/store/bus"
)

type call struct {
	session string
	name    string
	arg     any
}

type recorder struct {
	mu    sync.Mutex
	calls []call
	err   error
}

func (r *recorder) For(session string) store.Store { return &sessionRec{r: r, session: session} }

func (r *recorder) Calls() []call {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]call(nil), r.calls...)
}

type sessionRec struct {
	r       *recorder
	session string
}

func (s *sessionRec) rec(name string, arg any) error {
	s.r.mu.Lock()
	defer s.r.mu.Unlock()
	s.r.calls = append(s.r.calls, call{s.session, name, arg})
	return s.r.err
}

func (s *sessionRec) LoadImage(_ context.Context, q model.ImageRequest) error {
	return s.rec(store.CmdLoadImage, q)
}
func (s *sessionRec) LoadImageByID(_ context.Context, id string) error {
	return s.rec(store.CmdLoadImageByID, id)
}
func (s *sessionRec) Classify(_ context.Context, q model.ImageRequest) error {
	return s.rec(store.CmdClassify, q)
}
func (s *sessionRec) ObjectDetection(_ context.Context, q model.ImageRequest) error {
	return s.rec(store.CmdObjectDetection, q)
}
func (s *sessionRec) MapSource(_ context.Context, m model.MapSourceSelection) error {
	return s.rec(store.CmdMapSource, m)
}
func (s *sessionRec) DataSource(_ context.Context, v string) error {
	return s.rec(store.CmdDataSource, v)
}
func (s *sessionRec) DetectionType(_ context.Context, v string) error {
	return s.rec(store.CmdDetectionType, v)
}
func (s *sessionRec) BingTreeDetection(_ context.Context, img model.EncodedImage) error {
	return s.rec(store.CmdBingTreeDetection, img)
}
func (s *sessionRec) BingObjectDetection(_ context.Context, img model.EncodedImage) error {
	return s.rec(store.CmdBingObjectDetection, img)
}
func (s *sessionRec) LoadImageSTAC(_ context.Context, id string) error {
	return s.rec(store.CmdLoadImageSTAC, id)
}

type fakeCapture struct {
	img      model.EncodedImage
	download model.Download
}

func (f *fakeCapture) GetImage(context.Context, string, bool, model.Region) (model.EncodedImage, error) {
	return f.img, nil
}

func (f *fakeCapture) DownloadImage(context.Context, model.EncodedImage) (model.Download, error) {
	return f.download, nil
}

type fixture struct {
	srv      *httptest.Server
	rec      *recorder
	capt     *fakeCapture
	sessions *session.Memory
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		rec:      &recorder{},
		capt:     &fakeCapture{img: model.NewEncodedImage("image/png", []byte{1, 2, 3})},
		sessions: session.NewMemory(16, time.Hour),
	}
	api := New(Deps{
		Sessions: f.sessions,
		Stores:   f.rec,
		Capture:  f.capt,
		Options:  config.DefaultOptions(),
		Form: config.FormCfg{
			DateFrom:          "2023-06-01",
			DateTo:            "2023-07-01",
			CloudCoverage:     22,
			DefaultDataSource: model.DataSourceSTAC,
			DefaultMapSource:  model.MapSourceOSM,
			DefaultDetection:  "trees",
			ScreenshotTarget:  "map",
			ScreenshotRegion:  model.Region{X: 32, Y: 30, Width: 420, Height: 420},
			ExtentSRID:        model.SRID4326,
		},
	})
	r := chi.NewRouter()
	api.Routes(r)
	f.srv = httptest.NewServer(r)
	t.Cleanup(f.srv.Close)
	return f
}

func (f *fixture) do(t *testing.T, method, path, body string) *http.Response {
	t.Helper()
	req, err := http.NewRequest(method, f.srv.URL+path, strings.NewReader(body))
	require.NoError(t, err)
	req.Header.Set(session.Header, "s1")
	req.Header.Set("Content-Type", "application/json")
	client := &http.Client{CheckRedirect: func(*http.Request, []*http.Request) error { return http.ErrUseLastResponse }}
	res, err := client.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { _ = res.Body.Close() })
	return res
}

func decode[T any](t *testing.T, res *http.Response) T {
	t.Helper()
	var v T
	require.NoError(t, json.NewDecoder(res.Body).Decode(&v))
	return v
}

func TestDrawEnd_DispatchesLoadImage(t *testing.T) {
	f := newFixture(t)

	res := f.do(t, http.MethodPost, "/api/draw-end", `{"extent":[18.0,59.3,18.1,59.35]}`)
	require.Equal(t, http.StatusAccepted, res.StatusCode)

	calls := f.rec.Calls()
	require.Len(t, calls, 1)
	assert.Equal(t, "s1", calls[0].session)
	assert.Equal(t, store.CmdLoadImage, calls[0].name)
	req := calls[0].arg.(model.ImageRequest)
	require.NotNil(t, req.Extent)
	assert.Equal(t, model.Extent{18.0, 59.3, 18.1, 59.35}, *req.Extent)
	assert.Equal(t, 22, req.CloudCoverage)
	assert.Equal(t, "2023-06-01", req.DateFrom.String())
}

func TestInvalidForm_Returns422AndPersistsTouched(t *testing.T) {
	f := newFixture(t)

	res := f.do(t, http.MethodPatch, "/api/form", `{"cloudCoverage":"150"}`)
	require.Equal(t, http.StatusOK, res.StatusCode)

	res = f.do(t, http.MethodPost, "/api/classify", "")
	require.Equal(t, http.StatusUnprocessableEntity, res.StatusCode)
	body := decode[errorBody](t, res)
	require.NotNil(t, body.Form)
	assert.False(t, body.Form.Filter.Valid)
	assert.Equal(t, []string{"max"}, body.Form.Filter.Errors["cloudCoverage"])
	assert.Empty(t, f.rec.Calls())

	st, ok, err := f.sessions.LoadState(context.Background(), "s1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.True(t, st.Filter["dateFrom"].Touched)
	assert.Equal(t, "150", st.Filter["cloudCoverage"].Value)

	res = f.do(t, http.MethodPatch, "/api/form", `{"cloudCoverage":"40"}`)
	require.Equal(t, http.StatusOK, res.StatusCode)
	res = f.do(t, http.MethodPost, "/api/classify", "")
	require.Equal(t, http.StatusAccepted, res.StatusCode)
	calls := f.rec.Calls()
	require.Len(t, calls, 1)
	assert.Nil(t, calls[0].arg.(model.ImageRequest).Extent)
	assert.Equal(t, 40, calls[0].arg.(model.ImageRequest).CloudCoverage)
}

func TestChangeEvents(t *testing.T) {
	f := newFixture(t)

	require.Equal(t, http.StatusAccepted, f.do(t, http.MethodPost, "/api/map-source", `{"target":{"value":"BING"}}`).StatusCode)
	require.Equal(t, http.StatusAccepted, f.do(t, http.MethodPost, "/api/data-source", `{"target":{"value":"SentinelProcessingApi"}}`).StatusCode)
	require.Equal(t, http.StatusAccepted, f.do(t, http.MethodPost, "/api/detection-type", `{"target":{"value":"cars"}}`).StatusCode)

	calls := f.rec.Calls()
	require.Len(t, calls, 3)
	assert.Equal(t, model.MapSourceSelection{Name: "BING"}, calls[0].arg)
	assert.Equal(t, model.DataSourceSentinel, calls[1].arg)
	assert.Equal(t, "cars", calls[2].arg)

	res := f.do(t, http.MethodGet, "/api/form", "")
	require.Equal(t, http.StatusOK, res.StatusCode)
	assert.Equal(t, model.DataSourceSentinel, decode[formView](t, res).DataSource)
}

func TestChangeEvents_UnknownSourceRejected(t *testing.T) {
	f := newFixture(t)

	assert.Equal(t, http.StatusBadRequest, f.do(t, http.MethodPost, "/api/data-source", `{"target":{"value":"FTP"}}`).StatusCode)
	assert.Equal(t, http.StatusBadRequest, f.do(t, http.MethodPost, "/api/map-source", `{"target":{"value":"GOOGLE"}}`).StatusCode)
	assert.Empty(t, f.rec.Calls())
	assert.Equal(t, model.DataSourceSTAC, decode[formView](t, f.do(t, http.MethodGet, "/api/form", "")).DataSource)

	f.rec.err = fmt.Errorf("data source: %w", store.ErrUnknownSource)
	res := f.do(t, http.MethodPost, "/api/data-source", `{"target":{"value":"BING"}}`)
	require.Equal(t, http.StatusBadRequest, res.StatusCode)
	assert.Equal(t, model.DataSourceSTAC, decode[formView](t, f.do(t, http.MethodGet, "/api/form", "")).DataSource)
}

func TestMalformedBody_Returns400(t *testing.T) {
	f := newFixture(t)

	assert.Equal(t, http.StatusBadRequest, f.do(t, http.MethodPost, "/api/map-source", `{"target":`).StatusCode)
	assert.Equal(t, http.StatusBadRequest, f.do(t, http.MethodPost, "/api/draw-end", `{}`).StatusCode)
	assert.Equal(t, http.StatusBadRequest, f.do(t, http.MethodPost, "/api/draw-end", "").StatusCode)
	assert.Equal(t, http.StatusBadRequest, f.do(t, http.MethodPatch, "/api/form", `{"nope":"1"}`).StatusCode)
	assert.Empty(t, f.rec.Calls())
}

func TestPatchForm_UnknownControlAppliesNothing(t *testing.T) {
	f := newFixture(t)

	res := f.do(t, http.MethodPatch, "/api/form", `{"cloudCoverage":"30","selectBox":"sentinel","zzz":"1"}`)
	require.Equal(t, http.StatusBadRequest, res.StatusCode)
	assert.Contains(t, decode[errorBody](t, res).Error, `"zzz"`)

	view := decode[formView](t, f.do(t, http.MethodGet, "/api/form", ""))
	assert.Equal(t, "22", view.Filter.Values["cloudCoverage"])
	assert.Equal(t, model.DataSourceSTAC, view.DataSource)
	assert.True(t, view.Filter.Pristine)
}

func TestStoreErrors(t *testing.T) {
	f := newFixture(t)

	f.rec.err = errors.New("stac unavailable")
	res := f.do(t, http.MethodPost, "/api/items/S2A_1/load", "")
	require.Equal(t, http.StatusBadGateway, res.StatusCode)
	assert.Contains(t, decode[errorBody](t, res).Error, "stac unavailable")

	f.rec.err = bus.ErrQueueFull
	res = f.do(t, http.MethodPost, "/api/stac/items/S2A_1/load", "")
	require.Equal(t, http.StatusServiceUnavailable, res.StatusCode)

	calls := f.rec.Calls()
	require.Len(t, calls, 2)
	assert.Equal(t, store.CmdLoadImageByID, calls[0].name)
	assert.Equal(t, "S2A_1", calls[0].arg)
	assert.Equal(t, store.CmdLoadImageSTAC, calls[1].name)
}

func TestScreenshotAndBingDetection(t *testing.T) {
	f := newFixture(t)

	res := f.do(t, http.MethodPost, "/api/screenshot", "")
	require.Equal(t, http.StatusAccepted, res.StatusCode)
	assert.Equal(t, f.capt.img, decode[map[string]model.EncodedImage](t, res)["image"])

	st, ok, err := f.sessions.LoadState(context.Background(), "s1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, f.capt.img, st.LastImage)

	require.Equal(t, http.StatusAccepted, f.do(t, http.MethodPost, "/api/bing-object-detection", "").StatusCode)
	calls := f.rec.Calls()
	require.Len(t, calls, 2)
	assert.Equal(t, store.CmdBingTreeDetection, calls[0].name)
	assert.Equal(t, store.CmdBingObjectDetection, calls[1].name)
}

func TestDownload(t *testing.T) {
	f := newFixture(t)

	f.capt.download = model.Download{Filename: "shot.png", MimeType: "image/png", Data: []byte{7, 7}}
	res := f.do(t, http.MethodGet, "/api/screenshot/download", "")
	require.Equal(t, http.StatusOK, res.StatusCode)
	assert.Equal(t, "image/png", res.Header.Get("Content-Type"))
	assert.Contains(t, res.Header.Get("Content-Disposition"), `filename=shot.png`)

	f.capt.download = model.Download{Filename: "shot.png", URL: "https://minio.local/shot.png"}
	res = f.do(t, http.MethodGet, "/api/screenshot/download", "")
	require.Equal(t, http.StatusFound, res.StatusCode)
	assert.Equal(t, "https://minio.local/shot.png", res.Header.Get("Location"))
	assert.Empty(t, f.rec.Calls())
}

func TestViewAndOptions(t *testing.T) {
	f := newFixture(t)

	vm := decode[model.ViewModel](t, f.do(t, http.MethodGet, "/api/vm", ""))
	assert.Equal(t, model.DataSourceSTAC, vm.DataSource)
	assert.Equal(t, model.MapSourceOSM, vm.MapSource)

	require.NoError(t, f.sessions.SaveView(context.Background(), "s1", model.ViewModel{MapSource: model.MapSourceBing, Loading: true}))
	vm = decode[model.ViewModel](t, f.do(t, http.MethodGet, "/api/vm", ""))
	assert.Equal(t, model.MapSourceBing, vm.MapSource)
	assert.True(t, vm.Loading)

	opts := decode[config.Options](t, f.do(t, http.MethodGet, "/api/options", ""))
	assert.Equal(t, config.DefaultOptions(), opts)
}
