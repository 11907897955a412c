// Package sentinel calls the Sentinel Hub Processing API.
package sentinel

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/paulmach/orb"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"

	"github.com/mohammed-shakir/imagery-composer/internal/core/httpclient"
	"github.com/mohammed-shakir/imagery-composer/internal/core/model"
)

const upstream = "sentinel"

// TrueColor renders RGB from the L2A bands.
const TrueColor = `//VERSION=3
function setup() {
  return { input: ["B02", "B03", "B04"], output: { bands: 3 } };
}
function evaluatePixel(s) {
  return [2.5 * s.B04, 2.5 * s.B03, 2.5 * s.B02];
}`

// SceneClassification colours the L2A scene classification layer.
const SceneClassification = `//VERSION=3
function setup() {
  return { input: ["SCL"], output: { bands: 3 } };
}
function evaluatePixel(s) {
  switch (s.SCL) {
    case 1: return [1, 0, 0.016];
    case 2: return [0.525, 0.525, 0.525];
    case 3: return [0.467, 0.298, 0.043];
    case 4: return [0.063, 0.827, 0.176];
    case 5: return [1, 1, 0];
    case 6: return [0, 0, 1];
    case 7: return [0.506, 0.506, 0.506];
    case 8: return [0.753, 0.753, 0.753];
    case 9: return [0.949, 0.949, 0.949];
    case 10: return [0.733, 0.773, 0.925];
    case 11: return [0.325, 1, 0.98];
    default: return [0, 0, 0];
  }
}`

type Auth struct {
	TokenURL     string
	ClientID     string
	ClientSecret string
	Token        string
}

type Client struct {
	base string
	http *http.Client
}

// New builds a client authenticated with client credentials when a client id
// is given, with a static bearer token otherwise.
func New(ctx context.Context, baseURL string, auth Auth, base *http.Client) (*Client, error) {
	if strings.TrimSpace(baseURL) == "" {
		return nil, errors.New("sentinel: base url is required")
	}
	if base == nil {
		base = httpclient.NewOutbound()
	}
	ctx = context.WithValue(ctx, oauth2.HTTPClient, base)

	var hc *http.Client
	switch {
	case auth.ClientID != "":
		cc := clientcredentials.Config{
			ClientID:     auth.ClientID,
			ClientSecret: auth.ClientSecret,
			TokenURL:     auth.TokenURL,
		}
		hc = cc.Client(ctx)
	case auth.Token != "":
		hc = oauth2.NewClient(ctx, oauth2.StaticTokenSource(&oauth2.Token{AccessToken: auth.Token, TokenType: "Bearer"}))
	default:
		return nil, errors.New("sentinel: client credentials or token required")
	}
	hc.Timeout = base.Timeout
	return &Client{base: strings.TrimRight(baseURL, "/"), http: hc}, nil
}

type ProcessRequest struct {
	Bound      orb.Bound
	DateFrom   model.Date
	DateTo     model.Date
	MaxCloud   int
	Evalscript string
	Width      int
	Height     int
}

type processBody struct {
	Input struct {
		Bounds struct {
			BBox       []float64         `json:"bbox"`
			Properties map[string]string `json:"properties"`
		} `json:"bounds"`
		Data []dataSpec `json:"data"`
	} `json:"input"`
	Output struct {
		Width     int        `json:"width"`
		Height    int        `json:"height"`
		Responses []response `json:"responses"`
	} `json:"output"`
	Evalscript string `json:"evalscript"`
}

type dataSpec struct {
	Type       string `json:"type"`
	DataFilter struct {
		TimeRange struct {
			From string `json:"from"`
			To   string `json:"to"`
		} `json:"timeRange"`
		MaxCloudCoverage int `json:"maxCloudCoverage"`
	} `json:"dataFilter"`
}

type response struct {
	Identifier string `json:"identifier"`
	Format     struct {
		Type string `json:"type"`
	} `json:"format"`
}

func buildBody(p ProcessRequest) processBody {
	var b processBody
	b.Input.Bounds.BBox = []float64{p.Bound.Min.Lon(), p.Bound.Min.Lat(), p.Bound.Max.Lon(), p.Bound.Max.Lat()}
	b.Input.Bounds.Properties = map[string]string{"crs": "http://www.opengis.net/def/crs/OGC/1.3/CRS84"}

	var d dataSpec
	d.Type = "sentinel-2-l2a"
	d.DataFilter.TimeRange.From = p.DateFrom.Format("2006-01-02T15:04:05Z")
	d.DataFilter.TimeRange.To = p.DateTo.EndOfDay().Format("2006-01-02T15:04:05Z")
	d.DataFilter.MaxCloudCoverage = p.MaxCloud
	b.Input.Data = []dataSpec{d}

	b.Output.Width, b.Output.Height = p.Width, p.Height
	var r response
	r.Identifier = "default"
	r.Format.Type = "image/png"
	b.Output.Responses = []response{r}

	b.Evalscript = p.Evalscript
	if b.Evalscript == "" {
		b.Evalscript = TrueColor
	}
	return b
}

// Process renders the request and returns it as a PNG data URL.
func (c *Client) Process(ctx context.Context, p ProcessRequest) (model.EncodedImage, error) {
	if p.Width <= 0 || p.Height <= 0 {
		p.Width, p.Height = 512, 512
	}
	body := buildBody(p)
	req, err := jsonRequest(ctx, c.base+"/api/v1/process", body)
	if err != nil {
		return "", err
	}
	req.Header.Set("Accept", "image/png")

	b, h, err := httpclient.Do(c.http, upstream, req)
	if err != nil {
		return "", err
	}
	mime := h.Get("Content-Type")
	if mime == "" {
		mime = "image/png"
	}
	if i := strings.Index(mime, ";"); i >= 0 {
		mime = mime[:i]
	}
	return model.NewEncodedImage(mime, b), nil
}

func jsonRequest(ctx context.Context, url string, body any) (*http.Request, error) {
	b, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("sentinel: encode request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(b))
	if err != nil {
		return nil, fmt.Errorf("sentinel: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	return req, nil
}
