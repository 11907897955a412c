// Package stac is a minimal STAC API client: item search and item lookup.
package stac

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"

	"github.com/mohammed-shakir/imagery-composer/internal/core/httpclient"
	"github.com/mohammed-shakir/imagery-composer/internal/core/model"
)

const upstream = "stac"

// PreferredAssets is the asset lookup order for a displayable image.
var PreferredAssets = []string{"visual", "rendered_preview", "thumbnail"}

type Asset struct {
	Href  string   `json:"href"`
	Type  string   `json:"type,omitempty"`
	Title string   `json:"title,omitempty"`
	Roles []string `json:"roles,omitempty"`
}

type Properties struct {
	Datetime   string   `json:"datetime"`
	CloudCover *float64 `json:"eo:cloud_cover,omitempty"`
	Platform   string   `json:"platform,omitempty"`
}

type Item struct {
	ID         string            `json:"id"`
	Collection string            `json:"collection,omitempty"`
	BBox       []float64         `json:"bbox,omitempty"`
	Geometry   *geojson.Geometry `json:"geometry,omitempty"`
	Properties Properties        `json:"properties"`
	Assets     map[string]Asset  `json:"assets"`
}

// PreferredAsset returns the first asset present in PreferredAssets order.
func (it Item) PreferredAsset() (string, Asset, bool) {
	for _, k := range PreferredAssets {
		if a, ok := it.Assets[k]; ok && a.Href != "" {
			return k, a, true
		}
	}
	return "", Asset{}, false
}

// Extent returns the item bbox as an extent, nil when absent.
func (it Item) Extent() *model.Extent {
	if len(it.BBox) < 4 {
		return nil
	}
	e := model.Extent{it.BBox[0], it.BBox[1], it.BBox[2], it.BBox[3]}
	if len(it.BBox) == 6 {
		e = model.Extent{it.BBox[0], it.BBox[1], it.BBox[3], it.BBox[4]}
	}
	return &e
}

type SearchParams struct {
	Bound    orb.Bound
	DateFrom model.Date
	DateTo   model.Date
	CloudMax int
	Limit    int
}

type searchBody struct {
	Collections []string          `json:"collections"`
	Intersects  *geojson.Geometry `json:"intersects"`
	Datetime    string            `json:"datetime"`
	Query       map[string]any    `json:"query,omitempty"`
	SortBy      []sortField       `json:"sortby,omitempty"`
	Limit       int               `json:"limit,omitempty"`
}

type sortField struct {
	Field     string `json:"field"`
	Direction string `json:"direction"`
}

type itemCollection struct {
	Features []Item `json:"features"`
}

type Client struct {
	base       string
	collection string
	limit      int
	http       *http.Client
}

func New(baseURL, collection string, limit int, hc *http.Client) (*Client, error) {
	if strings.TrimSpace(baseURL) == "" {
		return nil, errors.New("stac: base url is required")
	}
	if collection == "" {
		return nil, errors.New("stac: collection is required")
	}
	if limit <= 0 {
		limit = 10
	}
	if hc == nil {
		hc = httpclient.NewOutbound()
	}
	return &Client{base: strings.TrimRight(baseURL, "/"), collection: collection, limit: limit, http: hc}, nil
}

// Search returns the items intersecting the bound within the date range, least
// cloudy first.
func (c *Client) Search(ctx context.Context, p SearchParams) ([]Item, error) {
	limit := p.Limit
	if limit <= 0 {
		limit = c.limit
	}
	body := searchBody{
		Collections: []string{c.collection},
		Intersects:  geojson.NewGeometry(p.Bound.ToPolygon()),
		Datetime:    Datetime(p.DateFrom, p.DateTo),
		Query: map[string]any{
			"eo:cloud_cover": map[string]int{"lte": p.CloudMax},
		},
		SortBy: []sortField{{Field: "properties.eo:cloud_cover", Direction: "asc"}},
		Limit:  limit,
	}
	var out itemCollection
	if err := httpclient.DoJSON(ctx, c.http, upstream, http.MethodPost, c.base+"/search", body, &out); err != nil {
		return nil, err
	}
	return out.Features, nil
}

func (c *Client) Item(ctx context.Context, id string) (Item, error) {
	if strings.TrimSpace(id) == "" {
		return Item{}, errors.New("stac: item id is required")
	}
	u := fmt.Sprintf("%s/collections/%s/items/%s", c.base, url.PathEscape(c.collection), url.PathEscape(id))
	var it Item
	if err := httpclient.DoJSON(ctx, c.http, upstream, http.MethodGet, u, nil, &it); err != nil {
		return Item{}, err
	}
	return it, nil
}

// Datetime formats an inclusive day range as a STAC datetime interval.
func Datetime(from, to model.Date) string {
	return from.Format("2006-01-02") + "T00:00:00Z/" + to.EndOfDay().Format("2006-01-02T15:04:05Z")
}
