package stac

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/paulmach/orb"

	"github.com/mohammed-shakir/imagery-composer/internal/core/model"
)

const searchResponse = `{
  "type": "FeatureCollection",
  "features": [
    {"id": "S2A_1", "bbox": [17.9, 59.2, 18.2, 59.4],
     "properties": {"datetime": "2023-06-15T10:20:00Z", "eo:cloud_cover": 3.5},
     "assets": {"thumbnail": {"href": "https://x/thumb.jpg"}, "visual": {"href": "https://x/visual.tif", "type": "image/tiff"}}},
    {"id": "S2B_2",
     "properties": {"datetime": "2023-06-20T10:20:00Z", "eo:cloud_cover": 12},
     "assets": {"thumbnail": {"href": "https://x/thumb2.jpg"}}}
  ]
}`

func TestSearch_RequestShape(t *testing.T) {
	var body map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/v1/search" {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		b, _ := io.ReadAll(r.Body)
		if err := json.Unmarshal(b, &body); err != nil {
			t.Errorf("bad body: %v", err)
		}
		_, _ = w.Write([]byte(searchResponse))
	}))
	defer srv.Close()

	c, err := New(srv.URL+"/v1/", "sentinel-2-l2a", 5, nil)
	if err != nil {
		t.Fatal(err)
	}
	items, err := c.Search(context.Background(), SearchParams{
		Bound:    orb.Bound{Min: orb.Point{17.9, 59.2}, Max: orb.Point{18.2, 59.4}},
		DateFrom: model.MustParseDate("2023-06-01"),
		DateTo:   model.MustParseDate("2023-07-01"),
		CloudMax: 22,
	})
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(items) != 2 || items[0].ID != "S2A_1" {
		t.Fatalf("unexpected items %+v", items)
	}

	if got := body["datetime"]; got != "2023-06-01T00:00:00Z/2023-07-01T23:59:59Z" {
		t.Fatalf("datetime=%v", got)
	}
	if got := body["limit"]; got != float64(5) {
		t.Fatalf("limit=%v", got)
	}
	q := body["query"].(map[string]any)["eo:cloud_cover"].(map[string]any)
	if q["lte"] != float64(22) {
		t.Fatalf("cloud query=%v", q)
	}
	geom := body["intersects"].(map[string]any)
	if geom["type"] != "Polygon" {
		t.Fatalf("intersects=%v", geom)
	}
	cols := body["collections"].([]any)
	if len(cols) != 1 || cols[0] != "sentinel-2-l2a" {
		t.Fatalf("collections=%v", cols)
	}
}

func TestItem_PreferredAssetOrder(t *testing.T) {
	var fc itemCollection
	if err := json.Unmarshal([]byte(searchResponse), &fc); err != nil {
		t.Fatal(err)
	}
	key, a, ok := fc.Features[0].PreferredAsset()
	if !ok || key != "visual" || a.Href != "https://x/visual.tif" {
		t.Fatalf("first item asset=%s %+v", key, a)
	}
	key, _, ok = fc.Features[1].PreferredAsset()
	if !ok || key != "thumbnail" {
		t.Fatalf("second item asset=%s", key)
	}
	if _, _, ok := (Item{}).PreferredAsset(); ok {
		t.Fatal("item without assets must report no asset")
	}
	if e := fc.Features[0].Extent(); e == nil || *e != (model.Extent{17.9, 59.2, 18.2, 59.4}) {
		t.Fatalf("extent=%v", e)
	}
	if fc.Features[1].Extent() != nil {
		t.Fatal("missing bbox must give nil extent")
	}
	if fc.Features[0].Properties.CloudCover == nil || *fc.Features[0].Properties.CloudCover != 3.5 {
		t.Fatal("cloud cover not decoded")
	}
}

func TestItem_Lookup(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/collections/sentinel-2-l2a/items/S2A_1" {
			http.NotFound(w, r)
			return
		}
		_, _ = w.Write([]byte(`{"id":"S2A_1","properties":{"datetime":"2023-06-15T10:20:00Z"},"assets":{"rendered_preview":{"href":"https://x/p.png"}}}`))
	}))
	defer srv.Close()

	c, _ := New(srv.URL, "sentinel-2-l2a", 0, nil)
	it, err := c.Item(context.Background(), "S2A_1")
	if err != nil {
		t.Fatalf("Item: %v", err)
	}
	if k, _, _ := it.PreferredAsset(); k != "rendered_preview" {
		t.Fatalf("asset=%s", k)
	}
	if _, err := c.Item(context.Background(), "missing"); err == nil {
		t.Fatal("expected error for 404")
	}
	if _, err := c.Item(context.Background(), " "); err == nil {
		t.Fatal("expected error for blank id")
	}
}
