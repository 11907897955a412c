// Package detection talks to the object/tree detection service.
package detection

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/mohammed-shakir/imagery-composer/internal/core/httpclient"
	"github.com/mohammed-shakir/imagery-composer/internal/core/model"
)

const upstream = "detection"

type Result struct {
	Detections []model.Detection  `json:"detections"`
	Overlay    model.EncodedImage `json:"overlay,omitempty"`
}

type request struct {
	Image model.EncodedImage `json:"image"`
	Type  string             `json:"type,omitempty"`
}

type Client struct {
	base string
	http *http.Client
}

func New(baseURL string, hc *http.Client) (*Client, error) {
	if strings.TrimSpace(baseURL) == "" {
		return nil, errors.New("detection: base url is required")
	}
	if hc == nil {
		hc = httpclient.NewOutbound()
	}
	return &Client{base: strings.TrimRight(baseURL, "/"), http: hc}, nil
}

func (c *Client) TreeDetection(ctx context.Context, img model.EncodedImage) (Result, error) {
	return c.post(ctx, "/detect/trees", request{Image: img})
}

func (c *Client) ObjectDetection(ctx context.Context, img model.EncodedImage, detectionType string) (Result, error) {
	return c.post(ctx, "/detect/objects", request{Image: img, Type: detectionType})
}

func (c *Client) post(ctx context.Context, path string, in request) (Result, error) {
	if in.Image == "" {
		return Result{}, errors.New("detection: image is required")
	}
	var out Result
	if err := httpclient.DoJSON(ctx, c.http, upstream, http.MethodPost, c.base+path, in, &out); err != nil {
		return Result{}, err
	}
	return out, nil
}
