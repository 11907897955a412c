package model

import (
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
)

// NewEncodedImage wraps raw image bytes into a data URL.
func NewEncodedImage(mime string, b []byte) EncodedImage {
	if mime == "" {
		mime = "application/octet-stream"
	}
	return EncodedImage("data:" + mime + ";base64," + base64.StdEncoding.EncodeToString(b))
}

// Decode splits a data URL into its mime type and raw bytes.
func (e EncodedImage) Decode() (string, []byte, error) {
	s := string(e)
	if !strings.HasPrefix(s, "data:") {
		return "", nil, errors.New("encoded image: missing data: prefix")
	}
	meta, payload, ok := strings.Cut(s[len("data:"):], ",")
	if !ok {
		return "", nil, errors.New("encoded image: missing payload")
	}
	mime, enc, _ := strings.Cut(meta, ";")
	if enc != "base64" {
		return "", nil, fmt.Errorf("encoded image: unsupported encoding %q", enc)
	}
	b, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return "", nil, fmt.Errorf("encoded image: %w", err)
	}
	return mime, b, nil
}

func (e EncodedImage) MimeType() string {
	s := strings.TrimPrefix(string(e), "data:")
	mime, _, _ := strings.Cut(s, ";")
	return mime
}

// ImageResult is what the store shows for a loaded image or overlay.
type ImageResult struct {
	Source   string       `json:"source"`
	ItemID   string       `json:"itemId,omitempty"`
	URL      string       `json:"url,omitempty"`
	Data     EncodedImage `json:"data,omitempty"`
	Extent   *Extent      `json:"extent,omitempty"`
	Datetime string       `json:"datetime,omitempty"`
	Cloud    *float64     `json:"cloudCoverage,omitempty"`
}

type Detection struct {
	Label string     `json:"label"`
	Score float64    `json:"score"`
	Box   [4]float64 `json:"box"`
}

// Download is a rendered screenshot ready to hand to the user, either as a
// link to object storage or as raw bytes.
type Download struct {
	Filename string `json:"filename"`
	MimeType string `json:"mimeType"`
	URL      string `json:"url,omitempty"`
	Data     []byte `json:"-"`
}
