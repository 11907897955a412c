// Package store defines the state holder boundary the composer dispatches to.
package store

import (
	"context"
	"errors"

	"github.com/mohammed-shakir/imagery-composer/internal/core/model"
)

// ErrUnknownSource marks a map or data source missing from the configured options.
var ErrUnknownSource = errors.New("unknown source")

// Store receives user intents. Implementations either apply them in process
// or forward them to a worker.
type Store interface {
	LoadImage(ctx context.Context, req model.ImageRequest) error
	LoadImageByID(ctx context.Context, itemID string) error
	Classify(ctx context.Context, req model.ImageRequest) error
	ObjectDetection(ctx context.Context, req model.ImageRequest) error
	MapSource(ctx context.Context, sel model.MapSourceSelection) error
	DataSource(ctx context.Context, source string) error
	DetectionType(ctx context.Context, detectionType string) error
	BingTreeDetection(ctx context.Context, img model.EncodedImage) error
	BingObjectDetection(ctx context.Context, img model.EncodedImage) error
	LoadImageSTAC(ctx context.Context, itemID string) error
}

// Command names used on the wire and in metrics.
const (
	CmdLoadImage           = "loadImage"
	CmdLoadImageByID       = "loadImageById"
	CmdClassify            = "classify"
	CmdObjectDetection     = "objectDetection"
	CmdMapSource           = "mapSource"
	CmdDataSource          = "dataSource"
	CmdDetectionType       = "detectionType"
	CmdBingTreeDetection   = "bingTreeDetection"
	CmdBingObjectDetection = "bingObjectDetection"
	CmdLoadImageSTAC       = "loadImageSTAC"
)

// Resolver returns the Store bound to one session.
type Resolver interface {
	For(sessionID string) Store
}

// ResolverFunc adapts a function to Resolver.
type ResolverFunc func(sessionID string) Store

func (f ResolverFunc) For(sessionID string) Store { return f(sessionID) }
