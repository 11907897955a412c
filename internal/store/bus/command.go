// Package bus carries store commands over Kafka: the server publishes them and
// the store worker applies them to its in-process stores.
package bus

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/mohammed-shakir/imagery-composer/internal/core/model"
	"github.com/mohammed-shakir/imagery-composer/internal/store"
)

// Command is the wire form of one store call.
type Command struct {
	ID      uuid.UUID       `json:"id"`
	Session string          `json:"session"`
	Name    string          `json:"name"`
	Payload json.RawMessage `json:"payload"`
	TS      time.Time       `json:"ts"`
}

var errUnknownCommand = errors.New("unknown command")

func NewCommand(session, name string, payload any) (Command, error) {
	b, err := json.Marshal(payload)
	if err != nil {
		return Command{}, fmt.Errorf("encode %s payload: %w", name, err)
	}
	return Command{
		ID:      uuid.New(),
		Session: session,
		Name:    name,
		Payload: b,
		TS:      time.Now().UTC(),
	}, nil
}

func (c Command) Validate() error {
	if c.ID == uuid.Nil {
		return errors.New("command id is required")
	}
	if c.Session == "" {
		return errors.New("command session is required")
	}
	if len(c.Payload) == 0 {
		return fmt.Errorf("command %s: payload is required", c.Name)
	}
	switch c.Name {
	case store.CmdLoadImage, store.CmdClassify, store.CmdObjectDetection,
		store.CmdMapSource, store.CmdDataSource, store.CmdDetectionType,
		store.CmdBingTreeDetection, store.CmdBingObjectDetection,
		store.CmdLoadImageByID, store.CmdLoadImageSTAC:
		return nil
	}
	return fmt.Errorf("%w %q", errUnknownCommand, c.Name)
}

// Apply decodes the payload and calls the matching method of st.
func Apply(ctx context.Context, st store.Store, c Command) error {
	switch c.Name {
	case store.CmdLoadImage, store.CmdClassify, store.CmdObjectDetection:
		var req model.ImageRequest
		if err := decode(c, &req); err != nil {
			return err
		}
		switch c.Name {
		case store.CmdLoadImage:
			return st.LoadImage(ctx, req)
		case store.CmdClassify:
			return st.Classify(ctx, req)
		default:
			return st.ObjectDetection(ctx, req)
		}
	case store.CmdMapSource:
		var sel model.MapSourceSelection
		if err := decode(c, &sel); err != nil {
			return err
		}
		return st.MapSource(ctx, sel)
	case store.CmdBingTreeDetection, store.CmdBingObjectDetection:
		var img model.EncodedImage
		if err := decode(c, &img); err != nil {
			return err
		}
		if c.Name == store.CmdBingTreeDetection {
			return st.BingTreeDetection(ctx, img)
		}
		return st.BingObjectDetection(ctx, img)
	case store.CmdDataSource, store.CmdDetectionType, store.CmdLoadImageByID, store.CmdLoadImageSTAC:
		var v string
		if err := decode(c, &v); err != nil {
			return err
		}
		switch c.Name {
		case store.CmdDataSource:
			return st.DataSource(ctx, v)
		case store.CmdDetectionType:
			return st.DetectionType(ctx, v)
		case store.CmdLoadImageByID:
			return st.LoadImageByID(ctx, v)
		default:
			return st.LoadImageSTAC(ctx, v)
		}
	}
	return fmt.Errorf("%w %q", errUnknownCommand, c.Name)
}

func decode(c Command, out any) error {
	if err := json.Unmarshal(c.Payload, out); err != nil {
		return fmt.Errorf("decode %s payload: %w", c.Name, err)
	}
	return nil
}
