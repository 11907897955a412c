// Package session persists per-user form state and view model snapshots.
package session

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/mohammed-shakir/imagery-composer/internal/core/model"
	"github.com/mohammed-shakir/imagery-composer/internal/form"
)

const (
	Header     = "X-Session-ID"
	CookieName = "session_id"
)

type State struct {
	Filter    form.State         `json:"filter"`
	Sources   form.State         `json:"sources"`
	LastImage model.EncodedImage `json:"lastImage,omitempty"`
	UpdatedAt time.Time          `json:"updatedAt"`
}

type Store interface {
	LoadState(ctx context.Context, id string) (State, bool, error)
	SaveState(ctx context.Context, id string, st State) error
	LoadView(ctx context.Context, id string) (model.ViewModel, bool, error)
	SaveView(ctx context.Context, id string, vm model.ViewModel) error
	Close() error
}

// ID returns the session id carried by r, or a new one when absent.
func ID(r *http.Request) (string, bool) {
	if id := strings.TrimSpace(r.Header.Get(Header)); validID(id) {
		return id, false
	}
	if c, err := r.Cookie(CookieName); err == nil && validID(c.Value) {
		return c.Value, false
	}
	return uuid.NewString(), true
}

func validID(id string) bool {
	return id != "" && len(id) <= 128
}

// Attach echoes the session id on the response.
func Attach(w http.ResponseWriter, id string, ttl time.Duration) {
	w.Header().Set(Header, id)
	http.SetCookie(w, &http.Cookie{
		Name:     CookieName,
		Value:    id,
		Path:     "/",
		MaxAge:   int(ttl.Seconds()),
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
}
