// Package http holds the CBT contract server handlers. Routes are mounted
// by Mount; process wiring (middleware, CORS, listeners) stays in cmd/cbtd.
package http

import (
	"context"
	"log"
	"reflect"
	"strings"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/mind-engage/mindengage-cbt/internal/auth"
	"github.com/mind-engage/mindengage-cbt/internal/config"
	"github.com/mind-engage/mindengage-cbt/internal/entitlement"
	"github.com/mind-engage/mindengage-cbt/internal/eventlog"
	"github.com/mind-engage/mindengage-cbt/internal/gateway"
	"github.com/mind-engage/mindengage-cbt/internal/storage"
	"github.com/mind-engage/mindengage-cbt/internal/store"
)

// Deps is everything the handlers need.
type Deps struct {
	Store   store.Store
	Auth    *auth.AuthService
	Gateway gateway.Provider
	Blobs   storage.BlobStore
	Events  *eventlog.Repo
	Config  config.Server
	Logger  *log.Logger

	gate     entitlement.Gate
	validate *validator.Validate
	now      func() time.Time
	locks    keyedMutex
}

func (d *Deps) init() {
	d.gate = entitlement.New(entitlement.Policy{FreeAttemptLimit: d.Config.FreeAttemptLimit})
	d.validate = validator.New(validator.WithRequiredStructEnabled())
	d.validate.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	if d.now == nil {
		d.now = time.Now
	}
	if d.Logger == nil {
		d.Logger = log.Default()
	}
}

// event appends to the event log. Failures are logged, never returned:
// the recorded attempt or payment is the source of truth.
func (d *Deps) event(ctx context.Context, typ, key string, payload any) {
	if d.Events == nil {
		return
	}
	if err := d.Events.Append(ctx, typ, key, payload); err != nil {
		d.Logger.Printf("event log %s %s: %v", typ, key, err)
	}
}

// keyedMutex serializes work per key (user+course), so two concurrent
// submissions cannot both spend one payment.
type keyedMutex struct {
	mu sync.Mutex
	m  map[string]*keyedEntry
}

type keyedEntry struct {
	mu   sync.Mutex
	refs int
}

func (k *keyedMutex) Lock(key string) func() {
	k.mu.Lock()
	if k.m == nil {
		k.m = map[string]*keyedEntry{}
	}
	e := k.m[key]
	if e == nil {
		e = &keyedEntry{}
		k.m[key] = e
	}
	e.refs++
	k.mu.Unlock()

	e.mu.Lock()
	return func() {
		e.mu.Unlock()
		k.mu.Lock()
		if e.refs--; e.refs == 0 {
			delete(k.m, key)
		}
		k.mu.Unlock()
	}
}
