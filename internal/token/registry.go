package token

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	boterr "github.com/alexvolkov/dexbot/internal/errors"
	"github.com/alexvolkov/dexbot/internal/httpx"
)

// Registry serves the externally verified asset list as a read-through
// cache. A background poller refreshes the snapshot at a fixed cadence;
// refresh failures keep the previous snapshot.
type Registry struct {
	http     *httpx.Client
	url      string
	interval time.Duration
	log      *zap.Logger

	mu     sync.RWMutex
	byID   map[string]Info
	loaded bool
}

type registryEntry struct {
	AssetID  string `json:"assetId"`
	Symbol   string `json:"symbol"`
	Name     string `json:"name"`
	Decimals int    `json:"decimals"`
}

func NewRegistry(httpClient *httpx.Client, url string, interval time.Duration, log *zap.Logger) *Registry {
	if interval <= 0 {
		interval = 30 * time.Minute
	}
	return &Registry{
		http:     httpClient,
		url:      url,
		interval: interval,
		log:      log,
		byID:     make(map[string]Info),
	}
}

// Start performs an initial refresh and launches the background poller.
// The poller stops when ctx is done.
func (r *Registry) Start(ctx context.Context) {
	if err := r.refresh(ctx); err != nil {
		r.log.Warn("initial verified asset refresh failed", zap.Error(err))
	}
	go func() {
		ticker := time.NewTicker(r.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := r.refresh(ctx); err != nil {
					r.log.Warn("verified asset refresh failed", zap.Error(err))
				}
			}
		}
	}()
}

func (r *Registry) refresh(ctx context.Context) error {
	var entries []registryEntry
	if err := httpx.GetJSON(ctx, r.http, r.url, &entries); err != nil {
		return boterr.Wrap(boterr.KindNetworkFault, "fetch verified assets", err)
	}

	next := make(map[string]Info, len(entries))
	for _, e := range entries {
		if e.AssetID == "" {
			continue
		}
		next[e.AssetID] = Info{
			AssetID:  e.AssetID,
			Symbol:   e.Symbol,
			Name:     e.Name,
			Decimals: e.Decimals,
			Class:    ClassRegistry,
		}
	}

	r.mu.Lock()
	r.byID = next
	r.loaded = true
	r.mu.Unlock()

	r.log.Debug("verified assets refreshed", zap.Int("count", len(next)))
	return nil
}

// Lookup returns the registry entry for an asset id, if present.
func (r *Registry) Lookup(assetID string) (Info, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	info, ok := r.byID[assetID]
	return info, ok
}

// All returns a snapshot of every registry entry.
func (r *Registry) All() []Info {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Info, 0, len(r.byID))
	for _, info := range r.byID {
		out = append(out, info)
	}
	return out
}
