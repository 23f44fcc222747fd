package token

import (
	"context"
	"sort"
	"sync"

	"go.uber.org/zap"

	boterr "github.com/alexvolkov/dexbot/internal/errors"
	"github.com/alexvolkov/dexbot/internal/retry"
)

// RegistrySource is the verified-asset lookup consulted before any venue
// probing. Registry entries never require venue confirmation.
type RegistrySource interface {
	Lookup(assetID string) (Info, bool)
	All() []Info
}

// Prober is the venue-side metadata lookup. Probe fails with KindNotFound
// when the venue does not know the asset.
type Prober interface {
	Name() string
	Probe(ctx context.Context, assetID string) (Info, error)
}

// Resolver resolves asset metadata from the verified registry or, failing
// that, by probing venues in registration order. Positive results are cached
// indefinitely; ids confirmed unsupported by every venue land in a negative
// cache so repeated lookups fail fast.
type Resolver struct {
	registry RegistrySource
	probers  []Prober
	retry    retry.Policy
	log      *zap.Logger

	mu       sync.Mutex
	positive map[string]Info
	negative map[string]struct{}
}

func NewResolver(registry RegistrySource, probers []Prober, policy retry.Policy, log *zap.Logger) *Resolver {
	return &Resolver{
		registry: registry,
		probers:  probers,
		retry:    policy,
		log:      log,
		positive: make(map[string]Info),
		negative: make(map[string]struct{}),
	}
}

// Known returns every asset the process can name: all registry entries plus
// every venue-confirmed asset, sorted by symbol.
func (r *Resolver) Known() []Info {
	known := r.registry.All()
	r.mu.Lock()
	for _, info := range r.positive {
		known = append(known, info)
	}
	r.mu.Unlock()
	sort.Slice(known, func(i, j int) bool { return known[i].Symbol < known[j].Symbol })
	return known
}

func (r *Resolver) Resolve(ctx context.Context, assetID string) (Info, error) {
	if assetID == "" {
		return Info{}, boterr.New(boterr.KindInvalidInput, "empty asset id")
	}

	if info, ok := r.registry.Lookup(assetID); ok {
		return info, nil
	}

	r.mu.Lock()
	if info, ok := r.positive[assetID]; ok {
		r.mu.Unlock()
		return info, nil
	}
	if _, ok := r.negative[assetID]; ok {
		r.mu.Unlock()
		return Info{}, boterr.Newf(boterr.KindNotFound, "asset %s is not supported", assetID)
	}
	r.mu.Unlock()

	allNotFound := true
	for _, p := range r.probers {
		var info Info
		err := r.retry.Do(ctx, func() error {
			var probeErr error
			info, probeErr = p.Probe(ctx, assetID)
			return probeErr
		})
		if err == nil {
			r.mu.Lock()
			r.positive[assetID] = info
			r.mu.Unlock()
			return info, nil
		}
		if boterr.KindOf(err) != boterr.KindNotFound {
			allNotFound = false
		}
		r.log.Debug("venue probe failed",
			zap.String("venue", p.Name()),
			zap.String("asset", assetID),
			zap.Error(err))
	}

	if allNotFound {
		r.mu.Lock()
		r.negative[assetID] = struct{}{}
		r.mu.Unlock()
	}
	return Info{}, boterr.Newf(boterr.KindNotFound, "token information not found for asset %s", assetID)
}
