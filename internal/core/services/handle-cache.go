package services

import (
	"context"
	"fmt"

	lru "github.com/hashicorp/golang-lru/v2"
	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/singleflight"

	"model-serving-gateway/internal/core/domain"
	"model-serving-gateway/internal/core/ports/output"
)

// HandleCache keeps loaded handles keyed by framework and artifact digest.
// Each entry remembers the store revision it was loaded from and is dropped
// once the store reports a different one. Concurrent misses for the same key
// and revision share one Load.
type HandleCache struct {
	handles *lru.Cache[string, cachedHandle]
	group   singleflight.Group
	metrics ports.Metrics
}

// NewHandleCache returns nil when size is not positive; a nil *HandleCache is
// valid and loads on every call.
func NewHandleCache(size int, metrics ports.Metrics) (*HandleCache, error) {
	if size <= 0 {
		return nil, nil
	}
	if metrics == nil {
		metrics = ports.NopMetrics{}
	}
	handles, err := lru.New[string, cachedHandle](size)
	if err != nil {
		return nil, fmt.Errorf("creating LRU cache: %w", err)
	}
	return &HandleCache{handles: handles, metrics: metrics}, nil
}

type cachedHandle struct {
	handle   ports.Handle
	revision string
}

func handleKey(mv *domain.ModelVersion) string {
	return string(mv.Framework) + "@" + mv.ArtifactDigest + "@" + mv.ArtifactPath
}

// Get returns the handle cached for mv at revision or calls load to produce
// one. revision is what the store reports for the blob right now.
func (c *HandleCache) Get(ctx context.Context, mv *domain.ModelVersion, revision string, load func(context.Context) (ports.Handle, error)) (ports.Handle, error) {
	if c == nil || mv.ArtifactDigest == "" {
		return load(ctx)
	}

	key := handleKey(mv)
	if e, ok := c.handles.Get(key); ok {
		if e.revision == revision {
			c.metrics.ObserveHandleCache(true)
			return e.handle, nil
		}
		c.handles.Remove(key)
		log.WithFields(log.Fields{
			"id":       mv.ID,
			"cached":   e.revision,
			"revision": revision,
		}).Info("artifact changed in store, dropping cached handle")
	}
	c.metrics.ObserveHandleCache(false)

	ch := c.group.DoChan(key+"#"+revision, func() (interface{}, error) {
		// Detached so one caller's cancellation does not fail the others.
		h, err := load(context.WithoutCancel(ctx))
		if err != nil {
			return nil, err
		}
		c.handles.Add(key, cachedHandle{handle: h, revision: revision})
		log.WithFields(log.Fields{"id": mv.ID, "framework": mv.Framework}).Debug("handle cached")
		return h, nil
	})

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(ports.Handle), nil
	}
}

// Invalidate drops any handle cached for mv.
func (c *HandleCache) Invalidate(mv *domain.ModelVersion) {
	if c == nil {
		return
	}
	c.handles.Remove(handleKey(mv))
}

func (c *HandleCache) Len() int {
	if c == nil {
		return 0
	}
	return c.handles.Len()
}
