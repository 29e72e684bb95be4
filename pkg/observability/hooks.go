// Package observability provides hooks for metrics and logging.
//
// Libraries emit events through the registered hooks without depending on a
// metrics backend. The binary registers a Prometheus implementation at
// startup (see internal/metrics); tests and library users get no-ops.
//
// # Usage
//
// Register hooks at application startup:
//
//	func main() {
//	    observability.SetRefreshHooks(collector)
//	    observability.SetHTTPHooks(collector)
//	    // ... run application
//	}
//
// Libraries call hooks to emit events:
//
//	observability.Refresh().OnRefreshStart(ctx, runID, reason)
//	// ... rebuild packages.json ...
//	observability.Refresh().OnRefreshComplete(ctx, runID, stats, duration, err)
package observability

import (
	"context"
	"sync"
	"time"
)

// =============================================================================
// Refresh Hooks
// =============================================================================

// RefreshStats summarizes one rebuild of the aggregate output.
type RefreshStats struct {
	Projects int // projects listed upstream
	Packages int // projects that contributed at least one version
	Versions int // versions across all packages
}

// RefreshHooks receives events from the refresh pipeline.
type RefreshHooks interface {
	// OnRefreshStart records the start of a rebuild and why it happened.
	OnRefreshStart(ctx context.Context, runID, reason string)

	// OnRefreshComplete records the end of a rebuild.
	OnRefreshComplete(ctx context.Context, runID string, stats RefreshStats, duration time.Duration, err error)

	// OnRefreshSkipped records a request served from the existing output.
	OnRefreshSkipped(ctx context.Context)
}

// =============================================================================
// Cache Hooks
// =============================================================================

// CacheHooks receives events from the per-project cache.
type CacheHooks interface {
	// OnCacheHit records a project served from its cache record.
	OnCacheHit(ctx context.Context, project string)

	// OnCacheMiss records a project that had to be resolved upstream.
	OnCacheMiss(ctx context.Context, project string)

	// OnCacheSet records a cache write.
	OnCacheSet(ctx context.Context, project string, size int)
}

// =============================================================================
// HTTP Hooks
// =============================================================================

// HTTPHooks receives events from HTTP client operations.
type HTTPHooks interface {
	// OnRequest records an outgoing HTTP request.
	OnRequest(ctx context.Context, method, host, path string)

	// OnResponse records an HTTP response.
	OnResponse(ctx context.Context, method, host, path string, statusCode int, duration time.Duration)

	// OnError records an HTTP error (network failure, timeout).
	OnError(ctx context.Context, method, host, path string, err error)
}

// =============================================================================
// No-op Implementations
// =============================================================================

// NoopRefreshHooks is a no-op implementation of RefreshHooks.
type NoopRefreshHooks struct{}

func (NoopRefreshHooks) OnRefreshStart(context.Context, string, string) {}
func (NoopRefreshHooks) OnRefreshComplete(context.Context, string, RefreshStats, time.Duration, error) {
}
func (NoopRefreshHooks) OnRefreshSkipped(context.Context) {}

// NoopCacheHooks is a no-op implementation of CacheHooks.
type NoopCacheHooks struct{}

func (NoopCacheHooks) OnCacheHit(context.Context, string)      {}
func (NoopCacheHooks) OnCacheMiss(context.Context, string)     {}
func (NoopCacheHooks) OnCacheSet(context.Context, string, int) {}

// NoopHTTPHooks is a no-op implementation of HTTPHooks.
type NoopHTTPHooks struct{}

func (NoopHTTPHooks) OnRequest(context.Context, string, string, string)                      {}
func (NoopHTTPHooks) OnResponse(context.Context, string, string, string, int, time.Duration) {}
func (NoopHTTPHooks) OnError(context.Context, string, string, string, error)                 {}

// =============================================================================
// Global Hook Registry
// =============================================================================

var (
	refreshHooks RefreshHooks = NoopRefreshHooks{}
	cacheHooks   CacheHooks   = NoopCacheHooks{}
	httpHooks    HTTPHooks    = NoopHTTPHooks{}
	hooksMu      sync.RWMutex
)

// SetRefreshHooks registers custom refresh hooks.
// Call it once at startup before the first refresh.
func SetRefreshHooks(h RefreshHooks) {
	hooksMu.Lock()
	defer hooksMu.Unlock()
	if h != nil {
		refreshHooks = h
	}
}

// SetCacheHooks registers custom cache hooks.
func SetCacheHooks(h CacheHooks) {
	hooksMu.Lock()
	defer hooksMu.Unlock()
	if h != nil {
		cacheHooks = h
	}
}

// SetHTTPHooks registers custom HTTP hooks.
func SetHTTPHooks(h HTTPHooks) {
	hooksMu.Lock()
	defer hooksMu.Unlock()
	if h != nil {
		httpHooks = h
	}
}

// Refresh returns the registered refresh hooks.
func Refresh() RefreshHooks {
	hooksMu.RLock()
	defer hooksMu.RUnlock()
	return refreshHooks
}

// Cache returns the registered cache hooks.
func Cache() CacheHooks {
	hooksMu.RLock()
	defer hooksMu.RUnlock()
	return cacheHooks
}

// HTTP returns the registered HTTP hooks.
func HTTP() HTTPHooks {
	hooksMu.RLock()
	defer hooksMu.RUnlock()
	return httpHooks
}

// Reset restores all hooks to their no-op defaults.
// This is primarily useful for testing.
func Reset() {
	hooksMu.Lock()
	defer hooksMu.Unlock()
	refreshHooks = NoopRefreshHooks{}
	cacheHooks = NoopCacheHooks{}
	httpHooks = NoopHTTPHooks{}
}
