package sitepilot

import (
	"context"
	"sync"
	"time"

	"github.com/m-mizutani/goerr/v2"
)

// ToolSource is the backend a catalog discovers tools from and executes
// them against. The namespace scopes which tool group is visible; two
// namespaces never share a tool group, so each workflow type only sees the
// operations it is allowed to call.
type ToolSource interface {
	ListTools(ctx context.Context, namespace string) ([]ToolSpec, error)
	CallTool(ctx context.Context, namespace, name string, args map[string]any) (map[string]any, error)
}

// DefaultCatalogTTL is how long a discovered snapshot may be reused across
// turns of the same session before re-discovery.
const DefaultCatalogTTL = 300 * time.Second

// Snapshot is one discovered tool set plus its fetch time.
type Snapshot struct {
	Namespace string
	Tools     []ToolSpec
	FetchedAt time.Time
}

// Find returns the spec with the given name, or nil.
func (s *Snapshot) Find(name string) *ToolSpec {
	for i := range s.Tools {
		if s.Tools[i].Name == name {
			return &s.Tools[i]
		}
	}
	return nil
}

// Names returns the tool names in catalog order.
func (s *Snapshot) Names() []string {
	names := make([]string, len(s.Tools))
	for i, t := range s.Tools {
		names[i] = t.Name
	}
	return names
}

// Catalog discovers and caches tool snapshots per namespace. The cache is
// the only cross-turn shared resource of a session; it is refreshed
// wholesale, never partially invalidated.
type Catalog struct {
	source ToolSource
	ttl    time.Duration
	clock  func() time.Time

	mu    sync.Mutex
	cache map[string]*Snapshot
}

// CatalogOption configures a Catalog.
type CatalogOption func(*Catalog)

// WithCatalogTTL overrides the snapshot reuse window.
func WithCatalogTTL(ttl time.Duration) CatalogOption {
	return func(c *Catalog) {
		c.ttl = ttl
	}
}

// WithCatalogClock replaces the time source. Used by tests.
func WithCatalogClock(clock func() time.Time) CatalogOption {
	return func(c *Catalog) {
		c.clock = clock
	}
}

// NewCatalog creates a catalog over the given source.
func NewCatalog(source ToolSource, options ...CatalogOption) *Catalog {
	c := &Catalog{
		source: source,
		ttl:    DefaultCatalogTTL,
		clock:  time.Now,
		cache:  map[string]*Snapshot{},
	}
	for _, opt := range options {
		opt(c)
	}
	return c
}

// Discover returns a snapshot for the namespace, reusing the cached one
// while it is fresh. An unreachable backend or an empty tool list is a
// discovery failure: the caller cannot proceed to planning this turn.
func (c *Catalog) Discover(ctx context.Context, namespace string) (*Snapshot, error) {
	logger := LoggerFromContext(ctx)

	c.mu.Lock()
	cached, ok := c.cache[namespace]
	c.mu.Unlock()
	if ok && c.clock().Sub(cached.FetchedAt) < c.ttl {
		logger.Debug("reusing cached tool snapshot",
			"namespace", namespace, "tools", len(cached.Tools))
		return cached, nil
	}

	tools, err := c.source.ListTools(ctx, namespace)
	if err != nil {
		return nil, goerr.Wrap(ErrDiscovery, "failed to list tools",
			goerr.V("namespace", namespace), goerr.V("cause", err.Error()))
	}
	if len(tools) == 0 {
		return nil, goerr.Wrap(ErrDiscovery, "no tools available",
			goerr.V("namespace", namespace))
	}

	snapshot := &Snapshot{
		Namespace: namespace,
		Tools:     tools,
		FetchedAt: c.clock(),
	}
	c.mu.Lock()
	c.cache[namespace] = snapshot
	c.mu.Unlock()

	logger.Debug("discovered tools", "namespace", namespace, "names", snapshot.Names())
	return snapshot, nil
}

// Invalidate drops the cached snapshot for a namespace so the next
// Discover re-fetches.
func (c *Catalog) Invalidate(namespace string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.cache, namespace)
}

// Source exposes the underlying tool source for invocation.
func (c *Catalog) Source() ToolSource { return c.source }
