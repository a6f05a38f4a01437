// Package lookup implements the Lookup Dataset Provider (spec §4.5):
// resolving a LookupSpec into a key→row function over inline, external-
// file, or data-source-backed datasets, with per-spec TTL+LRU caching and
// singleflight request coalescing. The external-data-source delegation
// follows the DataSourceAdapter seam the teacher's component interfaces
// establish (components/base exposes narrow behavior interfaces rather
// than concrete I/O); this package never performs I/O itself beyond
// reading a local external-file dataset.
package lookup

import (
	"context"
	"fmt"
	"os"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
	"gopkg.in/yaml.v3"

	apexclock "github.com/apex-rules/apex/clock"
	"github.com/apex-rules/apex/model"
)

type rawExternalDataset struct {
	KeyField string           `yaml:"key-field"`
	Rows     []map[string]any `yaml:"rows"`
}

// Provider resolves LookupSpecs to rows, per spec §4.5.
type Provider struct {
	clock    apexclock.Clock
	adapters map[string]model.DataSourceAdapter

	mu     sync.Mutex
	caches map[*model.LookupSpec]*ttlLRUCache
	group  singleflight.Group

	fileMu   sync.Mutex
	fileData map[string]*model.Dataset // loaded external-file datasets, cached for process lifetime
}

// NewProvider builds a Provider bound to clk. Register data-source
// adapters with RegisterAdapter before resolving data-source-backed
// specs.
func NewProvider(clk apexclock.Clock) *Provider {
	return &Provider{
		clock:    clk,
		adapters: make(map[string]model.DataSourceAdapter),
		caches:   make(map[*model.LookupSpec]*ttlLRUCache),
		fileData: make(map[string]*model.Dataset),
	}
}

// RegisterAdapter binds a DataSourceAdapter under the logical name used
// by LookupSpec.DataSourceRef.
func (p *Provider) RegisterAdapter(name string, adapter model.DataSourceAdapter) {
	p.adapters[name] = adapter
}

func (p *Provider) cacheFor(spec *model.LookupSpec) *ttlLRUCache {
	p.mu.Lock()
	defer p.mu.Unlock()
	c, ok := p.caches[spec]
	if !ok {
		ttl := time.Duration(spec.CacheTTLSeconds) * time.Second
		c = newTTLLRUCache(p.clock, 0, ttl)
		p.caches[spec] = c
	}
	return c
}

// Resolve returns the row matching key under spec, or (nil, false) if no
// row matches. Concurrent calls for the same (spec, key) pair coalesce
// into a single resolution, per spec §4.5/§5.
func (p *Provider) Resolve(ctx context.Context, spec *model.LookupSpec, key string) (map[string]any, bool, error) {
	if !spec.CacheEnabled {
		return p.resolveUncached(ctx, spec, key)
	}

	cache := p.cacheFor(spec)
	if row, found, ok := cache.get(key); ok {
		return row, found, nil
	}

	sfKey := fmt.Sprintf("%p:%s", spec, key)
	v, err, _ := p.group.Do(sfKey, func() (any, error) {
		row, found, err := p.resolveUncached(ctx, spec, key)
		if err != nil {
			return nil, err
		}
		cache.put(key, row, found)
		return resolveResult{row: row, found: found}, nil
	})
	if err != nil {
		return nil, false, err
	}
	res := v.(resolveResult)
	return res.row, res.found, nil
}

type resolveResult struct {
	row   map[string]any
	found bool
}

// CacheStats returns the hit/miss counters for spec's cache, for the
// Performance Monitor (spec §4.10). Returns (0, 0) if spec has not been
// resolved through a cache yet.
func (p *Provider) CacheStats(spec *model.LookupSpec) (hits, misses int64) {
	p.mu.Lock()
	c, ok := p.caches[spec]
	p.mu.Unlock()
	if !ok {
		return 0, 0
	}
	return c.stats()
}

func (p *Provider) resolveUncached(ctx context.Context, spec *model.LookupSpec, key string) (map[string]any, bool, error) {
	switch spec.DatasetKind {
	case model.DatasetInline:
		return resolveFromDataset(spec.InlineDataset, key)
	case model.DatasetExternalFile:
		ds, err := p.loadExternalFile(spec.ExternalFile)
		if err != nil {
			return nil, false, &model.DataSourceError{Class: model.Configuration, Op: "load-external-file", Err: err}
		}
		return resolveFromDataset(ds, key)
	case model.DatasetDataSource:
		adapter, ok := p.adapters[spec.DataSourceRef]
		if !ok {
			return nil, false, &model.DataSourceError{Class: model.Configuration, Op: "resolve-adapter", Err: fmt.Errorf("no data source adapter registered for %q", spec.DataSourceRef)}
		}
		keyField := spec.KeyField
		if keyField == "" {
			keyField = "key"
		}
		row, err := adapter.Query(ctx, spec.QueryRef, map[string]any{keyField: key})
		if err != nil {
			return nil, false, err
		}
		return row, row != nil, nil
	default:
		return nil, false, fmt.Errorf("lookup: unknown dataset kind %q", spec.DatasetKind)
	}
}

func resolveFromDataset(ds *model.Dataset, key string) (map[string]any, bool, error) {
	if ds == nil {
		return nil, false, nil
	}
	idx := ds.Index()
	row, ok := idx.Lookup(key)
	return row, ok, nil
}

func (p *Provider) loadExternalFile(path string) (*model.Dataset, error) {
	p.fileMu.Lock()
	defer p.fileMu.Unlock()
	if ds, ok := p.fileData[path]; ok {
		return ds, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var raw rawExternalDataset
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, err
	}
	ds := &model.Dataset{Rows: raw.Rows, KeyField: raw.KeyField}
	p.fileData[path] = ds
	return ds, nil
}
