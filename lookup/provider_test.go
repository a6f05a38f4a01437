package lookup

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apexclock "github.com/apex-rules/apex/clock"
	"github.com/apex-rules/apex/model"
)

func inlineSpec(cacheEnabled bool, ttlSeconds int64) *model.LookupSpec {
	return &model.LookupSpec{
		DatasetKind: model.DatasetInline,
		KeyField:    "code",
		InlineDataset: &model.Dataset{
			KeyField: "code",
			Rows: []map[string]any{
				{"code": "US", "rate": 0.07},
				{"code": "CA", "rate": 0.05},
			},
		},
		CacheEnabled:    cacheEnabled,
		CacheTTLSeconds: ttlSeconds,
	}
}

func TestResolveInlineDatasetFound(t *testing.T) {
	p := NewProvider(apexclock.Real{})
	spec := inlineSpec(false, 0)

	row, found, err := p.Resolve(context.Background(), spec, "US")
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, 0.07, row["rate"])
}

func TestResolveInlineDatasetNotFound(t *testing.T) {
	p := NewProvider(apexclock.Real{})
	spec := inlineSpec(false, 0)

	_, found, err := p.Resolve(context.Background(), spec, "ZZ")
	require.NoError(t, err)
	assert.False(t, found)
}

func TestResolveCachesAcrossCalls(t *testing.T) {
	clk := apexclock.NewAdvancing(time.Unix(0, 0))
	p := NewProvider(clk)
	spec := inlineSpec(true, 60)

	_, _, err := p.Resolve(context.Background(), spec, "US")
	require.NoError(t, err)
	_, _, err = p.Resolve(context.Background(), spec, "US")
	require.NoError(t, err)

	hits, misses := p.CacheStats(spec)
	assert.Equal(t, int64(1), hits)
	assert.Equal(t, int64(1), misses)
}

func TestResolveCacheExpiresAfterTTL(t *testing.T) {
	clk := apexclock.NewAdvancing(time.Unix(0, 0))
	p := NewProvider(clk)
	spec := inlineSpec(true, 10)

	_, _, err := p.Resolve(context.Background(), spec, "US")
	require.NoError(t, err)

	clk.Advance(11 * time.Second)

	_, _, err = p.Resolve(context.Background(), spec, "US")
	require.NoError(t, err)

	hits, misses := p.CacheStats(spec)
	assert.Equal(t, int64(0), hits)
	assert.Equal(t, int64(2), misses)
}

func TestResolveDataSourceAdapterMissingErrors(t *testing.T) {
	p := NewProvider(apexclock.Real{})
	spec := &model.LookupSpec{DatasetKind: model.DatasetDataSource, DataSourceRef: "billing"}

	_, _, err := p.Resolve(context.Background(), spec, "US")
	require.Error(t, err)
	var dsErr *model.DataSourceError
	require.ErrorAs(t, err, &dsErr)
	assert.Equal(t, model.Configuration, dsErr.Class)
}
