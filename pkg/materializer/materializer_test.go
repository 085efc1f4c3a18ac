package materializer

import (
	"context"
	"strings"
	"testing"

	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"
	"github.com/pkg/errors"
	"github.com/rollkeeper/rollkeeper/pkg/consts"
	"github.com/rollkeeper/rollkeeper/pkg/registry"
	"github.com/rollkeeper/rollkeeper/pkg/stats"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeExecCH struct {
	execs   []string
	failOn  string
	failErr error
}

func (f *fakeExecCH) Exec(ctx context.Context, query string, args ...any) error {
	f.execs = append(f.execs, query)
	if f.failOn != "" && strings.Contains(query, f.failOn) {
		return f.failErr
	}
	return nil
}

// fakeNameRows is a minimal driver.Rows yielding a fixed list of table
// names, the shape system.tables queries scan into.
type fakeNameRows struct {
	names []string
	idx   int
}

func (f *fakeNameRows) Next() bool {
	if f.idx < len(f.names) {
		f.idx++
		return true
	}
	return false
}

func (f *fakeNameRows) Scan(dest ...any) error {
	*dest[0].(*string) = f.names[f.idx-1]
	return nil
}

func (f *fakeNameRows) Close() error                    { return nil }
func (f *fakeNameRows) Err() error                      { return nil }
func (f *fakeNameRows) ColumnTypes() []driver.ColumnType { return nil }
func (f *fakeNameRows) Columns() []string               { return nil }
func (f *fakeNameRows) ScanStruct(dest any) error        { return nil }
func (f *fakeNameRows) Totals(dest ...any) error         { return nil }

type fakeQueryCH struct {
	tables []string
}

func (f *fakeQueryCH) Query(ctx context.Context, query string, args ...any) (driver.Rows, error) {
	return &fakeNameRows{names: f.tables}, nil
}

func TestCreateSQL_GroupByAndMetrics(t *testing.T) {
	mv := registry.MV{
		Name:    "mv_type_only",
		GroupBy: []string{"type"},
		Aggs:    registry.CanonicalAggs(),
	}
	sql := CreateSQL(mv)

	assert.Contains(t, sql, "CREATE TABLE IF NOT EXISTS mv_type_only")
	assert.Contains(t, sql, "ENGINE = MergeTree ORDER BY (type)")
	assert.Contains(t, sql, "COUNT(*) AS count_rows")
	assert.Contains(t, sql, "SUM(bid_price) AS sum_bid_price")
	assert.Contains(t, sql, "COUNT(total_price) AS count_total_price")
	assert.Contains(t, sql, "FROM events")
	assert.Contains(t, sql, "GROUP BY type")
}

func TestPartitionCreateSQL_DropsTypeFromGroupByAndFilters(t *testing.T) {
	parent := registry.MV{
		Name:    "mv_type_country",
		GroupBy: []string{"type", "country"},
		Aggs:    registry.CanonicalAggs(),
	}
	sql := PartitionCreateSQL(parent, "click")

	assert.Contains(t, sql, "CREATE TABLE IF NOT EXISTS mv_type_country_type_click")
	assert.Contains(t, sql, "ENGINE = MergeTree ORDER BY (country)")
	assert.Contains(t, sql, "WHERE type = 'click'")
	assert.Contains(t, sql, "GROUP BY country")
	assert.NotContains(t, sql, "ORDER BY (type, country)")
}

func TestBuild_CreatesEveryRegistryMV(t *testing.T) {
	ch := &fakeExecCH{}
	m := New()

	mvs, err := m.Build(context.Background(), ch)
	require.NoError(t, err)
	assert.Len(t, mvs, len(registry.Catalog()))
	assert.Len(t, ch.execs, len(registry.Catalog()))
}

func TestBuild_AbortsOnFirstFailure(t *testing.T) {
	ch := &fakeExecCH{failOn: "mv_day_fast", failErr: assertErr}
	m := New()

	_, err := m.Build(context.Background(), ch)
	require.Error(t, err)
}

func TestPartition_SkipsMVsWithoutStatsOrBelowThreshold(t *testing.T) {
	ch := &fakeExecCH{}
	m := New()
	mvs := []registry.MV{
		{Name: "mv_type_only", GroupBy: []string{"type"}, Aggs: registry.CanonicalAggs()},
		{Name: "mv_type_country", GroupBy: []string{"type", "country"}, Aggs: registry.CanonicalAggs()},
	}
	collected := map[string]*stats.Stats{
		"mv_type_only":    {NumRows: int64(consts.PartitionRowThreshold - 1), NumDistinct: map[string]int64{}, TopK: map[string]map[string]int64{}},
		"mv_type_country": nil,
	}

	partitioned, err := m.Partition(context.Background(), ch, mvs, collected)
	require.NoError(t, err)
	assert.Empty(t, partitioned)
	assert.Empty(t, ch.execs)
}

func TestPartition_BuildsOnePerEventTypeWhenOverThreshold(t *testing.T) {
	ch := &fakeExecCH{}
	m := New()
	mvs := []registry.MV{
		{Name: "mv_type_country", GroupBy: []string{"type", "country"}, Aggs: registry.CanonicalAggs()},
	}
	collected := map[string]*stats.Stats{
		"mv_type_country": {NumRows: int64(consts.PartitionRowThreshold + 1), NumDistinct: map[string]int64{"type": 4}, TopK: map[string]map[string]int64{"type": {}}},
	}

	partitioned, err := m.Partition(context.Background(), ch, mvs, collected)
	require.NoError(t, err)
	assert.Len(t, partitioned, len(consts.EventTypes))
	assert.Len(t, ch.execs, len(consts.EventTypes))
	for _, p := range partitioned {
		assert.NotContains(t, p.GroupBy, "type")
	}
}

func TestSkip_AlwaysReturnsEveryBaseMV(t *testing.T) {
	ch := &fakeQueryCH{}
	m := New()

	base, partitioned, err := m.Skip(context.Background(), ch)
	require.NoError(t, err)
	assert.Len(t, base, len(registry.Catalog()))
	assert.Empty(t, partitioned)
}

func TestSkip_ReconstructsOnlyExistingPartitions(t *testing.T) {
	var typeKeyed registry.MV
	for _, mv := range registry.Catalog() {
		if mv.HasGroupKey("type") {
			typeKeyed = mv
			break
		}
	}
	require.NotEmpty(t, typeKeyed.Name, "registry must contain at least one type-keyed MV")

	builtPartition := registry.PartitionName(typeKeyed.Name, consts.EventTypes[0])
	ch := &fakeQueryCH{tables: []string{builtPartition}}
	m := New()

	_, partitioned, err := m.Skip(context.Background(), ch)
	require.NoError(t, err)
	require.Len(t, partitioned, 1)
	assert.Equal(t, builtPartition, partitioned[0].Name)
	assert.NotContains(t, partitioned[0].GroupBy, "type")

	for _, typeValue := range consts.EventTypes[1:] {
		unbuilt := registry.PartitionName(typeKeyed.Name, typeValue)
		for _, p := range partitioned {
			assert.NotEqual(t, unbuilt, p.Name)
		}
	}
}

func TestSkip_SkipsMVsWithoutTypeGroupKey(t *testing.T) {
	var untyped registry.MV
	for _, mv := range registry.Catalog() {
		if !mv.HasGroupKey("type") {
			untyped = mv
			break
		}
	}
	require.NotEmpty(t, untyped.Name, "registry must contain at least one non-type-keyed MV")

	ch := &fakeQueryCH{tables: []string{registry.PartitionName(untyped.Name, consts.EventTypes[0])}}
	m := New()

	_, partitioned, err := m.Skip(context.Background(), ch)
	require.NoError(t, err)
	assert.Empty(t, partitioned)
}

var assertErr = errors.New("boom")
