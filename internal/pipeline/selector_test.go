package pipeline

import (
	"context"
	"errors"
	"math/rand"
	"sort"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"kw-listing/internal/config"
	"kw-listing/internal/keywords"
)

func requirePartition(t *testing.T, all []keywords.Record, sel Selection) {
	t.Helper()
	require.Equal(t, len(all), len(sel.Selected)+len(sel.Backend))
	seen := map[string]bool{}
	for _, r := range sel.Selected {
		require.False(t, seen[r.Keyword], "duplicate %s", r.Keyword)
		seen[r.Keyword] = true
	}
	for _, kw := range sel.Backend {
		require.False(t, seen[kw], "keyword %s in both sets", kw)
		seen[kw] = true
	}
	for _, r := range all {
		require.True(t, seen[r.Keyword], "keyword %s lost", r.Keyword)
	}
}

func TestSelectPortfolio(t *testing.T) {
	records := makeRecords(100, keywords.Direct, "kw")
	names := keywords.Names(records)
	svc := newFake().reply(taskSelect, map[string]any{"selected": names[:50]})
	sel := newTestEngine(svc, nil).Select(context.Background(), testProduct, records)
	require.False(t, sel.Fallback)
	require.Len(t, sel.Selected, 50)
	require.Len(t, sel.Backend, 50)
	requirePartition(t, records, sel)
	require.Contains(t, svc.last(taskSelect).System, "About 25 Direct")
}

func TestSelectTrimsDuplicatesAndUnknown(t *testing.T) {
	records := makeRecords(10, keywords.Direct, "kw")
	reply := []string{"kw003", "kw003", "ghost", "kw001", "kw002", "kw004", "kw005"}
	svc := newFake().reply(taskSelect, map[string]any{"selected": reply})
	sel := newTestEngine(svc, func(c *config.PipelineConfig) { c.SelectCount = 3 }).Select(context.Background(), testProduct, records)
	require.Equal(t, []string{"kw003", "kw001", "kw002"}, keywords.Names(sel.Selected))
	requirePartition(t, records, sel)
}

func TestSelectFallbackAfterRepeatedFailures(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	var records []keywords.Record
	for _, group := range []struct {
		n    int
		tier keywords.Relevance
	}{{30, keywords.Direct}, {20, keywords.Related}, {40, keywords.Indirect}, {10, keywords.NotRelated}} {
		for _, r := range makeRecords(group.n, group.tier, string(group.tier)) {
			r.ValueScore = rng.Float64() * 10
			records = append(records, r)
		}
	}
	rng.Shuffle(len(records), func(i, j int) { records[i], records[j] = records[j], records[i] })

	for _, n := range []int{25, 60} {
		svc := newFake().fail(taskSelect, errors.New("503"))
		sel := newTestEngine(svc, func(c *config.PipelineConfig) { c.SelectCount = n }).Select(context.Background(), testProduct, records)
		require.Equal(t, 3, svc.count(taskSelect))
		require.True(t, sel.Fallback)
		require.Len(t, sel.Selected, min(n, 50))
		requirePartition(t, records, sel)
		require.True(t, sort.SliceIsSorted(sel.Selected, func(i, j int) bool {
			return sel.Selected[i].ValueScore > sel.Selected[j].ValueScore
		}))
		for _, r := range sel.Selected {
			require.Contains(t, []keywords.Relevance{keywords.Direct, keywords.Related}, r.Relevance)
		}
	}
}

func TestSelectFallbackUsesAllWhenNoDirectOrRelated(t *testing.T) {
	records := makeRecords(8, keywords.ClassificationFailed, "kw")
	svc := newFake().reply(taskSelect, map[string]any{"selected": []string{}})
	sel := newTestEngine(svc, func(c *config.PipelineConfig) { c.SelectCount = 4 }).Select(context.Background(), testProduct, records)
	require.True(t, sel.Fallback)
	require.Equal(t, []string{"kw000", "kw001", "kw002", "kw003"}, keywords.Names(sel.Selected))
}

func TestSelectRetryCarriesPreviousProblem(t *testing.T) {
	records := makeRecords(6, keywords.Direct, "kw")
	svc := newFake().
		reply(taskSelect, map[string]any{"selected": []string{"ghost"}}).
		reply(taskSelect, map[string]any{"selected": []string{"kw005", "kw004"}})
	var waits []time.Duration
	e := newTestEngine(svc, func(c *config.PipelineConfig) {
		c.SelectCount = 2
		c.SelectRetryDelayMS = 5
	})
	e.sleep = func(_ context.Context, d time.Duration) error {
		waits = append(waits, d)
		return nil
	}
	sel := e.Select(context.Background(), testProduct, records)
	require.False(t, sel.Fallback)
	require.Equal(t, []string{"kw005", "kw004"}, keywords.Names(sel.Selected))
	require.Equal(t, 2, svc.count(taskSelect))
	require.Equal(t, []time.Duration{5 * time.Millisecond}, waits)
	require.Contains(t, svc.last(taskSelect).User, "Problems in your previous answer")
	require.Contains(t, svc.last(taskSelect).User, "未返回任何有效关键词")
}

func TestSelectCancelledContextFallsBack(t *testing.T) {
	records := makeRecords(6, keywords.Direct, "kw")
	svc := newFake().fail(taskSelect, errors.New("down"))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	sel := newTestEngine(svc, func(c *config.PipelineConfig) { c.SelectCount = 2 }).Select(ctx, testProduct, records)
	require.True(t, sel.Fallback)
	require.Equal(t, 1, svc.count(taskSelect))
	requirePartition(t, records, sel)
}

func TestSelectKeepsAllWhenUnderTarget(t *testing.T) {
	records := makeRecords(5, keywords.Direct, "kw")
	svc := newFake()
	sel := newTestEngine(svc, nil).Select(context.Background(), testProduct, records)
	require.Len(t, sel.Selected, 5)
	require.Empty(t, sel.Backend)
	require.Empty(t, svc.tasks())
}

func TestTierTargets(t *testing.T) {
	e := newTestEngine(newFake(), nil)
	require.Equal(t, tierTargets{Direct: 25, Related: 15, Indirect: 10}, e.tierTargets(50))
	require.Equal(t, tierTargets{Direct: 4, Related: 2, Indirect: 1}, e.tierTargets(7))
	e = newTestEngine(newFake(), func(c *config.PipelineConfig) { c.TierShares = config.TierShares{Direct: 6, Related: 3, Indirect: 1} })
	require.Equal(t, tierTargets{Direct: 24, Related: 12, Indirect: 4}, e.tierTargets(40))
}
