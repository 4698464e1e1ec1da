package pipeline

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"kw-listing/internal/keywords"
	"kw-listing/internal/logging"
)

// Select reduces records to at most SelectCount keywords. The service is
// asked for a tiered portfolio up to SelectMaxAttempts times; after that a
// deterministic value-score ranking is used. Every input keyword ends up in
// exactly one of Selected and Backend.
func (e *Engine) Select(ctx context.Context, p Product, records []keywords.Record) Selection {
	n := e.cfg.SelectCount
	if len(records) <= n {
		e.stageSkip("select", SkipNoInput, nil, fmt.Sprintf("关键词数量 %d 未超过目标 %d，全部保留", len(records), n))
		return Selection{Selected: append([]keywords.Record(nil), records...), Backend: []string{}}
	}
	start := e.stageStart("select", fmt.Sprintf("开始筛选关键词：%d -> %d", len(records), n))
	targets := e.tierTargets(n)
	index := keywords.Index(records)

	lastIssues := ""
	for attempt := 1; attempt <= e.cfg.SelectMaxAttempts; attempt++ {
		if attempt > 1 {
			wait := time.Duration(e.cfg.SelectRetryDelayMS) * time.Millisecond
			e.emit(logging.Event{Level: "warn", Event: "retry", Stage: "select", Attempt: attempt - 1, WaitMS: wait.Milliseconds(), Error: lastIssues})
			if err := e.sleep(ctx, wait); err != nil {
				lastIssues = err.Error()
				break
			}
		}
		var resp struct {
			Selected []string `json:"selected"`
		}
		err := completeJSON(ctx, e.svc, selectPrompt(p, records, n, targets, lastIssues), &resp)
		if err == nil {
			var picked []keywords.Record
			picked, err = pickKnown(resp.Selected, index, n)
			if err == nil {
				sel := Selection{Selected: picked, Backend: backendOf(records, picked)}
				e.stageOK("select", start, len(picked), fmt.Sprintf("关键词筛选完成：选中 %d，后台 %d（第 %d 次）", len(sel.Selected), len(sel.Backend), attempt))
				return sel
			}
		}
		lastIssues = "- " + err.Error()
		e.emit(logging.Event{Level: "warn", Event: "api_error", Stage: "select", Attempt: attempt, Error: err.Error()})
	}

	picked := fallbackSelect(records, n)
	sel := Selection{Selected: picked, Backend: backendOf(records, picked), Fallback: true}
	e.stageSkip("select", SkipServiceError, errors.New(strings.TrimPrefix(lastIssues, "- ")),
		fmt.Sprintf("筛选调用多次失败，按价值分回退选中 %d", len(picked)))
	return sel
}

func (e *Engine) tierTargets(n int) tierTargets {
	s := e.cfg.TierShares
	total := s.Direct + s.Related + s.Indirect
	if total <= 0 {
		return tierTargets{Direct: n}
	}
	t := tierTargets{
		Direct:  int(math.Round(float64(n) * s.Direct / total)),
		Related: int(math.Round(float64(n) * s.Related / total)),
	}
	if t.Direct+t.Related > n {
		t.Related = n - t.Direct
	}
	t.Indirect = n - t.Direct - t.Related
	return t
}

// pickKnown keeps the first n distinct keywords that exist in index.
func pickKnown(names []string, index map[string]keywords.Record, n int) ([]keywords.Record, error) {
	seen := make(map[string]struct{}, len(names))
	out := make([]keywords.Record, 0, n)
	unknown := 0
	for _, name := range names {
		name = strings.TrimSpace(name)
		rec, ok := index[name]
		if !ok {
			unknown++
			continue
		}
		if _, dup := seen[name]; dup {
			continue
		}
		seen[name] = struct{}{}
		out = append(out, rec)
		if len(out) == n {
			break
		}
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("未返回任何有效关键词（未知关键词 %d 个）", unknown)
	}
	return out, nil
}

func fallbackSelect(records []keywords.Record, n int) []keywords.Record {
	pool := make([]keywords.Record, 0, len(records))
	for _, r := range records {
		if r.Relevance == keywords.Direct || r.Relevance == keywords.Related {
			pool = append(pool, r)
		}
	}
	if len(pool) == 0 {
		pool = append(pool, records...)
	}
	sort.SliceStable(pool, func(i, j int) bool { return pool[i].ValueScore > pool[j].ValueScore })
	if len(pool) > n {
		pool = pool[:n]
	}
	return pool
}

func backendOf(all, selected []keywords.Record) []string {
	chosen := make(map[string]struct{}, len(selected))
	for _, r := range selected {
		chosen[r.Keyword] = struct{}{}
	}
	out := make([]string, 0, len(all)-len(selected))
	for _, r := range all {
		if _, ok := chosen[r.Keyword]; !ok {
			out = append(out, r.Keyword)
		}
	}
	return out
}
