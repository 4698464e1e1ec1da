package pipeline

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"kw-listing/internal/keywords"
)

var asinRe = regexp.MustCompile(`(?i)\bb0[a-z0-9]{8}\b`)

// Distribute partitions the selected keywords into title, bullet, description
// and leftover budgets. On failure the budget is empty, which the generator
// treats as nothing to write.
func (e *Engine) Distribute(ctx context.Context, p Product, selected []keywords.Record) Update[KeywordBudget] {
	if len(selected) == 0 {
		e.stageSkip("distribute", SkipNoKeywords, nil, "没有可分配的关键词")
		return skipped[KeywordBudget](SkipNoKeywords, nil)
	}
	start := e.stageStart("distribute", fmt.Sprintf("开始分配 %d 个关键词", len(selected)))
	var resp struct {
		Title       []string `json:"title_keyword"`
		BP          []string `json:"bp_keyword"`
		Description []string `json:"description_keyword"`
		Leftover    []string `json:"leftover"`
	}
	if err := completeJSON(ctx, e.svc, distributePrompt(p, selected, e.cfg.TitleKeywordCap), &resp); err != nil {
		e.stageSkip("distribute", SkipServiceError, err, "关键词分配失败，后续生成将跳过")
		return skipped[KeywordBudget](SkipServiceError, err)
	}
	budget := e.sanitizeBudget(selected, KeywordBudget{
		TitleKeywords:       resp.Title,
		BPKeywords:          resp.BP,
		DescriptionKeywords: resp.Description,
		LeftoverKeywords:    resp.Leftover,
	})
	e.stageOK("distribute", start, len(selected), fmt.Sprintf("关键词分配完成：标题 %d，五点 %d，描述 %d，剩余 %d",
		len(budget.TitleKeywords), len(budget.BPKeywords), len(budget.DescriptionKeywords), len(budget.LeftoverKeywords)))
	return applied(budget)
}

// sanitizeBudget enforces the budget rules on a model reply: only selected
// keywords, each in one partition (first of title, bullets, description,
// leftover wins), forced-leftover keywords out of the listing sections, the
// title capped, and unassigned keywords moved to leftover.
func (e *Engine) sanitizeBudget(selected []keywords.Record, raw KeywordBudget) KeywordBudget {
	known := make(map[string]struct{}, len(selected))
	for _, r := range selected {
		known[r.Keyword] = struct{}{}
	}
	used := make(map[string]struct{}, len(selected))
	var out KeywordBudget
	var leftover []string
	take := func(list []string, forceable bool) []string {
		kept := make([]string, 0, len(list))
		for _, kw := range list {
			kw = strings.TrimSpace(kw)
			if _, ok := known[kw]; !ok {
				continue
			}
			if _, dup := used[kw]; dup {
				continue
			}
			used[kw] = struct{}{}
			if forceable && e.forcedLeftover(kw) {
				leftover = append(leftover, kw)
				continue
			}
			kept = append(kept, kw)
		}
		return kept
	}
	out.TitleKeywords = take(raw.TitleKeywords, true)
	if limit := e.cfg.TitleKeywordCap; len(out.TitleKeywords) > limit {
		leftover = append(leftover, out.TitleKeywords[limit:]...)
		out.TitleKeywords = out.TitleKeywords[:limit]
	}
	out.BPKeywords = take(raw.BPKeywords, true)
	out.DescriptionKeywords = take(raw.DescriptionKeywords, true)
	leftover = append(leftover, take(raw.LeftoverKeywords, false)...)
	for _, r := range selected {
		if _, ok := used[r.Keyword]; !ok {
			used[r.Keyword] = struct{}{}
			leftover = append(leftover, r.Keyword)
		}
	}
	out.LeftoverKeywords = leftover
	if out.LeftoverKeywords == nil {
		out.LeftoverKeywords = []string{}
	}
	return out
}

// forcedLeftover reports keywords that never belong in a listing section:
// brand names, ASIN-like ids and long-tail phrases of three or more words.
func (e *Engine) forcedLeftover(kw string) bool {
	if len(strings.Fields(kw)) >= 3 || asinRe.MatchString(kw) {
		return true
	}
	padded := " " + strings.ToLower(strings.Join(strings.Fields(kw), " ")) + " "
	for _, brand := range e.cfg.BrandTokens {
		brand = strings.ToLower(strings.Join(strings.Fields(brand), " "))
		if brand != "" && strings.Contains(padded, " "+brand+" ") {
			return true
		}
	}
	return false
}
