package pipeline

import (
	"context"
	"errors"
	"fmt"
)

// FilterKeywords asks the service to drop typos, redundant plurals and
// foreign-language keywords. Any failure leaves the list untouched.
func (e *Engine) FilterKeywords(ctx context.Context, p Product, kws []string) Update[[]string] {
	if !e.cfg.LLMFilterEnabled() {
		return skipped[[]string](SkipDisabled, nil)
	}
	if len(kws) == 0 {
		return skipped[[]string](SkipNoKeywords, nil)
	}
	start := e.stageStart("filter", fmt.Sprintf("开始语义过滤 %d 个关键词", len(kws)))
	var resp struct {
		Keywords []string `json:"keywords"`
	}
	if err := completeJSON(ctx, e.svc, filterPrompt(p, kws), &resp); err != nil {
		e.stageSkip("filter", SkipServiceError, err, "语义过滤失败，沿用语法清洗结果")
		return skipped[[]string](SkipServiceError, err)
	}
	keep := make(map[string]struct{}, len(resp.Keywords))
	for _, kw := range resp.Keywords {
		keep[kw] = struct{}{}
	}
	out := make([]string, 0, len(keep))
	for _, kw := range kws {
		if _, ok := keep[kw]; ok {
			out = append(out, kw)
		}
	}
	if len(out) == 0 {
		err := errors.New("过滤结果不含任何输入关键词")
		e.stageSkip("filter", SkipInvalidOutput, err, "语义过滤结果无效，沿用语法清洗结果")
		return skipped[[]string](SkipInvalidOutput, err)
	}
	e.stageOK("filter", start, len(out), fmt.Sprintf("语义过滤完成，保留 %d/%d", len(out), len(kws)))
	return applied(out)
}
