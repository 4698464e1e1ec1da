package pipeline

import (
	"context"
	"fmt"
	"strings"

	"kw-listing/internal/keywords"
)

// Classify labels every record with a relevance tier using one batch call.
// Keywords missing from the reply become NotRelated. When the call fails
// every record is marked ClassificationFailed and the error is returned
// alongside them.
func (e *Engine) Classify(ctx context.Context, p Product, records []keywords.Record) ([]keywords.Record, error) {
	out := append([]keywords.Record(nil), records...)
	if len(out) == 0 {
		return out, nil
	}
	start := e.stageStart("classify", fmt.Sprintf("开始相关性分类 %d 个关键词", len(out)))
	var resp struct {
		Classifications []struct {
			Keyword  string `json:"keyword"`
			Category string `json:"relevance_category"`
		} `json:"classifications"`
	}
	if err := completeJSON(ctx, e.svc, classifyPrompt(p, keywords.Names(out)), &resp); err != nil {
		for i := range out {
			out[i].Relevance = keywords.ClassificationFailed
		}
		e.stageFailed("classify", err, "相关性分类失败，全部标记为 ClassificationFailed")
		return out, err
	}
	exact := make(map[string]keywords.Relevance, len(resp.Classifications))
	folded := make(map[string]keywords.Relevance, len(resp.Classifications))
	for _, c := range resp.Classifications {
		tier := keywords.ParseRelevance(c.Category)
		exact[c.Keyword] = tier
		folded[strings.ToLower(strings.TrimSpace(c.Keyword))] = tier
	}
	counts := map[keywords.Relevance]int{}
	for i := range out {
		tier, ok := exact[out[i].Keyword]
		if !ok {
			tier, ok = folded[strings.ToLower(out[i].Keyword)]
		}
		if !ok {
			tier = keywords.NotRelated
		}
		out[i].Relevance = tier
		counts[tier]++
	}
	e.stageOK("classify", start, len(out), fmt.Sprintf("相关性分类完成：Direct %d，Related %d，Indirect %d，NotRelated %d",
		counts[keywords.Direct], counts[keywords.Related], counts[keywords.Indirect], counts[keywords.NotRelated]))
	return out, nil
}
