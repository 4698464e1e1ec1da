package pipeline

import (
	"context"
	"fmt"
	"strings"
)

// AbsentInformation stands in for product information when no documentation
// was supplied or it could not be summarized. It gates verification off.
const AbsentInformation = "Product information not found"

func (e *Engine) Summarize(ctx context.Context, p Product, texts []string) Update[string] {
	docs := make([]string, 0, len(texts))
	for _, t := range texts {
		if t = strings.TrimSpace(t); t != "" {
			docs = append(docs, t)
		}
	}
	if len(docs) == 0 {
		return skipped[string](SkipNoInput, nil)
	}
	start := e.stageStart("summarize", fmt.Sprintf("开始摘要 %d 份产品资料", len(docs)))
	text, err := e.svc.Complete(ctx, summarizePrompt(p, docs))
	if err != nil {
		e.stageSkip("summarize", SkipServiceError, err, "资料摘要失败，跳过事实校验")
		return skipped[string](SkipServiceError, err)
	}
	summary := normalizeModelText(text)
	if summary == "" {
		e.stageSkip("summarize", SkipInvalidOutput, errEmptyResponse, "资料摘要为空，跳过事实校验")
		return skipped[string](SkipInvalidOutput, errEmptyResponse)
	}
	e.stageOK("summarize", start, runeLen(summary), fmt.Sprintf("资料摘要完成（%d 字符）", runeLen(summary)))
	return applied(summary)
}
