package pipeline

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"unicode/utf8"
)

// A numeric marker only counts when whitespace follows it, so "2.4GHz" stays intact.
var bulletPrefixRe = regexp.MustCompile(`^\s*(?:[-*•]|[0-9]{1,2}[\.)](?:\s+|$))\s*`)

// GenerateTitle writes the title from the title budget. With rev set the
// current title is revised according to the feedback.
func (e *Engine) GenerateTitle(ctx context.Context, p Product, kws []string, rev *Revision) Update[string] {
	if len(kws) == 0 {
		e.stageSkip("title", SkipNoKeywords, nil, "没有标题关键词，跳过标题生成")
		return skipped[string](SkipNoKeywords, nil)
	}
	start := e.stageStart("title", "开始生成标题")
	var resp struct {
		Title string `json:"title"`
	}
	prompt := withRevision(titlePrompt(p, kws, e.cfg.TitleMaxChars), FieldTitle, rev)
	if err := completeJSON(ctx, e.svc, prompt, &resp); err != nil {
		e.stageSkip("title", SkipServiceError, err, "标题生成失败，保留原值")
		return skipped[string](SkipServiceError, err)
	}
	title := strings.Join(strings.Fields(resp.Title), " ")
	if err := checkLength("标题", title, 1, e.cfg.TitleMaxChars); err != nil {
		e.stageSkip("title", SkipInvalidOutput, err, "标题不符合要求，保留原值")
		return skipped[string](SkipInvalidOutput, err)
	}
	e.stageOK("title", start, runeLen(title), fmt.Sprintf("标题生成完成（%d 字符）", runeLen(title)))
	return applied(title)
}

func (e *Engine) GenerateBullets(ctx context.Context, p Product, kws []string, rev *Revision) Update[[]string] {
	if len(kws) == 0 {
		e.stageSkip("bullets", SkipNoKeywords, nil, "没有五点关键词，跳过五点生成")
		return skipped[[]string](SkipNoKeywords, nil)
	}
	start := e.stageStart("bullets", "开始生成五点描述")
	var resp struct {
		BulletPoints []string `json:"bullet_points"`
	}
	c := e.cfg
	prompt := withRevision(bulletsPrompt(p, kws, c.BulletMinItems, c.BulletMaxItems, c.BulletMinChars, c.BulletMaxChars), FieldBullets, rev)
	if err := completeJSON(ctx, e.svc, prompt, &resp); err != nil {
		e.stageSkip("bullets", SkipServiceError, err, "五点生成失败，保留原值")
		return skipped[[]string](SkipServiceError, err)
	}
	bullets := cleanBullets(resp.BulletPoints)
	if err := e.validateBullets(bullets); err != nil {
		e.stageSkip("bullets", SkipInvalidOutput, err, "五点不符合要求，保留原值")
		return skipped[[]string](SkipInvalidOutput, err)
	}
	e.stageOK("bullets", start, len(bullets), fmt.Sprintf("五点生成完成（%d 条）", len(bullets)))
	return applied(bullets)
}

// GenerateDescription needs the bullets already written so it can avoid
// repeating them.
func (e *Engine) GenerateDescription(ctx context.Context, p Product, kws []string, bullets []string, rev *Revision) Update[string] {
	if len(kws) == 0 {
		e.stageSkip("description", SkipNoKeywords, nil, "没有描述关键词，跳过描述生成")
		return skipped[string](SkipNoKeywords, nil)
	}
	start := e.stageStart("description", "开始生成产品描述")
	var resp struct {
		Description string `json:"description"`
	}
	prompt := withRevision(descriptionPrompt(p, kws, bullets, e.cfg.DescriptionMaxChars), FieldDescription, rev)
	if err := completeJSON(ctx, e.svc, prompt, &resp); err != nil {
		e.stageSkip("description", SkipServiceError, err, "描述生成失败，保留原值")
		return skipped[string](SkipServiceError, err)
	}
	desc := strings.TrimSpace(resp.Description)
	if err := checkLength("描述", desc, 1, e.cfg.DescriptionMaxChars); err != nil {
		e.stageSkip("description", SkipInvalidOutput, err, "描述不符合要求，保留原值")
		return skipped[string](SkipInvalidOutput, err)
	}
	e.stageOK("description", start, runeLen(desc), fmt.Sprintf("描述生成完成（%d 字符）", runeLen(desc)))
	return applied(desc)
}

func (e *Engine) validateBullets(items []string) error {
	c := e.cfg
	if len(items) < c.BulletMinItems || len(items) > c.BulletMaxItems {
		return fmt.Errorf("五点数量错误：%d 不在 %d-%d 之间", len(items), c.BulletMinItems, c.BulletMaxItems)
	}
	issues := []string{}
	for i, it := range items {
		if err := checkLength(fmt.Sprintf("第%d点", i+1), it, c.BulletMinChars, c.BulletMaxChars); err != nil {
			issues = append(issues, err.Error())
		}
	}
	if len(issues) > 0 {
		return fmt.Errorf("%s", strings.Join(issues, "; "))
	}
	return nil
}

func cleanBullets(items []string) []string {
	out := make([]string, 0, len(items))
	for _, it := range items {
		it = strings.TrimSpace(bulletPrefixRe.ReplaceAllString(strings.TrimSpace(it), ""))
		if it != "" {
			out = append(out, it)
		}
	}
	return out
}

func checkLength(name, s string, min, max int) error {
	n := runeLen(s)
	if n < min {
		if n == 0 {
			return fmt.Errorf("%s为空", name)
		}
		return fmt.Errorf("%s太短：%d < %d", name, n, min)
	}
	if n > max {
		return fmt.Errorf("%s太长：%d > %d", name, n, max)
	}
	return nil
}

func runeLen(s string) int {
	return utf8.RuneCountInString(s)
}
