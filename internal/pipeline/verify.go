package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// Verify cross-checks each non-empty field against info with its own call.
// A failed field keeps its value; the failures are joined and returned
// together with the partially corrected draft.
func (e *Engine) Verify(ctx context.Context, info string, d ListingDraft) (ListingDraft, error) {
	out := d.clone()
	if strings.TrimSpace(info) == "" || info == AbsentInformation {
		return out, nil
	}
	start := e.stageStart("verify", "开始事实校验")
	var errs []error

	if out.Title != "" {
		content, err := e.verifyContent(ctx, taskVerifyTitle, info, "Title", out.Title)
		if err == nil {
			title := strings.Join(strings.Fields(content), " ")
			if err = checkLength("标题", title, 1, e.cfg.TitleMaxChars); err == nil {
				out.Title = title
			}
		}
		if err != nil {
			errs = append(errs, fmt.Errorf("标题校验失败：%w", err))
		}
	}
	if len(out.BulletPoints) > 0 {
		content, err := e.verifyContent(ctx, taskVerifyBullets, info, "Bullet Points", strings.Join(out.BulletPoints, "\n"))
		if err == nil {
			bullets := cleanBullets(strings.Split(strings.ReplaceAll(content, "\r\n", "\n"), "\n"))
			if len(bullets) == 0 {
				err = errEmptyResponse
			} else if err = e.validateBullets(bullets); err == nil {
				out.BulletPoints = bullets
			}
		}
		if err != nil {
			errs = append(errs, fmt.Errorf("五点校验失败：%w", err))
		}
	}
	if out.Description != "" {
		content, err := e.verifyContent(ctx, taskVerifyDesc, info, "Description", out.Description)
		if err != nil {
			errs = append(errs, fmt.Errorf("描述校验失败：%w", err))
		} else if err := checkLength("描述", content, 1, e.cfg.DescriptionMaxChars); err != nil {
			errs = append(errs, fmt.Errorf("描述校验失败：%w", err))
		} else {
			out.Description = content
		}
	}

	if err := errors.Join(errs...); err != nil {
		e.stageFailed("verify", err, "事实校验失败")
		return out, err
	}
	e.stageOK("verify", start, 0, "事实校验完成")
	return out, nil
}

func (e *Engine) verifyContent(ctx context.Context, task, info, kind, content string) (string, error) {
	var resp struct {
		Content string `json:"content"`
	}
	if err := completeJSON(ctx, e.svc, verifyPrompt(task, info, kind, content), &resp); err != nil {
		return "", err
	}
	text := strings.TrimSpace(resp.Content)
	if text == "" {
		return "", errEmptyResponse
	}
	return text, nil
}
