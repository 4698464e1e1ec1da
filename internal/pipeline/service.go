package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// Prompt is one request to the text-generation service. Task names the
// pipeline step issuing it.
type Prompt struct {
	Task   string
	System string
	User   string
	JSON   bool
}

type TextService interface {
	Complete(ctx context.Context, p Prompt) (string, error)
}

type TextServiceFunc func(ctx context.Context, p Prompt) (string, error)

func (f TextServiceFunc) Complete(ctx context.Context, p Prompt) (string, error) {
	return f(ctx, p)
}

const (
	taskFilter        = "filter"
	taskClassify      = "classify"
	taskSelect        = "select"
	taskDistribute    = "distribute"
	taskTitle         = "title"
	taskBullets       = "bullets"
	taskDescription   = "description"
	taskSummarize     = "summarize"
	taskVerifyTitle   = "verify_title"
	taskVerifyBullets = "verify_bullets"
	taskVerifyDesc    = "verify_description"
	taskFeedbackParse = "feedback_parse"
	taskRegenPrefix   = "regen_"
)

var errEmptyResponse = errors.New("返回内容为空")

// completeJSON sends p in JSON mode and decodes the reply into out.
func completeJSON(ctx context.Context, svc TextService, p Prompt, out any) error {
	p.JSON = true
	text, err := svc.Complete(ctx, p)
	if err != nil {
		return err
	}
	if err := decodeJSON(text, out); err != nil {
		return fmt.Errorf("%s 返回格式错误：%w", p.Task, err)
	}
	return nil
}

func decodeJSON(text string, out any) error {
	t := normalizeModelText(text)
	if t == "" {
		return errEmptyResponse
	}
	if i := strings.IndexAny(t, "{["); i > 0 {
		t = t[i:]
	}
	if j := strings.LastIndexAny(t, "}]"); j >= 0 && j < len(t)-1 {
		t = t[:j+1]
	}
	return json.Unmarshal([]byte(t), out)
}

func normalizeModelText(text string) string {
	t := strings.TrimSpace(text)
	if strings.HasPrefix(t, "```") {
		t = strings.TrimPrefix(t, "```")
		t = strings.TrimSpace(t)
		for _, label := range []string{"json", "text", "markdown"} {
			if strings.HasPrefix(strings.ToLower(t), label) {
				t = strings.TrimSpace(t[len(label):])
				break
			}
		}
		if i := strings.LastIndex(t, "```"); i >= 0 {
			t = strings.TrimSpace(t[:i])
		}
	}
	return t
}
