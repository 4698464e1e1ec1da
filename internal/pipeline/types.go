package pipeline

import (
	"errors"

	"kw-listing/internal/keywords"
)

var (
	ErrNoKeywords     = errors.New("没有可用的关键词")
	ErrSessionDone    = errors.New("会话已结束")
	ErrNotRun         = errors.New("会话尚未生成 listing")
	ErrAlreadyRun     = errors.New("会话已生成过 listing")
	ErrEmptyFeedback  = errors.New("反馈内容为空")
	ErrInvalidTrigger = errors.New("状态机不允许该转换")
)

// SkipReason says why a stage produced no update.
type SkipReason string

const (
	SkipNone          SkipReason = ""
	SkipNoKeywords    SkipReason = "no_keywords"
	SkipNoInput       SkipReason = "no_input"
	SkipDisabled      SkipReason = "disabled"
	SkipServiceError  SkipReason = "service_error"
	SkipInvalidOutput SkipReason = "invalid_output"
)

// Update is the outcome of a recoverable stage: either a new value, or a
// reason the caller should keep what it had.
type Update[T any] struct {
	Value   T
	Updated bool
	Reason  SkipReason
	Err     error
}

func applied[T any](v T) Update[T] {
	return Update[T]{Value: v, Updated: true}
}

func skipped[T any](reason SkipReason, err error) Update[T] {
	return Update[T]{Reason: reason, Err: err}
}

// Or returns the new value when the stage produced one, prev otherwise.
func (u Update[T]) Or(prev T) T {
	if u.Updated {
		return u.Value
	}
	return prev
}

type Field string

const (
	FieldTitle       Field = "title"
	FieldBullets     Field = "bullets"
	FieldDescription Field = "description"
)

type KeywordBudget struct {
	TitleKeywords       []string `json:"title_keywords"`
	BPKeywords          []string `json:"bp_keywords"`
	DescriptionKeywords []string `json:"description_keywords"`
	LeftoverKeywords    []string `json:"leftover_keywords"`
}

func (b KeywordBudget) Empty() bool {
	return len(b.TitleKeywords) == 0 && len(b.BPKeywords) == 0 &&
		len(b.DescriptionKeywords) == 0 && len(b.LeftoverKeywords) == 0
}

func (b KeywordBudget) forField(f Field) []string {
	switch f {
	case FieldTitle:
		return b.TitleKeywords
	case FieldBullets:
		return b.BPKeywords
	case FieldDescription:
		return b.DescriptionKeywords
	}
	return nil
}

type ListingDraft struct {
	Title        string   `json:"title"`
	BulletPoints []string `json:"bullet_points"`
	Description  string   `json:"description"`
}

func (d ListingDraft) clone() ListingDraft {
	d.BulletPoints = append([]string(nil), d.BulletPoints...)
	return d
}

// FeedbackState holds per-field revision instructions. An empty string means
// nothing is pending for that field.
type FeedbackState struct {
	Raw         string `json:"raw_feedback"`
	Title       string `json:"title_feedback"`
	BP          string `json:"bp_feedback"`
	Description string `json:"description_feedback"`
}

func (f *FeedbackState) clear(field Field) {
	switch field {
	case FieldTitle:
		f.Title = ""
	case FieldBullets:
		f.BP = ""
	case FieldDescription:
		f.Description = ""
	}
}

func (f FeedbackState) get(field Field) string {
	switch field {
	case FieldTitle:
		return f.Title
	case FieldBullets:
		return f.BP
	case FieldDescription:
		return f.Description
	}
	return ""
}

type Product struct {
	Name        string
	Category    string
	Information string
}

// Input is what a host hands to a new session.
type Input struct {
	ProductName   string            `json:"product_name"`
	Category      string            `json:"category"`
	KeywordRows   []keywords.RawRow `json:"keyword_rows"`
	Documentation []string          `json:"documentation_texts,omitempty"`
}

type Selection struct {
	Selected []keywords.Record `json:"selected"`
	Backend  []string          `json:"backend"`
	Fallback bool              `json:"fallback"`
}
