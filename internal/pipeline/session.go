package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"kw-listing/internal/config"
	"kw-listing/internal/keywords"
	"kw-listing/internal/logging"
)

type Options struct {
	ID       string
	Pipeline config.PipelineConfig
	Logger   *logging.Logger
}

// Session owns the state of one listing from keyword rows to the final
// export. It is not safe for concurrent use.
type Session struct {
	id       string
	engine   *Engine
	input    Input
	product  Product
	records  []keywords.Record
	sel      Selection
	classErr error
	budget   KeywordBudget
	draft    ListingDraft
	feedback FeedbackState
	history  []string
	state    State
	trace    []State
}

type Result struct {
	SessionID    string            `json:"session_id"`
	Draft        ListingDraft      `json:"draft"`
	Budget       KeywordBudget     `json:"budget"`
	Backend      []string          `json:"backend_keywords"`
	Unused       []string          `json:"unused_keywords"`
	Information  string            `json:"product_information"`
	Records      []keywords.Record `json:"-"`
	Fallback     bool              `json:"selection_fallback"`
	Unclassified bool              `json:"classification_failed"`
}

func NewSession(svc TextService, opts Options, in Input) (*Session, error) {
	if svc == nil {
		return nil, errors.New("未配置文本生成服务")
	}
	in.ProductName = strings.TrimSpace(in.ProductName)
	in.Category = strings.TrimSpace(in.Category)
	if in.ProductName == "" {
		return nil, errors.New("产品名称不能为空")
	}
	if len(in.KeywordRows) == 0 {
		return nil, ErrNoKeywords
	}
	id := strings.TrimSpace(opts.ID)
	if id == "" {
		id = uuid.NewString()
	}
	return &Session{
		id:     id,
		engine: NewEngine(svc, opts.Pipeline, opts.Logger, id),
		input:  in,
		product: Product{
			Name:        in.ProductName,
			Category:    in.Category,
			Information: AbsentInformation,
		},
		state: StateIdle,
	}, nil
}

func (s *Session) ID() string { return s.id }

func (s *Session) State() State { return s.state }

func (s *Session) Draft() ListingDraft { return s.draft.clone() }

func (s *Session) Budget() KeywordBudget { return s.budget }

func (s *Session) Feedbacks() []string { return append([]string(nil), s.history...) }

// Trace lists the states entered during the last Feedback call.
func (s *Session) Trace() []State { return append([]State(nil), s.trace...) }

// Run executes the pipeline once, from keyword cleaning to verification.
// Recoverable stage failures are logged and absorbed; only a missing keyword
// set or a verification failure is returned as an error.
func (s *Session) Run(ctx context.Context) (Result, error) {
	if s.state != StateIdle {
		return s.result(), ErrAlreadyRun
	}
	e := s.engine

	if info := e.Summarize(ctx, s.product, s.input.Documentation); info.Updated {
		s.product.Information = info.Value
	}

	start := e.stageStart("normalize", fmt.Sprintf("开始清洗 %d 行关键词", len(s.input.KeywordRows)))
	rows := keywords.Clean(s.input.KeywordRows)
	if len(rows) == 0 {
		e.stageFailed("normalize", ErrNoKeywords, "清洗后没有可用关键词")
		return s.result(), ErrNoKeywords
	}
	e.stageOK("normalize", start, len(rows), fmt.Sprintf("关键词清洗完成：%d -> %d", len(s.input.KeywordRows), len(rows)))

	if kept := e.FilterKeywords(ctx, s.product, keywordsOf(rows)); kept.Updated {
		rows = keepRows(rows, kept.Value)
	}

	start = e.stageStart("score", "开始计算价值分")
	records := keywords.Coerce(rows)
	keywords.Score(records)
	e.stageOK("score", start, len(records), fmt.Sprintf("价值评分完成（%d 个，补全 %d 个）", len(records), countImputed(records)))

	// A failed classification tags every record ClassificationFailed and
	// the run continues; the outcome surfaces as Result.Unclassified.
	records, s.classErr = e.Classify(ctx, s.product, records)
	s.records = records

	s.sel = e.Select(ctx, s.product, records)
	s.budget = e.Distribute(ctx, s.product, s.sel.Selected).Or(KeywordBudget{})

	s.draft.Title = e.GenerateTitle(ctx, s.product, s.budget.TitleKeywords, nil).Or(s.draft.Title)
	s.draft.BulletPoints = e.GenerateBullets(ctx, s.product, s.budget.BPKeywords, nil).Or(s.draft.BulletPoints)
	s.draft.Description = e.GenerateDescription(ctx, s.product, s.budget.DescriptionKeywords, s.draft.BulletPoints, nil).Or(s.draft.Description)

	verified, verr := e.Verify(ctx, s.product.Information, s.draft)
	s.draft = verified
	if err := s.fire(TriggerGenerated); err != nil {
		return s.result(), err
	}
	if verr != nil {
		return s.result(), fmt.Errorf("事实校验失败：%w", verr)
	}
	return s.result(), nil
}

func (s *Session) result() Result {
	return Result{
		SessionID:    s.id,
		Draft:        s.draft.clone(),
		Budget:       s.budget,
		Backend:      append([]string{}, s.sel.Backend...),
		Unused:       s.Unused(),
		Information:  s.product.Information,
		Records:      append([]keywords.Record(nil), s.records...),
		Fallback:     s.sel.Fallback,
		Unclassified: s.classErr != nil,
	}
}

// Unused returns leftover followed by backend keywords.
func (s *Session) Unused() []string {
	out := make([]string, 0, len(s.budget.LeftoverKeywords)+len(s.sel.Backend))
	out = append(out, s.budget.LeftoverKeywords...)
	out = append(out, s.sel.Backend...)
	return out
}

func keywordsOf(rows []keywords.RawRow) []string {
	out := make([]string, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.Keyword)
	}
	return out
}

func keepRows(rows []keywords.RawRow, kept []string) []keywords.RawRow {
	set := make(map[string]struct{}, len(kept))
	for _, k := range kept {
		set[k] = struct{}{}
	}
	out := make([]keywords.RawRow, 0, len(kept))
	for _, r := range rows {
		if _, ok := set[r.Keyword]; ok {
			out = append(out, r)
		}
	}
	return out
}

func countImputed(records []keywords.Record) int {
	n := 0
	for _, r := range records {
		if r.IsImputed {
			n++
		}
	}
	return n
}
