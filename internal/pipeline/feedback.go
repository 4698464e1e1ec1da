package pipeline

import (
	"context"
	"fmt"
	"strings"

	"kw-listing/internal/logging"
)

type State int

const (
	StateIdle State = iota
	StateAwaitingFeedback
	StateParsing
	StateCheck
	StateRegenTitle
	StateRegenBullets
	StateRegenDescription
	StateDone
)

var stateNames = map[State]string{
	StateIdle:             "idle",
	StateAwaitingFeedback: "awaiting_feedback",
	StateParsing:          "parsing",
	StateCheck:            "check",
	StateRegenTitle:       "regen_title",
	StateRegenBullets:     "regen_bp",
	StateRegenDescription: "regen_description",
	StateDone:             "done",
}

func (s State) String() string {
	if n, ok := stateNames[s]; ok {
		return n
	}
	return fmt.Sprintf("state(%d)", int(s))
}

func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

type Trigger int

const (
	TriggerGenerated Trigger = iota
	TriggerFeedback
	TriggerComplete
	TriggerParsed
	TriggerParseFailed
	TriggerTitlePending
	TriggerBulletsPending
	TriggerDescriptionPending
	TriggerNonePending
	TriggerRegenerated
)

var transitions = map[State]map[Trigger]State{
	StateIdle: {
		TriggerGenerated: StateAwaitingFeedback,
	},
	StateAwaitingFeedback: {
		TriggerFeedback: StateParsing,
		TriggerComplete: StateDone,
	},
	StateParsing: {
		TriggerParsed:      StateCheck,
		TriggerParseFailed: StateAwaitingFeedback,
	},
	StateCheck: {
		TriggerTitlePending:       StateRegenTitle,
		TriggerBulletsPending:     StateRegenBullets,
		TriggerDescriptionPending: StateRegenDescription,
		TriggerNonePending:        StateAwaitingFeedback,
	},
	StateRegenTitle:       {TriggerRegenerated: StateCheck},
	StateRegenBullets:     {TriggerRegenerated: StateCheck},
	StateRegenDescription: {TriggerRegenerated: StateCheck},
}

func nextState(s State, t Trigger) (State, error) {
	if to, ok := transitions[s][t]; ok {
		return to, nil
	}
	return s, fmt.Errorf("%w：%s", ErrInvalidTrigger, s)
}

var regenField = map[State]Field{
	StateRegenTitle:       FieldTitle,
	StateRegenBullets:     FieldBullets,
	StateRegenDescription: FieldDescription,
}

// route picks the next regeneration in fixed title, bullets, description order.
func route(f FeedbackState) Trigger {
	switch {
	case f.Title != "":
		return TriggerTitlePending
	case f.BP != "":
		return TriggerBulletsPending
	case f.Description != "":
		return TriggerDescriptionPending
	default:
		return TriggerNonePending
	}
}

// ParseFeedback splits raw feedback into per-field instructions. Fields the
// feedback does not mention come back empty.
func (e *Engine) ParseFeedback(ctx context.Context, raw string, d ListingDraft) (FeedbackState, error) {
	start := e.stageStart("feedback", "开始解析反馈")
	var resp struct {
		Title       string `json:"title_feedback"`
		BP          string `json:"bp_feedback"`
		Description string `json:"description_feedback"`
	}
	if err := completeJSON(ctx, e.svc, feedbackPrompt(raw, d), &resp); err != nil {
		e.stageFailed("feedback", err, "反馈解析失败")
		return FeedbackState{}, fmt.Errorf("反馈解析失败：%w", err)
	}
	fb := FeedbackState{
		Raw:         raw,
		Title:       strings.TrimSpace(resp.Title),
		BP:          strings.TrimSpace(resp.BP),
		Description: strings.TrimSpace(resp.Description),
	}
	e.stageOK("feedback", start, 0, fmt.Sprintf("反馈解析完成：标题[%s] 五点[%s] 描述[%s]",
		pendingMark(fb.Title), pendingMark(fb.BP), pendingMark(fb.Description)))
	return fb, nil
}

func pendingMark(s string) string {
	if s == "" {
		return "-"
	}
	return "待修改"
}

func (s *Session) fire(t Trigger) error {
	to, err := nextState(s.state, t)
	if err != nil {
		return err
	}
	s.engine.emit(logging.Event{Event: "feedback_state", Stage: "feedback", State: s.state.String() + "->" + to.String()})
	s.state = to
	s.trace = append(s.trace, to)
	return nil
}

// Feedback runs one revision cycle: parse the raw feedback, then regenerate
// each field that has pending instructions until none remain. A failed
// regeneration still clears its instruction, so the cycle ends after at most
// one regeneration per field.
func (s *Session) Feedback(ctx context.Context, raw string) (ListingDraft, error) {
	switch s.state {
	case StateIdle:
		return s.draft.clone(), ErrNotRun
	case StateDone:
		return s.draft.clone(), ErrSessionDone
	}
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return s.draft.clone(), ErrEmptyFeedback
	}
	s.trace = s.trace[:0]
	if err := s.fire(TriggerFeedback); err != nil {
		return s.draft.clone(), err
	}
	fb, err := s.engine.ParseFeedback(ctx, raw, s.draft)
	if err != nil {
		if ferr := s.fire(TriggerParseFailed); ferr != nil {
			return s.draft.clone(), ferr
		}
		return s.draft.clone(), err
	}
	s.history = append(s.history, raw)
	s.feedback = fb
	if err := s.fire(TriggerParsed); err != nil {
		return s.draft.clone(), err
	}

	for s.state == StateCheck {
		if err := s.fire(route(s.feedback)); err != nil {
			return s.draft.clone(), err
		}
		field, ok := regenField[s.state]
		if !ok {
			break
		}
		s.regenerate(ctx, field)
		if err := s.fire(TriggerRegenerated); err != nil {
			return s.draft.clone(), err
		}
	}
	return s.draft.clone(), nil
}

func (s *Session) regenerate(ctx context.Context, field Field) {
	instruction := s.feedback.get(field)
	s.feedback.clear(field)
	kws := s.budget.forField(field)
	switch field {
	case FieldTitle:
		rev := &Revision{Feedback: instruction, Current: s.draft.Title}
		s.draft.Title = s.engine.GenerateTitle(ctx, s.product, kws, rev).Or(s.draft.Title)
	case FieldBullets:
		rev := &Revision{Feedback: instruction, Current: strings.Join(s.draft.BulletPoints, "\n")}
		s.draft.BulletPoints = s.engine.GenerateBullets(ctx, s.product, kws, rev).Or(s.draft.BulletPoints)
	case FieldDescription:
		rev := &Revision{Feedback: instruction, Current: s.draft.Description}
		s.draft.Description = s.engine.GenerateDescription(ctx, s.product, kws, s.draft.BulletPoints, rev).Or(s.draft.Description)
	}
}

// Complete ends the session. No further feedback is accepted.
func (s *Session) Complete() error {
	switch s.state {
	case StateDone:
		return ErrSessionDone
	case StateIdle:
		return ErrNotRun
	}
	return s.fire(TriggerComplete)
}
