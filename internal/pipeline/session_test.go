package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"kw-listing/internal/keywords"
)

func keywordRows(n int) []keywords.RawRow {
	rows := make([]keywords.RawRow, 0, n)
	for i := 0; i < n; i++ {
		rows = append(rows, keywords.RawRow{
			Keyword:           fmt.Sprintf("bed%03d", i),
			SearchVolume:      fmt.Sprint(1000 + i*10),
			CompetingProducts: "100",
		})
	}
	return rows
}

// scriptFullRun answers every stage: everything is Direct, the selector
// keeps the first 50 keywords and the distributor spreads them out.
func scriptFullRun(svc *fakeService) {
	var names []string
	for _, r := range keywordRows(100) {
		names = append(names, r.Keyword)
	}
	classes := make([]map[string]string, 0, len(names))
	for _, n := range names {
		classes = append(classes, map[string]string{"keyword": n, "relevance_category": "Direct"})
	}
	svc.handle(taskSummarize, func(Prompt) (string, error) { return "Material: memory foam", nil }).
		reply(taskFilter, map[string]any{"keywords": names}).
		reply(taskClassify, map[string]any{"classifications": classes}).
		reply(taskSelect, map[string]any{"selected": names[:50]}).
		reply(taskDistribute, map[string]any{
			"title_keyword":       names[:12],
			"bp_keyword":          names[12:27],
			"description_keyword": names[27:45],
			"leftover":            names[45:48],
		}).
		reply(taskTitle, map[string]string{"title": "Memory Foam Dog Bed"}).
		reply(taskBullets, map[string]any{"bullet_points": longBullets(5)}).
		reply(taskDescription, map[string]string{"description": "A bed for every dog."})
	for _, task := range []string{taskVerifyTitle, taskVerifyBullets, taskVerifyDesc} {
		svc.handle(task, func(p Prompt) (string, error) {
			return toJSON(map[string]string{"content": contentToVerify(p)}), nil
		})
	}
}

func newTestSession(t *testing.T, svc TextService, docs []string) *Session {
	t.Helper()
	s, err := NewSession(svc, Options{Pipeline: testConfig()}, Input{
		ProductName:   " Orthopedic Dog Bed ",
		Category:      "Pet Supplies",
		KeywordRows:   keywordRows(100),
		Documentation: docs,
	})
	require.NoError(t, err)
	return s
}

func TestSessionRunEndToEnd(t *testing.T) {
	svc := newFake()
	scriptFullRun(svc)
	s := newTestSession(t, svc, []string{"spec sheet"})
	require.NotEmpty(t, s.ID())

	res, err := s.Run(context.Background())
	require.NoError(t, err)
	require.Equal(t, []string{
		taskSummarize, taskFilter, taskClassify, taskSelect, taskDistribute,
		taskTitle, taskBullets, taskDescription,
		taskVerifyTitle, taskVerifyBullets, taskVerifyDesc,
	}, svc.tasks())

	require.Len(t, res.Backend, 50)
	require.Len(t, res.Budget.TitleKeywords, 10)
	require.Len(t, res.Budget.LeftoverKeywords, 7)
	requireDisjoint(t, res.Budget.TitleKeywords, res.Budget.BPKeywords, res.Budget.DescriptionKeywords, res.Budget.LeftoverKeywords, res.Backend)
	require.Len(t, res.Unused, 57)
	require.Equal(t, "Memory Foam Dog Bed", res.Draft.Title)
	require.Equal(t, longBullets(5), res.Draft.BulletPoints)
	require.Equal(t, "Material: memory foam", res.Information)
	require.Len(t, res.Records, 100)
	require.False(t, res.Fallback)
	require.False(t, res.Unclassified)
	require.Equal(t, StateAwaitingFeedback, s.State())
	require.Contains(t, svc.last(taskDescription).User, longBullet(1))

	_, err = s.Run(context.Background())
	require.ErrorIs(t, err, ErrAlreadyRun)
}

func TestSessionRunWithoutDocsSkipsVerification(t *testing.T) {
	svc := newFake()
	scriptFullRun(svc)
	s := newTestSession(t, svc, nil)
	res, err := s.Run(context.Background())
	require.NoError(t, err)
	require.Equal(t, AbsentInformation, res.Information)
	require.Zero(t, svc.count(taskSummarize))
	require.Zero(t, svc.count(taskVerifyTitle))
}

func TestSessionRunSummaryFailureGatesVerification(t *testing.T) {
	svc := newFake().fail(taskSummarize, errors.New("down"))
	scriptFullRun(svc)
	// the failing handler was queued first, so summarize fails once and then recovers
	s := newTestSession(t, svc, []string{"doc"})
	res, err := s.Run(context.Background())
	require.NoError(t, err)
	require.Equal(t, AbsentInformation, res.Information)
	require.Zero(t, svc.count(taskVerifyTitle))
}

func TestSessionRunDistributorFailureSkipsGeneration(t *testing.T) {
	svc := newFake().fail(taskDistribute, errors.New("down"))
	scriptFullRun(svc)
	s := newTestSession(t, svc, nil)
	res, err := s.Run(context.Background())
	require.NoError(t, err)
	require.True(t, res.Budget.Empty())
	require.Zero(t, svc.count(taskTitle))
	require.Zero(t, svc.count(taskBullets))
	require.Zero(t, svc.count(taskDescription))
	require.Equal(t, ListingDraft{}, res.Draft)
	require.Equal(t, StateAwaitingFeedback, s.State())
}

func TestSessionRunVerifierFailurePropagates(t *testing.T) {
	svc := newFake().fail(taskVerifyBullets, errors.New("verifier down"))
	scriptFullRun(svc)
	s := newTestSession(t, svc, []string{"doc"})
	res, err := s.Run(context.Background())
	require.ErrorContains(t, err, "事实校验失败")
	require.ErrorContains(t, err, "verifier down")
	require.Equal(t, "Memory Foam Dog Bed", res.Draft.Title)
	require.Equal(t, StateAwaitingFeedback, s.State())
}

func TestSessionRunFilterFailureKeepsKeywords(t *testing.T) {
	svc := newFake().fail(taskFilter, errors.New("down"))
	scriptFullRun(svc)
	s := newTestSession(t, svc, nil)
	res, err := s.Run(context.Background())
	require.NoError(t, err)
	require.Len(t, res.Records, 100)
}

func TestSessionRunReportsClassificationFailure(t *testing.T) {
	svc := newFake().fail(taskClassify, errors.New("classifier down"))
	scriptFullRun(svc)
	s := newTestSession(t, svc, nil)
	res, err := s.Run(context.Background())
	require.NoError(t, err)
	require.True(t, res.Unclassified)
	require.Len(t, res.Records, 100)
	for _, r := range res.Records {
		require.Equal(t, keywords.ClassificationFailed, r.Relevance)
	}
	require.Equal(t, "Memory Foam Dog Bed", res.Draft.Title)
	require.Equal(t, StateAwaitingFeedback, s.State())
}

func TestNewSessionValidation(t *testing.T) {
	_, err := NewSession(nil, Options{}, Input{ProductName: "P", KeywordRows: keywordRows(1)})
	require.Error(t, err)
	_, err = NewSession(newFake(), Options{}, Input{ProductName: " ", KeywordRows: keywordRows(1)})
	require.ErrorContains(t, err, "产品名称不能为空")
	_, err = NewSession(newFake(), Options{}, Input{ProductName: "P"})
	require.ErrorIs(t, err, ErrNoKeywords)

	s, err := NewSession(newFake(), Options{ID: "fixed"}, Input{ProductName: "P", KeywordRows: []keywords.RawRow{{Keyword: "床"}}})
	require.NoError(t, err)
	require.Equal(t, "fixed", s.ID())
	_, err = s.Run(context.Background())
	require.ErrorIs(t, err, ErrNoKeywords)
}

func TestSessionExport(t *testing.T) {
	svc := newFake()
	scriptFullRun(svc)
	svc.reply(taskFeedbackParse, parsed("shorter", "", "")).
		reply("regen_title", map[string]string{"title": "Dog Bed"})
	s := newTestSession(t, svc, nil)
	_, err := s.Run(context.Background())
	require.NoError(t, err)
	_, err = s.Feedback(context.Background(), "make the title shorter")
	require.NoError(t, err)

	out := s.Export()
	require.True(t, strings.HasPrefix(out, "Product: Orthopedic Dog Bed\nCategory: Pet Supplies\nFeedback Rounds: 1\n  1. make the title shorter\n"))
	require.Contains(t, out, "\n[Title] - 7 chars\nDog Bed\n")
	require.Contains(t, out, "\n[Bullet Points] - 170, 170, 170, 170, 170 chars\n1. "+longBullet(1)+"\n")
	require.Contains(t, out, "\n5. "+longBullet(5)+"\n")
	require.Contains(t, out, "\n[Description] - 20 chars\nA bed for every dog.\n")
	require.Contains(t, out, "\n[Unused Keywords]\nbed010, bed011, ")
	require.True(t, strings.HasSuffix(out, "bed099\n"))
}

func TestSessionExportEmptyDraft(t *testing.T) {
	s, err := NewSession(newFake(), Options{}, Input{ProductName: "P", KeywordRows: keywordRows(1)})
	require.NoError(t, err)
	out := s.Export()
	require.Contains(t, out, "[Title] - 0 chars\n")
	require.Contains(t, out, "\n[Bullet Points]\n\n[Description] - 0 chars")
	require.NotContains(t, out, "Feedback Rounds")
}
