package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"testing"

	"kw-listing/internal/config"
	"kw-listing/internal/keywords"
)

type handler func(p Prompt) (string, error)

// fakeService answers each task from a queue of handlers. The last handler
// of a queue keeps answering once the others are used up.
type fakeService struct {
	mu       sync.Mutex
	handlers map[string][]handler
	calls    []Prompt
}

func newFake() *fakeService {
	return &fakeService{handlers: map[string][]handler{}}
}

func (f *fakeService) handle(task string, h handler) *fakeService {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.handlers[task] = append(f.handlers[task], h)
	return f
}

func (f *fakeService) reply(task string, v any) *fakeService {
	return f.handle(task, func(Prompt) (string, error) { return toJSON(v), nil })
}

func (f *fakeService) fail(task string, err error) *fakeService {
	return f.handle(task, func(Prompt) (string, error) { return "", err })
}

func (f *fakeService) Complete(_ context.Context, p Prompt) (string, error) {
	f.mu.Lock()
	f.calls = append(f.calls, p)
	q := f.handlers[p.Task]
	if len(q) == 0 {
		f.mu.Unlock()
		return "", fmt.Errorf("unscripted task %s", p.Task)
	}
	h := q[0]
	if len(q) > 1 {
		f.handlers[p.Task] = q[1:]
	}
	f.mu.Unlock()
	return h(p)
}

func (f *fakeService) tasks() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, 0, len(f.calls))
	for _, c := range f.calls {
		out = append(out, c.Task)
	}
	return out
}

func (f *fakeService) count(task string) int {
	n := 0
	for _, t := range f.tasks() {
		if t == task {
			n++
		}
	}
	return n
}

func (f *fakeService) last(task string) Prompt {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := len(f.calls) - 1; i >= 0; i-- {
		if f.calls[i].Task == task {
			return f.calls[i]
		}
	}
	return Prompt{}
}

func toJSON(v any) string {
	raw, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	return string(raw)
}

func testConfig() config.PipelineConfig {
	return config.PipelineConfig{}.WithDefaults()
}

func newTestEngine(svc TextService, mutate func(*config.PipelineConfig)) *Engine {
	cfg := testConfig()
	if mutate != nil {
		mutate(&cfg)
	}
	return NewEngine(svc, cfg, nil, "test")
}

var testProduct = Product{Name: "Orthopedic Dog Bed", Category: "Pet Supplies", Information: AbsentInformation}

func makeRecords(n int, tier keywords.Relevance, prefix string) []keywords.Record {
	out := make([]keywords.Record, 0, n)
	for i := 0; i < n; i++ {
		out = append(out, keywords.Record{
			Keyword:    fmt.Sprintf("%s%03d", prefix, i),
			Relevance:  tier,
			ValueScore: float64(n - i),
		})
	}
	return out
}

func longBullet(i int) string {
	return fmt.Sprintf("Benefit %d: ", i) + strings.TrimSpace(strings.Repeat("soft foam ", 16))
}

func longBullets(n int) []string {
	out := make([]string, 0, n)
	for i := 1; i <= n; i++ {
		out = append(out, longBullet(i))
	}
	return out
}

// contentToVerify echoes back the content section of a verify prompt.
func contentToVerify(p Prompt) string {
	const marker = "[Content to Verify - "
	i := strings.Index(p.User, marker)
	if i < 0 {
		return ""
	}
	rest := p.User[i+len(marker):]
	j := strings.Index(rest, "]\n")
	if j < 0 {
		return ""
	}
	return rest[j+2:]
}

func requireDisjoint(t *testing.T, lists ...[]string) {
	t.Helper()
	seen := map[string]int{}
	for i, l := range lists {
		for _, kw := range l {
			if prev, ok := seen[kw]; ok {
				t.Fatalf("keyword %q in partitions %d and %d", kw, prev, i)
			}
			seen[kw] = i
		}
	}
}
