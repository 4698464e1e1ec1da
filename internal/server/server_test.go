package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"kw-listing/internal/config"
	"kw-listing/internal/pipeline"
)

var bullet = "Cloud Comfort: " + strings.Repeat("memory foam ", 13)

func answer(v any) (string, error) {
	raw, err := json.Marshal(v)
	return string(raw), err
}

// scriptedService answers every task the way a cooperative model would.
func scriptedService(failFeedback bool) pipeline.TextService {
	return pipeline.TextServiceFunc(func(_ context.Context, p pipeline.Prompt) (string, error) {
		switch p.Task {
		case "filter":
			return answer(map[string]any{"keywords": []string{"dog bed", "pet mat", "orthopedic bed"}})
		case "classify":
			return answer(map[string]any{"classifications": []map[string]string{
				{"keyword": "dog bed", "relevance_category": "Direct"},
				{"keyword": "pet mat", "relevance_category": "Related"},
			}})
		case "distribute":
			return answer(map[string]any{
				"title_keyword":       []string{"dog bed"},
				"bp_keyword":          []string{"orthopedic bed"},
				"description_keyword": []string{"pet mat"},
			})
		case "title":
			return answer(map[string]string{"title": "Orthopedic Dog Bed"})
		case "regen_title":
			return answer(map[string]string{"title": "Dog Bed"})
		case "bullets":
			return answer(map[string]any{"bullet_points": []string{bullet, bullet, bullet, bullet, bullet}})
		case "description":
			return answer(map[string]string{"description": "Soft and supportive."})
		case "feedback_parse":
			if failFeedback {
				return "", errors.New("model unavailable")
			}
			return answer(map[string]string{"title_feedback": "shorter", "bp_feedback": "", "description_feedback": ""})
		}
		return "", errors.New("unexpected task " + p.Task)
	})
}

func testFactory(failFeedback bool) SessionFactory {
	return func(id string, in pipeline.Input) (*pipeline.Session, error) {
		return pipeline.NewSession(scriptedService(failFeedback), pipeline.Options{ID: id, Pipeline: config.PipelineConfig{}}, in)
	}
}

func newTestServer(t *testing.T, failFeedback bool) *httptest.Server {
	t.Helper()
	ts := httptest.NewServer(New(testFactory(failFeedback), nil, Retention{}))
	t.Cleanup(ts.Close)
	return ts
}

func doJSON(t *testing.T, method, url string, body any, out any) int {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req, err := http.NewRequest(method, url, &buf)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	if out != nil {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
	}
	return resp.StatusCode
}

func createBody() map[string]any {
	return map[string]any{
		"product_name": "Orthopedic Dog Bed",
		"category":     "Pet Supplies",
		"keyword_rows": []map[string]any{
			{"keyword": "dog bed", "search_volume": 1000, "competing_products": "200"},
			{"keyword": "pet mat", "search_volume": "500", "competing_products": nil},
		},
		"keyword_csv": "Phrase,Search Volume,Keyword Sales\northopedic bed,300,>40\n",
	}
}

func TestSessionLifecycle(t *testing.T) {
	ts := newTestServer(t, false)

	var created sessionView
	require.Equal(t, http.StatusCreated, doJSON(t, http.MethodPost, ts.URL+"/sessions", createBody(), &created))
	require.NotEmpty(t, created.ID)
	require.Equal(t, "awaiting_feedback", created.State)
	require.Equal(t, "Orthopedic Dog Bed", created.Draft.Title)
	require.Len(t, created.Draft.BulletPoints, 5)
	require.Equal(t, []string{"dog bed"}, created.Budget.TitleKeywords)
	require.Empty(t, created.Error)

	var got sessionView
	require.Equal(t, http.StatusOK, doJSON(t, http.MethodGet, ts.URL+"/sessions/"+created.ID, nil, &got))
	require.Equal(t, created.Draft, got.Draft)

	var revised sessionView
	require.Equal(t, http.StatusOK, doJSON(t, http.MethodPost, ts.URL+"/sessions/"+created.ID+"/feedback", map[string]string{"feedback": "shorter title"}, &revised))
	require.Equal(t, "Dog Bed", revised.Draft.Title)
	require.Equal(t, []string{"shorter title"}, revised.Feedbacks)

	var errResp errorResponse
	require.Equal(t, http.StatusBadRequest, doJSON(t, http.MethodPost, ts.URL+"/sessions/"+created.ID+"/feedback", map[string]string{"feedback": " "}, &errResp))

	resp, err := http.Get(ts.URL + "/sessions/" + created.ID + "/export")
	require.NoError(t, err)
	var text bytes.Buffer
	_, _ = text.ReadFrom(resp.Body)
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.True(t, strings.HasPrefix(resp.Header.Get("Content-Type"), "text/plain"))
	require.Contains(t, text.String(), "[Title] - 7 chars\nDog Bed\n")

	var done sessionView
	require.Equal(t, http.StatusOK, doJSON(t, http.MethodPost, ts.URL+"/sessions/"+created.ID+"/complete", nil, &done))
	require.Equal(t, "done", done.State)
	require.Equal(t, http.StatusConflict, doJSON(t, http.MethodPost, ts.URL+"/sessions/"+created.ID+"/complete", nil, &errResp))
	require.Equal(t, http.StatusConflict, doJSON(t, http.MethodPost, ts.URL+"/sessions/"+created.ID+"/feedback", map[string]string{"feedback": "more"}, &errResp))
}

func TestSessionsAreIsolated(t *testing.T) {
	ts := newTestServer(t, false)
	var a, b sessionView
	require.Equal(t, http.StatusCreated, doJSON(t, http.MethodPost, ts.URL+"/sessions", createBody(), &a))
	require.Equal(t, http.StatusCreated, doJSON(t, http.MethodPost, ts.URL+"/sessions", createBody(), &b))
	require.NotEqual(t, a.ID, b.ID)

	var revised sessionView
	require.Equal(t, http.StatusOK, doJSON(t, http.MethodPost, ts.URL+"/sessions/"+a.ID+"/feedback", map[string]string{"feedback": "x"}, &revised))
	var other sessionView
	require.Equal(t, http.StatusOK, doJSON(t, http.MethodGet, ts.URL+"/sessions/"+b.ID, nil, &other))
	require.Equal(t, "Orthopedic Dog Bed", other.Draft.Title)
	require.Empty(t, other.Feedbacks)
}

func TestSessionsExpire(t *testing.T) {
	var elapsed atomic.Int64
	base := time.Now()
	srv := newServer(testFactory(false), nil, Retention{Idle: time.Hour, Done: time.Minute})
	srv.now = func() time.Time { return base.Add(time.Duration(elapsed.Load())) }
	ts := httptest.NewServer(srv.routes())
	t.Cleanup(ts.Close)

	var a, b, c sessionView
	var errResp errorResponse
	require.Equal(t, http.StatusCreated, doJSON(t, http.MethodPost, ts.URL+"/sessions", createBody(), &a))
	require.Equal(t, http.StatusCreated, doJSON(t, http.MethodPost, ts.URL+"/sessions", createBody(), &b))
	require.Equal(t, http.StatusOK, doJSON(t, http.MethodPost, ts.URL+"/sessions/"+a.ID+"/complete", nil, &a))

	// A completed session only outlives its last request by the done window.
	elapsed.Store(int64(2 * time.Minute))
	require.Equal(t, http.StatusNotFound, doJSON(t, http.MethodGet, ts.URL+"/sessions/"+a.ID, nil, &errResp))
	require.Equal(t, http.StatusOK, doJSON(t, http.MethodGet, ts.URL+"/sessions/"+b.ID, nil, &b))

	elapsed.Store(int64(61 * time.Minute))
	require.Equal(t, http.StatusOK, doJSON(t, http.MethodGet, ts.URL+"/sessions/"+b.ID+"/export", nil, nil))

	// Creating a session sweeps everything idle past its window.
	elapsed.Store(int64(122 * time.Minute))
	require.Equal(t, http.StatusCreated, doJSON(t, http.MethodPost, ts.URL+"/sessions", createBody(), &c))
	srv.mu.Lock()
	ids := make([]string, 0, len(srv.sessions))
	for id := range srv.sessions {
		ids = append(ids, id)
	}
	srv.mu.Unlock()
	require.Equal(t, []string{c.ID}, ids)
}

func TestErrorResponses(t *testing.T) {
	ts := newTestServer(t, true)
	var errResp errorResponse

	require.Equal(t, http.StatusNotFound, doJSON(t, http.MethodGet, ts.URL+"/sessions/nope", nil, &errResp))
	require.Contains(t, errResp.Error, "会话不存在")

	require.Equal(t, http.StatusUnprocessableEntity, doJSON(t, http.MethodPost, ts.URL+"/sessions", map[string]any{"product_name": "P"}, &errResp))
	require.Equal(t, http.StatusBadRequest, doJSON(t, http.MethodPost, ts.URL+"/sessions", map[string]any{"keyword_rows": []map[string]string{{"keyword": "dog bed"}}}, &errResp))
	require.Equal(t, http.StatusBadRequest, doJSON(t, http.MethodPost, ts.URL+"/sessions", map[string]any{"product_name": "P", "keyword_csv": "a,b\n1,2\n"}, &errResp))
	require.Contains(t, errResp.Error, "列格式不匹配")
	require.Equal(t, http.StatusUnprocessableEntity, doJSON(t, http.MethodPost, ts.URL+"/sessions", map[string]any{
		"product_name": "P", "keyword_rows": []map[string]string{{"keyword": "狗床"}},
	}, &errResp))

	resp, err := http.Post(ts.URL+"/sessions", "application/json", strings.NewReader("{"))
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)

	var created sessionView
	require.Equal(t, http.StatusCreated, doJSON(t, http.MethodPost, ts.URL+"/sessions", createBody(), &created))
	require.Equal(t, http.StatusBadGateway, doJSON(t, http.MethodPost, ts.URL+"/sessions/"+created.ID+"/feedback", map[string]string{"feedback": "x"}, &errResp))

	var health map[string]string
	require.Equal(t, http.StatusOK, doJSON(t, http.MethodGet, ts.URL+"/healthz", nil, &health))
	require.Equal(t, "ok", health["status"])
}

func TestFlexString(t *testing.T) {
	var row rowRequest
	require.NoError(t, json.Unmarshal([]byte(`{"keyword":"a","search_volume":12.5,"competing_products":">10"}`), &row))
	require.Equal(t, flexString("12.5"), row.SearchVolume)
	require.Equal(t, flexString(">10"), row.CompetingProducts)
	require.Error(t, json.Unmarshal([]byte(`{"search_volume":[1]}`), &row))
}
