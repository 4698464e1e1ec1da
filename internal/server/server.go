package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"

	"kw-listing/internal/keywords"
	"kw-listing/internal/logging"
	"kw-listing/internal/pipeline"
)

const maxBodyBytes = 10 << 20

// SessionFactory builds a pipeline session for the given id.
type SessionFactory func(id string, in pipeline.Input) (*pipeline.Session, error)

// Retention bounds how long sessions stay in memory after their last
// request. Done applies once a session is complete. Zero values fall back
// to one hour idle and ten minutes done.
type Retention struct {
	Idle time.Duration
	Done time.Duration
}

func (r Retention) withDefaults() Retention {
	if r.Idle <= 0 {
		r.Idle = time.Hour
	}
	if r.Done <= 0 {
		r.Done = 10 * time.Minute
	}
	return r
}

type server struct {
	factory  SessionFactory
	logger   *logging.Logger
	keep     Retention
	now      func() time.Time
	mu       sync.Mutex
	sessions map[string]*entry
}

// entry serializes access to one session; different sessions run independently.
type entry struct {
	mu      sync.Mutex
	session *pipeline.Session
	expires time.Time // guarded by server.mu
}

func New(factory SessionFactory, logger *logging.Logger, keep Retention) http.Handler {
	return newServer(factory, logger, keep).routes()
}

func newServer(factory SessionFactory, logger *logging.Logger, keep Retention) *server {
	return &server{
		factory:  factory,
		logger:   logger,
		keep:     keep.withDefaults(),
		now:      time.Now,
		sessions: map[string]*entry{},
	}
}

func (s *server) routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(s.logRequests)

	r.Get("/healthz", s.handleHealth)
	r.Route("/sessions", func(r chi.Router) {
		r.Post("/", s.handleCreate)
		r.Route("/{id}", func(r chi.Router) {
			r.Get("/", s.handleGet)
			r.Post("/feedback", s.handleFeedback)
			r.Post("/complete", s.handleComplete)
			r.Get("/export", s.handleExport)
		})
	})
	return r
}

type errorResponse struct {
	Error string `json:"error"`
}

// flexString accepts either a JSON string or a JSON number.
type flexString string

func (f *flexString) UnmarshalJSON(raw []byte) error {
	if string(raw) == "null" {
		*f = ""
		return nil
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		*f = flexString(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(raw, &n); err != nil {
		return fmt.Errorf("需要字符串或数字：%s", raw)
	}
	*f = flexString(n.String())
	return nil
}

type rowRequest struct {
	Keyword           string     `json:"keyword"`
	SearchVolume      flexString `json:"search_volume"`
	CompetingProducts flexString `json:"competing_products"`
}

type createRequest struct {
	ProductName   string       `json:"product_name"`
	Category      string       `json:"category"`
	KeywordRows   []rowRequest `json:"keyword_rows"`
	KeywordCSV    string       `json:"keyword_csv"`
	Documentation []string     `json:"documentation_texts"`
}

type feedbackRequest struct {
	Feedback string `json:"feedback"`
}

type sessionView struct {
	ID        string                 `json:"id"`
	State     string                 `json:"state"`
	Draft     pipeline.ListingDraft  `json:"draft"`
	Budget    pipeline.KeywordBudget `json:"budget"`
	Unused    []string               `json:"unused_keywords"`
	Feedbacks []string               `json:"feedback_history"`
	Error     string                 `json:"error,omitempty"`
}

func viewOf(s *pipeline.Session) sessionView {
	return sessionView{
		ID:        s.ID(),
		State:     s.State().String(),
		Draft:     s.Draft(),
		Budget:    s.Budget(),
		Unused:    s.Unused(),
		Feedbacks: s.Feedbacks(),
	}
}

func (s *server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *server) handleCreate(w http.ResponseWriter, r *http.Request) {
	var req createRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
		return
	}
	in, err := req.input()
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
		return
	}
	id := uuid.NewString()
	sess, err := s.factory(id, in)
	if err != nil {
		writeJSON(w, createStatus(err), errorResponse{Error: err.Error()})
		return
	}
	_, runErr := sess.Run(r.Context())
	if errors.Is(runErr, pipeline.ErrNoKeywords) {
		writeJSON(w, createStatus(runErr), errorResponse{Error: runErr.Error()})
		return
	}

	s.mu.Lock()
	now := s.now()
	evicted := s.sweepLocked(now)
	s.sessions[sess.ID()] = &entry{session: sess, expires: now.Add(s.keep.Idle)}
	s.mu.Unlock()
	if evicted > 0 {
		s.logger.Emit(logging.Event{Event: "session_evicted", Count: evicted, Message: fmt.Sprintf("已清理 %d 个过期会话", evicted)})
	}

	view := viewOf(sess)
	if runErr != nil {
		view.Error = runErr.Error()
	}
	writeJSON(w, http.StatusCreated, view)
}

func (req createRequest) input() (pipeline.Input, error) {
	in := pipeline.Input{
		ProductName:   req.ProductName,
		Category:      req.Category,
		Documentation: req.Documentation,
	}
	for _, row := range req.KeywordRows {
		in.KeywordRows = append(in.KeywordRows, keywords.RawRow{
			Keyword:           row.Keyword,
			SearchVolume:      string(row.SearchVolume),
			CompetingProducts: string(row.CompetingProducts),
			Source:            "request",
		})
	}
	if strings.TrimSpace(req.KeywordCSV) != "" {
		rows, err := keywords.ReadCSV(strings.NewReader(req.KeywordCSV), "keyword_csv")
		if err != nil {
			return pipeline.Input{}, fmt.Errorf("keyword_csv %w", err)
		}
		in.KeywordRows = append(in.KeywordRows, rows...)
	}
	return in, nil
}

func (s *server) lookup(w http.ResponseWriter, r *http.Request) (*entry, bool) {
	id := chi.URLParam(r, "id")
	s.mu.Lock()
	e, ok := s.sessions[id]
	if ok && !s.now().Before(e.expires) {
		delete(s.sessions, id)
		ok = false
	}
	s.mu.Unlock()
	if !ok {
		writeJSON(w, http.StatusNotFound, errorResponse{Error: fmt.Sprintf("会话不存在：%s", id)})
		return nil, false
	}
	return e, true
}

// touch restarts the retention window. Callers hold e.mu.
func (s *server) touch(e *entry) {
	ttl := s.keep.Idle
	if e.session.State() == pipeline.StateDone {
		ttl = s.keep.Done
	}
	s.mu.Lock()
	e.expires = s.now().Add(ttl)
	s.mu.Unlock()
}

func (s *server) sweepLocked(now time.Time) int {
	n := 0
	for id, e := range s.sessions {
		if !now.Before(e.expires) {
			delete(s.sessions, id)
			n++
		}
	}
	return n
}

func (s *server) handleGet(w http.ResponseWriter, r *http.Request) {
	e, ok := s.lookup(w, r)
	if !ok {
		return
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	s.touch(e)
	writeJSON(w, http.StatusOK, viewOf(e.session))
}

func (s *server) handleFeedback(w http.ResponseWriter, r *http.Request) {
	e, ok := s.lookup(w, r)
	if !ok {
		return
	}
	var req feedbackRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
		return
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	s.touch(e)
	if _, err := e.session.Feedback(r.Context(), req.Feedback); err != nil {
		writeJSON(w, statusOf(err), errorResponse{Error: err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, viewOf(e.session))
}

func (s *server) handleComplete(w http.ResponseWriter, r *http.Request) {
	e, ok := s.lookup(w, r)
	if !ok {
		return
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	err := e.session.Complete()
	s.touch(e)
	if err != nil {
		writeJSON(w, statusOf(err), errorResponse{Error: err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, viewOf(e.session))
}

func (s *server) handleExport(w http.ResponseWriter, r *http.Request) {
	e, ok := s.lookup(w, r)
	if !ok {
		return
	}
	e.mu.Lock()
	text := e.session.Export()
	s.touch(e)
	e.mu.Unlock()
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="listing_%s.txt"`, chi.URLParam(r, "id")))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(text))
}

func createStatus(err error) int {
	if errors.Is(err, pipeline.ErrNoKeywords) {
		return http.StatusUnprocessableEntity
	}
	return http.StatusBadRequest
}

func statusOf(err error) int {
	switch {
	case errors.Is(err, pipeline.ErrEmptyFeedback):
		return http.StatusBadRequest
	case errors.Is(err, pipeline.ErrSessionDone), errors.Is(err, pipeline.ErrNotRun):
		return http.StatusConflict
	default:
		return http.StatusBadGateway
	}
}

func (s *server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		level := "info"
		if ww.Status() >= 500 {
			level = "error"
		}
		s.logger.Emit(logging.Event{
			Level:     level,
			Event:     "http_request",
			Input:     r.Method + " " + r.URL.Path,
			Count:     ww.Status(),
			LatencyMS: time.Since(start).Milliseconds(),
		})
	})
}

func decodeBody(w http.ResponseWriter, r *http.Request, out any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(out); err != nil {
		return fmt.Errorf("请求体无效：%w", err)
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
