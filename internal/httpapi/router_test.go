package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/suPer8Hu/chat-relay/internal/ai"
	"github.com/suPer8Hu/chat-relay/internal/auth"
	"github.com/suPer8Hu/chat-relay/internal/catalog"
	"github.com/suPer8Hu/chat-relay/internal/chat"
	"github.com/suPer8Hu/chat-relay/internal/db"
	"github.com/suPer8Hu/chat-relay/internal/httpapi/handlers"
	"github.com/suPer8Hu/chat-relay/internal/logger"
	"github.com/suPer8Hu/chat-relay/internal/models"
	"github.com/suPer8Hu/chat-relay/internal/quota"
	"github.com/suPer8Hu/chat-relay/internal/ratelimit"
)

const testSecret = "test-secret"

var dbSeq atomic.Int64

func init() {
	gin.SetMode(gin.TestMode)
}

type fakePublisher struct {
	mu  sync.Mutex
	ids []string
}

func (p *fakePublisher) PublishJob(_ context.Context, jobID string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.ids = append(p.ids, jobID)
	return nil
}

type server struct {
	router    *gin.Engine
	db        *gorm.DB
	publisher *fakePublisher
	upstream  *httptest.Server
	// body lines the fake upstream answers with
	lines  []string
	status int
}

type option func(*Deps)

func newServer(t *testing.T, opts ...option) *server {
	t.Helper()
	s := &server{status: http.StatusOK, publisher: &fakePublisher{}}

	s.upstream = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.status != http.StatusOK {
			http.Error(w, `{"error":{"message":"bad api_key=sk-live-123"}}`, s.status)
			return
		}
		w.Header().Set("Content-Type", "text/event-stream")
		flusher := w.(http.Flusher)
		for _, l := range s.lines {
			fmt.Fprintf(w, "%s\n\n", l)
			flusher.Flush()
		}
	}))
	t.Cleanup(s.upstream.Close)

	gdb, err := db.Connect(fmt.Sprintf("file:httpapi_%d?mode=memory&cache=shared", dbSeq.Add(1)))
	require.NoError(t, err)
	sqlDB, err := gdb.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })
	require.NoError(t, db.Migrate(gdb))
	s.db = gdb

	pool := ai.NewPool(ai.PoolConfig{MaxConns: 4, ConnectTimeout: time.Second})
	t.Cleanup(pool.Close)
	provider := ai.NewGroqProvider(s.upstream.URL, "sk-test", pool.Client, 10*time.Second)

	log := logger.Discard()
	repo := chat.NewRepo(gdb)
	orch := chat.NewOrchestrator(repo, "groq")
	gate := quota.NewGate(gdb, quota.WithLocation(time.UTC))
	pipeline := chat.NewPipeline(gate, repo, orch, provider, chat.WithLogger(log))

	deps := Deps{
		Handler: &handlers.Handler{
			DB:       gdb,
			Pipeline: pipeline,
			Sessions: orch,
			Quota:    gate,
			Catalog:  catalog.New(gdb, time.Minute),
			Jobs:     s.publisher,
			Log:      log,
		},
		JWTSecret: testSecret,
		Log:       log,
	}
	for _, o := range opts {
		o(&deps)
	}
	s.router = NewRouter(deps)
	return s
}

func (s *server) user(t *testing.T, limit int) (*models.User, string) {
	t.Helper()
	u, err := db.CreateUser(context.Background(), s.db, fmt.Sprintf("u%d", dbSeq.Add(1)), "", "pw", limit)
	require.NoError(t, err)
	token, err := auth.SignJWT(testSecret, u.ID, u.Username, time.Hour)
	require.NoError(t, err)
	return u, token
}

func (s *server) do(t *testing.T, method, path, token string, body any, headers ...string) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)
	return w
}

type envelope struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

func decode(t *testing.T, w *httptest.ResponseRecorder) envelope {
	t.Helper()
	var e envelope
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &e), w.Body.String())
	return e
}

// parseSSE splits an event stream body into data payloads.
func parseSSE(body string) []string {
	var out []string
	for _, event := range strings.Split(body, "\n\n") {
		event = strings.TrimSpace(event)
		if event == "" {
			continue
		}
		var lines []string
		for _, l := range strings.Split(event, "\n") {
			lines = append(lines, strings.TrimPrefix(l, "data: "))
		}
		out = append(out, strings.Join(lines, "\n"))
	}
	return out
}

func TestStream_EndToEnd(t *testing.T) {
	s := newServer(t)
	s.lines = []string{
		`data: {"choices":[{"delta":{"role":"assistant"}}]}`,
		`data: {"choices":[{"delta":{"content":"<think>plan</think>Hi"}}]}`,
		`data: {"choices":[{"delta":{"content":" there"}}]}`,
		"data: [DONE]",
	}
	u, token := s.user(t, 5)

	w := s.do(t, http.MethodPost, "/api/chat/stream", token, gin.H{
		"message": "Hello", "model": "llama-3.1-8b-instant", "temperature": 0.3, "maxTokens": 64,
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, "text/event-stream", w.Header().Get("Content-Type"))
	assert.Equal(t, "no-cache", w.Header().Get("Cache-Control"))

	events := parseSSE(w.Body.String())
	require.GreaterOrEqual(t, len(events), 4)
	require.True(t, strings.HasPrefix(events[0], "SESSION_ID:"))
	sessionID := strings.TrimPrefix(events[0], "SESSION_ID:")
	assert.Equal(t, "[DONE]", events[len(events)-1])
	assert.NotContains(t, w.Body.String(), "plan")
	assert.Contains(t, w.Body.String(), `"content":"Hi"`)

	// the stored transcript matches what the client saw
	g := s.do(t, http.MethodGet, "/api/chat/sessions/"+sessionID, token, nil)
	require.Equal(t, http.StatusOK, g.Code)
	var got struct {
		Session  chat.Session   `json:"session"`
		Messages []chat.Message `json:"messages"`
	}
	require.NoError(t, json.Unmarshal(decode(t, g).Data, &got))
	require.Len(t, got.Messages, 2)
	assert.Equal(t, "Hello", got.Messages[0].Content)
	assert.Equal(t, "Hi there", got.Messages[1].Content)
	require.NotNil(t, got.Messages[1].Thinking)
	assert.Equal(t, "plan", *got.Messages[1].Thinking)
	assert.Equal(t, "Hello", got.Session.Title)

	usage := s.do(t, http.MethodGet, "/api/chat/usage", token, nil)
	require.Equal(t, http.StatusOK, usage.Code)
	var q quota.Usage
	require.NoError(t, json.Unmarshal(decode(t, usage).Data, &q))
	assert.Equal(t, u.ID, q.UserID)
	assert.Equal(t, 1, q.RequestsUsedToday)
	assert.Equal(t, 4, q.RemainingRequests)
}

func TestStream_RequiresToken(t *testing.T) {
	s := newServer(t)
	w := s.do(t, http.MethodPost, "/api/chat/stream", "", gin.H{"message": "hi", "model": "llama-3.1-8b-instant"})
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = s.do(t, http.MethodPost, "/api/chat/stream", "not-a-jwt", gin.H{"message": "hi", "model": "llama-3.1-8b-instant"})
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestStream_PreStreamErrors(t *testing.T) {
	s := newServer(t)
	s.lines = []string{"data: [DONE]"}
	_, token := s.user(t, 1)

	w := s.do(t, http.MethodPost, "/api/chat/stream", token, gin.H{"message": "", "model": "llama-3.1-8b-instant"})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = s.do(t, http.MethodPost, "/api/chat/stream", token, gin.H{"message": "hi", "model": "no-such-model"})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = s.do(t, http.MethodPost, "/api/chat/stream", token, gin.H{"message": "hi", "model": "llama-3.1-8b-instant", "temperature": 5})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = s.do(t, http.MethodPost, "/api/chat/stream", token, gin.H{
		"message": "hi", "model": "llama-3.1-8b-instant", "sessionId": "01NOSUCHSESSION00000000000",
	})
	assert.Equal(t, http.StatusNotFound, w.Code)

	// the one allowed request of the day
	w = s.do(t, http.MethodPost, "/api/chat/stream", token, gin.H{"message": "hi", "model": "llama-3.1-8b-instant"})
	require.Equal(t, http.StatusOK, w.Code)

	w = s.do(t, http.MethodPost, "/api/chat/stream", token, gin.H{"message": "again", "model": "llama-3.1-8b-instant"})
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Equal(t, "application/json; charset=utf-8", w.Header().Get("Content-Type"))
}

func TestStream_UpstreamRejects(t *testing.T) {
	s := newServer(t)
	s.status = http.StatusUnauthorized
	_, token := s.user(t, 5)

	w := s.do(t, http.MethodPost, "/api/chat/stream", token, gin.H{"message": "hi", "model": "llama-3.1-8b-instant"})
	assert.Equal(t, http.StatusBadGateway, w.Code)
	assert.NotContains(t, w.Body.String(), "sk-live-123")
}

func TestSessionsEndpoints(t *testing.T) {
	s := newServer(t)
	s.lines = []string{`data: {"choices":[{"delta":{"content":"ok"}}]}`, "data: [DONE]"}
	_, token := s.user(t, 10)
	_, intruder := s.user(t, 10)

	w := s.do(t, http.MethodPost, "/api/chat/stream", token, gin.H{"message": "first chat", "model": "llama-3.1-8b-instant"})
	require.Equal(t, http.StatusOK, w.Code)
	sessionID := strings.TrimPrefix(parseSSE(w.Body.String())[0], "SESSION_ID:")

	list := s.do(t, http.MethodGet, "/api/chat/sessions", token, nil)
	require.Equal(t, http.StatusOK, list.Code)
	var sessions struct {
		Sessions []chat.SessionSummary `json:"sessions"`
	}
	require.NoError(t, json.Unmarshal(decode(t, list).Data, &sessions))
	require.Len(t, sessions.Sessions, 1)
	assert.EqualValues(t, 2, sessions.Sessions[0].MessageCount)

	page := s.do(t, http.MethodGet, "/api/chat/sessions/"+sessionID+"/messages?limit=1", token, nil)
	require.Equal(t, http.StatusOK, page.Code)

	assert.Equal(t, http.StatusNotFound, s.do(t, http.MethodGet, "/api/chat/sessions/"+sessionID, intruder, nil).Code)

	rename := s.do(t, http.MethodPut, "/api/chat/sessions/"+sessionID+"/title", token, gin.H{"title": "Renamed"})
	require.Equal(t, http.StatusOK, rename.Code)
	assert.Equal(t, http.StatusBadRequest, s.do(t, http.MethodPut, "/api/chat/sessions/"+sessionID+"/title", token, gin.H{"title": ""}).Code)

	assert.Equal(t, http.StatusNotFound, s.do(t, http.MethodDelete, "/api/chat/sessions/"+sessionID, intruder, nil).Code)
	assert.Equal(t, http.StatusOK, s.do(t, http.MethodDelete, "/api/chat/sessions/"+sessionID, token, nil).Code)
	assert.Equal(t, http.StatusNotFound, s.do(t, http.MethodGet, "/api/chat/sessions/"+sessionID, token, nil).Code)
}

func TestAsyncEndpoints(t *testing.T) {
	s := newServer(t)
	_, token := s.user(t, 10)

	body := gin.H{"message": "queue me", "model": "llama-3.1-8b-instant"}
	w := s.do(t, http.MethodPost, "/api/chat/messages/async", token, body, "Idempotency-Key", "k-1")
	require.Equal(t, http.StatusAccepted, w.Code, w.Body.String())
	var first struct {
		JobID   string `json:"job_id"`
		Created bool   `json:"created"`
	}
	require.NoError(t, json.Unmarshal(decode(t, w).Data, &first))
	assert.True(t, first.Created)

	w = s.do(t, http.MethodPost, "/api/chat/messages/async", token, body, "Idempotency-Key", "k-1")
	require.Equal(t, http.StatusAccepted, w.Code)
	var second struct {
		JobID   string `json:"job_id"`
		Created bool   `json:"created"`
	}
	require.NoError(t, json.Unmarshal(decode(t, w).Data, &second))
	assert.Equal(t, first.JobID, second.JobID)
	assert.False(t, second.Created)
	assert.Equal(t, []string{first.JobID}, s.publisher.ids)

	job := s.do(t, http.MethodGet, "/api/chat/jobs/"+first.JobID, token, nil)
	require.Equal(t, http.StatusOK, job.Code)
	assert.Contains(t, job.Body.String(), `"status":"queued"`)

	_, other := s.user(t, 10)
	assert.Equal(t, http.StatusNotFound, s.do(t, http.MethodGet, "/api/chat/jobs/"+first.JobID, other, nil).Code)
}

func TestRateLimit(t *testing.T) {
	s := newServer(t, func(d *Deps) { d.Limiter = ratelimit.NewLocalLimiter(1, 1) })
	s.lines = []string{"data: [DONE]"}
	_, token := s.user(t, 10)

	body := gin.H{"message": "hi", "model": "llama-3.1-8b-instant"}
	require.Equal(t, http.StatusOK, s.do(t, http.MethodPost, "/api/chat/stream", token, body).Code)
	w := s.do(t, http.MethodPost, "/api/chat/stream", token, body)
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Equal(t, "60", w.Header().Get("Retry-After"))
}

func TestPublicEndpoints(t *testing.T) {
	s := newServer(t)
	_, token := s.user(t, 10)

	w := s.do(t, http.MethodGet, "/health", "", nil, "X-Request-Id", "req-123")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "req-123", w.Header().Get("X-Request-Id"))

	w = s.do(t, http.MethodGet, "/metrics", "", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "chat_relay_active_streams")

	w = s.do(t, http.MethodGet, "/api/chat/models", token, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "llama-3.1-8b-instant")

	assert.Equal(t, http.StatusNotFound, s.do(t, http.MethodGet, "/nope", "", nil).Code)
	assert.NotEmpty(t, s.do(t, http.MethodGet, "/ping", "", nil).Header().Get("X-Request-Id"))
}
