package chat

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	gormsqlite "github.com/glebarez/sqlite"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/suPer8Hu/chat-relay/internal/ai"
	"github.com/suPer8Hu/chat-relay/internal/models"
	"github.com/suPer8Hu/chat-relay/internal/quota"
)

var userSeq atomic.Int64

func openTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", name)
	db, err := gorm.Open(gormsqlite.Open(dsn), &gorm.Config{})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })
	require.NoError(t, db.AutoMigrate(&models.User{}, &Session{}, &Message{}, &Job{}))
	return db
}

func seedUser(t *testing.T, db *gorm.DB, limit, used int) *models.User {
	t.Helper()
	now := time.Now().UTC()
	u := &models.User{
		Username:          fmt.Sprintf("user-%d", userSeq.Add(1)),
		IsActive:          true,
		DailyRequestLimit: limit,
		RequestsUsedToday: used,
		LastRequestReset:  &now,
	}
	require.NoError(t, db.Create(u).Error)
	return u
}

func usedToday(t *testing.T, db *gorm.DB, id uint64) int {
	t.Helper()
	var u models.User
	require.NoError(t, db.First(&u, id).Error)
	return u.RequestsUsedToday
}

// fakeProvider serves a canned body line by line.
type fakeProvider struct {
	lines   []string
	failErr error // close the body with this error after the lines
	hold    bool  // keep the body open until the request is cancelled
	openErr error

	mu    sync.Mutex
	calls int
	last  ai.Request
}

func (f *fakeProvider) OpenStream(ctx context.Context, req ai.Request) (*ai.Stream, error) {
	f.mu.Lock()
	f.calls++
	f.last = req
	f.mu.Unlock()
	if f.openErr != nil {
		return nil, f.openErr
	}

	pr, pw := io.Pipe()
	go func() {
		for _, l := range f.lines {
			if _, err := io.WriteString(pw, l+"\n"); err != nil {
				return
			}
		}
		switch {
		case f.failErr != nil:
			_ = pw.CloseWithError(f.failErr)
		case f.hold:
			<-ctx.Done()
			_ = pw.CloseWithError(ctx.Err())
		default:
			_ = pw.Close()
		}
	}()
	return ai.NewStreamFromReader(ctx, pr), nil
}

func (f *fakeProvider) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func (f *fakeProvider) LastRequest() ai.Request {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.last
}

// recorder collects written events; onWrite runs after each one.
type recorder struct {
	events  []string
	onWrite func(event string)
	// failOn makes the write of a matching event fail, as a dead client would
	failOn func(event string) bool
}

var errClientGone = errors.New("client gone")

func (r *recorder) WriteFrame(event string) error {
	if r.failOn != nil && r.failOn(event) {
		return errClientGone
	}
	r.events = append(r.events, event)
	if r.onWrite != nil {
		r.onWrite(event)
	}
	return nil
}

func (r *recorder) joined() string { return strings.Join(r.events, "") }

func contentLine(text string) string {
	return fmt.Sprintf(`data: {"choices":[{"index":0,"delta":{"content":%q}}]}`, text)
}

type testEnv struct {
	db       *gorm.DB
	repo     *Repo
	pipeline *Pipeline
	provider *fakeProvider
}

func newTestEnv(t *testing.T, prov *fakeProvider) *testEnv {
	t.Helper()
	db := openTestDB(t)
	repo := NewRepo(db)
	gate := quota.NewGate(db, quota.WithLocation(time.UTC))
	p := NewPipeline(gate, repo, NewOrchestrator(repo, "fake"), prov,
		WithSystemPrompt("be brief"),
		WithPersistTimeout(5*time.Second),
	)
	return &testEnv{db: db, repo: repo, pipeline: p, provider: prov}
}

func (e *testEnv) messages(t *testing.T, sessionID string) []Message {
	t.Helper()
	msgs, err := e.repo.ListSessionMessages(context.Background(), sessionID)
	require.NoError(t, err)
	return msgs
}
