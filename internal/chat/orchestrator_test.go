package chat

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/suPer8Hu/chat-relay/internal/ai"
)

func TestDeriveTitle(t *testing.T) {
	long := "Explain quantum tunneling in simple terms for a beginner physics student today"
	got := DeriveTitle(long)
	assert.Equal(t, long[:47]+"...", got)
	assert.Len(t, []rune(got), 50)

	assert.Equal(t, "Short question", DeriveTitle("  Short question "))
	assert.Equal(t, strings.Repeat("a", 50), DeriveTitle(strings.Repeat("a", 50)))
	assert.Equal(t, PlaceholderTitle, DeriveTitle("   "))

	// counted in characters, not bytes
	wide := strings.Repeat("é", 60)
	assert.Equal(t, strings.Repeat("é", 47)+"...", DeriveTitle(wide))
}

func TestBeginTurn_TitleSetOnlyOnce(t *testing.T) {
	db := openTestDB(t)
	repo := NewRepo(db)
	orch := NewOrchestrator(repo, "fake")
	ctx := context.Background()

	sess, err := orch.Create(ctx, 7, "m")
	require.NoError(t, err)
	assert.Equal(t, PlaceholderTitle, sess.Title)

	first := "Explain quantum tunneling in simple terms for a beginner physics student today"
	history, msg, err := orch.BeginTurn(ctx, sess, first, "m", nil)
	require.NoError(t, err)
	assert.Empty(t, history)
	assert.Equal(t, RoleUser, msg.Role)

	_, _, err = orch.BeginTurn(ctx, sess, "a completely different follow-up", "m", nil)
	require.NoError(t, err)

	stored, err := repo.GetSessionBySessionID(ctx, sess.SessionID)
	require.NoError(t, err)
	assert.Equal(t, first[:47]+"...", stored.Title)
}

func TestBeginTurn_ReturnsPriorHistoryInOrder(t *testing.T) {
	db := openTestDB(t)
	repo := NewRepo(db)
	orch := NewOrchestrator(repo, "fake")
	ctx := context.Background()

	// a frozen clock forces the ordering bump
	frozen := time.Date(2026, 10, 14, 9, 0, 0, 0, time.UTC)
	orch.now = func() time.Time { return frozen }

	sess, err := orch.Create(ctx, 7, "m")
	require.NoError(t, err)
	_, u1, err := orch.BeginTurn(ctx, sess, "one", "m", nil)
	require.NoError(t, err)
	a1, err := orch.PersistAssistantMessage(ctx, sess, u1, Reply{Content: "two", Model: "m"})
	require.NoError(t, err)
	history, u2, err := orch.BeginTurn(ctx, sess, "three", "m", nil)
	require.NoError(t, err)

	require.Len(t, history, 2)
	assert.Equal(t, "one", history[0].Content)
	assert.Equal(t, "two", history[1].Content)
	assert.True(t, a1.CreatedAt.After(u1.CreatedAt))
	assert.True(t, u2.CreatedAt.After(a1.CreatedAt))
}

func TestBeginTurn_IdempotencyKeyReusesMessage(t *testing.T) {
	db := openTestDB(t)
	repo := NewRepo(db)
	orch := NewOrchestrator(repo, "fake")
	ctx := context.Background()
	key := "retry-1"

	sess, err := orch.Create(ctx, 7, "m")
	require.NoError(t, err)
	_, m1, err := orch.BeginTurn(ctx, sess, "hi", "m", &key)
	require.NoError(t, err)
	_, m2, err := orch.BeginTurn(ctx, sess, "hi", "m", &key)
	require.NoError(t, err)

	assert.Equal(t, m1.ID, m2.ID)
	n, err := repo.CountMessages(ctx, sess.SessionID)
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)
}

func TestPersistAssistantMessage_SkipsEmpty(t *testing.T) {
	db := openTestDB(t)
	repo := NewRepo(db)
	orch := NewOrchestrator(repo, "fake")
	ctx := context.Background()

	sess, err := orch.Create(ctx, 7, "m")
	require.NoError(t, err)
	_, u, err := orch.BeginTurn(ctx, sess, "hi", "m", nil)
	require.NoError(t, err)

	msg, err := orch.PersistAssistantMessage(ctx, sess, u, Reply{Content: "  ", Thinking: "\n"})
	require.NoError(t, err)
	assert.Nil(t, msg)

	msg, err = orch.PersistAssistantMessage(ctx, sess, u, Reply{Thinking: "only thoughts"})
	require.NoError(t, err)
	require.NotNil(t, msg)
	assert.Equal(t, "", msg.Content)
	require.NotNil(t, msg.Thinking)
	assert.Equal(t, "only thoughts", *msg.Thinking)
}

func TestSessionManagement(t *testing.T) {
	db := openTestDB(t)
	repo := NewRepo(db)
	orch := NewOrchestrator(repo, "fake")
	ctx := context.Background()

	s1, err := orch.Create(ctx, 7, "m")
	require.NoError(t, err)
	_, _, err = orch.BeginTurn(ctx, s1, "hello", "m", nil)
	require.NoError(t, err)
	s2, err := orch.Create(ctx, 7, "m")
	require.NoError(t, err)
	_, err = orch.Create(ctx, 8, "m")
	require.NoError(t, err)

	list, err := orch.ListSessions(ctx, 7)
	require.NoError(t, err)
	require.Len(t, list, 2)
	counts := map[string]int64{}
	for _, s := range list {
		counts[s.SessionID] = s.MessageCount
	}
	assert.EqualValues(t, 1, counts[s1.SessionID])
	assert.EqualValues(t, 0, counts[s2.SessionID])

	require.NoError(t, orch.RenameSession(ctx, 7, s2.SessionID, "Renamed"))
	got, err := orch.Lookup(ctx, s2.SessionID, 7)
	require.NoError(t, err)
	assert.Equal(t, "Renamed", got.Title)

	require.ErrorIs(t, orch.RenameSession(ctx, 8, s2.SessionID, "nope"), ErrSessionNotFound)
	require.ErrorIs(t, orch.RenameSession(ctx, 7, s2.SessionID, "  "), ErrInvalidRequest)

	require.ErrorIs(t, orch.DeleteSession(ctx, 8, s1.SessionID), ErrSessionNotFound)
	require.NoError(t, orch.DeleteSession(ctx, 7, s1.SessionID))
	_, err = orch.Lookup(ctx, s1.SessionID, 7)
	require.ErrorIs(t, err, ErrSessionNotFound)
	n, err := repo.CountMessages(ctx, s1.SessionID)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestMessagesPagination(t *testing.T) {
	db := openTestDB(t)
	repo := NewRepo(db)
	orch := NewOrchestrator(repo, "fake")
	ctx := context.Background()

	sess, err := orch.Create(ctx, 7, "m")
	require.NoError(t, err)
	for _, c := range []string{"a", "b", "c", "d", "e"} {
		_, _, err := orch.BeginTurn(ctx, sess, c, "m", nil)
		require.NoError(t, err)
	}

	page, next, err := orch.Messages(ctx, 7, sess.SessionID, 2, 0)
	require.NoError(t, err)
	require.Len(t, page, 2)
	assert.Equal(t, "e", page[0].Content)
	assert.Equal(t, "d", page[1].Content)
	require.NotZero(t, next)

	page, next, err = orch.Messages(ctx, 7, sess.SessionID, 10, next)
	require.NoError(t, err)
	require.Len(t, page, 3)
	assert.Equal(t, "a", page[2].Content)
	assert.Zero(t, next)

	_, _, err = orch.Messages(ctx, 8, sess.SessionID, 10, 0)
	require.ErrorIs(t, err, ErrSessionNotFound)
}

func TestHistory_SkipsThinkingOnlyReplies(t *testing.T) {
	thought := "hmm"
	got := History([]Message{
		{Role: RoleUser, Content: "q1"},
		{Role: RoleAssistant, Content: "", Thinking: &thought},
		{Role: RoleUser, Content: "q2"},
		{Role: RoleAssistant, Content: "a2"},
	})
	assert.Equal(t, []ai.Message{
		{Role: ai.RoleUser, Content: "q1"},
		{Role: ai.RoleUser, Content: "q2"},
		{Role: ai.RoleAssistant, Content: "a2"},
	}, got)
}
