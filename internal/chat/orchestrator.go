package chat

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"gorm.io/gorm"

	"github.com/suPer8Hu/chat-relay/internal/ai"
	"github.com/suPer8Hu/chat-relay/internal/common"
)

// ErrSessionNotFound covers both unknown ids and sessions owned by someone
// else, so callers cannot probe for other users' sessions.
var ErrSessionNotFound = errors.New("chat: session not found or access denied")

const (
	PlaceholderTitle = "New Chat"
	titleMaxRunes    = 50
	titleKeepRunes   = 47
)

// Orchestrator owns session lifecycle and message ordering.
type Orchestrator struct {
	repo     *Repo
	provider string
	now      func() time.Time
}

func NewOrchestrator(repo *Repo, provider string) *Orchestrator {
	return &Orchestrator{repo: repo, provider: provider, now: time.Now}
}

// Resolve returns the caller's session sessionID, or creates a new one when
// sessionID is empty.
func (o *Orchestrator) Resolve(ctx context.Context, sessionID string, userID uint64, model string) (*Session, error) {
	if strings.TrimSpace(sessionID) != "" {
		return o.Lookup(ctx, sessionID, userID)
	}
	return o.Create(ctx, userID, model)
}

func (o *Orchestrator) Lookup(ctx context.Context, sessionID string, userID uint64) (*Session, error) {
	sess, err := o.repo.GetSessionBySessionID(ctx, strings.TrimSpace(sessionID))
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrSessionNotFound
		}
		return nil, err
	}
	if sess.UserID != userID {
		return nil, ErrSessionNotFound
	}
	return sess, nil
}

func (o *Orchestrator) Create(ctx context.Context, userID uint64, model string) (*Session, error) {
	sid, err := NewSessionID()
	if err != nil {
		return nil, err
	}
	sess := &Session{
		SessionID: sid,
		UserID:    userID,
		Title:     PlaceholderTitle,
		Provider:  o.provider,
		Model:     model,
	}
	if err := o.repo.CreateSession(ctx, sess); err != nil {
		return nil, fmt.Errorf("chat: create session: %w", err)
	}
	return sess, nil
}

// BeginTurn stores the user's message and returns the history that came
// before it, in creation order. On the session's first message the title is
// derived from that message. An idempotency key that was already used in
// this session returns the stored message and the history before it.
func (o *Orchestrator) BeginTurn(ctx context.Context, sess *Session, content, model string, idempotencyKey *string) ([]Message, *Message, error) {
	var (
		history []Message
		userMsg *Message
	)
	err := o.repo.Tx(ctx, func(tx *Repo) error {
		if idempotencyKey != nil {
			existing, err := tx.GetMessageByIdempotencyKey(ctx, sess.UserID, sess.SessionID, *idempotencyKey)
			if err == nil {
				userMsg = existing
				history, err = tx.ListMessagesBefore(ctx, sess.SessionID, existing.ID)
				return err
			}
			if !errors.Is(err, gorm.ErrRecordNotFound) {
				return err
			}
		}

		prior, err := tx.ListSessionMessages(ctx, sess.SessionID)
		if err != nil {
			return err
		}

		now := o.now().UTC()
		if n := len(prior); n > 0 && !now.After(prior[n-1].CreatedAt) {
			now = prior[n-1].CreatedAt.Add(time.Millisecond)
		}
		msg := &Message{
			SessionID:      sess.SessionID,
			UserID:         sess.UserID,
			Role:           RoleUser,
			Content:        content,
			ModelUsed:      model,
			IdempotencyKey: idempotencyKey,
			CreatedAt:      now,
		}
		if err := tx.InsertMessage(ctx, msg); err != nil {
			return err
		}

		if len(prior) == 0 {
			title := DeriveTitle(content)
			if err := tx.UpdateSessionTitle(ctx, sess.SessionID, title); err != nil {
				return err
			}
			sess.Title = title
		}
		if err := tx.TouchSession(ctx, sess.SessionID, now); err != nil {
			return err
		}
		if now.After(sess.UpdatedAt) {
			sess.UpdatedAt = now
		}

		history, userMsg = prior, msg
		return nil
	})
	if err != nil {
		return nil, nil, fmt.Errorf("chat: begin turn: %w", err)
	}
	return history, userMsg, nil
}

// Reply is what a finished relay produced.
type Reply struct {
	Content    string
	Thinking   string
	Model      string
	TokensUsed int
}

// PersistAssistantMessage stores the reply strictly after userMsg. An empty
// reply (no content and no thinking) stores nothing and returns nil.
func (o *Orchestrator) PersistAssistantMessage(ctx context.Context, sess *Session, userMsg *Message, r Reply) (*Message, error) {
	content := strings.TrimSpace(r.Content)
	thinking := strings.TrimSpace(r.Thinking)
	if content == "" && thinking == "" {
		return nil, nil
	}

	now := o.now().UTC()
	if userMsg != nil && !now.After(userMsg.CreatedAt) {
		now = userMsg.CreatedAt.Add(time.Millisecond)
	}
	msg := &Message{
		SessionID: sess.SessionID,
		UserID:    sess.UserID,
		Role:      RoleAssistant,
		Content:   content,
		ModelUsed: r.Model,
		CreatedAt: now,
	}
	if thinking != "" {
		msg.Thinking = &thinking
	}
	if r.TokensUsed > 0 {
		tokens := r.TokensUsed
		msg.TokensUsed = &tokens
	}

	err := o.repo.Tx(ctx, func(tx *Repo) error {
		if err := tx.InsertMessage(ctx, msg); err != nil {
			return err
		}
		return tx.TouchSession(ctx, sess.SessionID, now)
	})
	if err != nil {
		return nil, fmt.Errorf("chat: persist assistant message: %w", err)
	}
	return msg, nil
}

func (o *Orchestrator) ListSessions(ctx context.Context, userID uint64) ([]SessionSummary, error) {
	return o.repo.ListSessions(ctx, userID)
}

func (o *Orchestrator) RenameSession(ctx context.Context, userID uint64, sessionID, title string) error {
	title = strings.TrimSpace(title)
	if title == "" {
		return fmt.Errorf("%w: title is required", ErrInvalidRequest)
	}
	if len([]rune(title)) > 255 {
		return fmt.Errorf("%w: title is too long", ErrInvalidRequest)
	}
	sess, err := o.Lookup(ctx, sessionID, userID)
	if err != nil {
		return err
	}
	return o.repo.UpdateSessionTitle(ctx, sess.SessionID, title)
}

func (o *Orchestrator) DeleteSession(ctx context.Context, userID uint64, sessionID string) error {
	sess, err := o.Lookup(ctx, sessionID, userID)
	if err != nil {
		return err
	}
	return o.repo.DeleteSession(ctx, sess.SessionID)
}

// Transcript returns the session and all of its messages in creation order.
func (o *Orchestrator) Transcript(ctx context.Context, userID uint64, sessionID string) (*Session, []Message, error) {
	sess, err := o.Lookup(ctx, sessionID, userID)
	if err != nil {
		return nil, nil, err
	}
	msgs, err := o.repo.ListSessionMessages(ctx, sess.SessionID)
	if err != nil {
		return nil, nil, err
	}
	return sess, msgs, nil
}

// Messages returns one page of the session, newest first, and the cursor for
// the next page (0 when there is none).
func (o *Orchestrator) Messages(ctx context.Context, userID uint64, sessionID string, limit int, beforeID uint64) ([]Message, uint64, error) {
	sess, err := o.Lookup(ctx, sessionID, userID)
	if err != nil {
		return nil, 0, err
	}
	if limit <= 0 || limit > 100 {
		limit = 50
	}
	msgs, err := o.repo.ListMessages(ctx, userID, sess.SessionID, limit+1, beforeID)
	if err != nil {
		return nil, 0, err
	}
	var next uint64
	if len(msgs) > limit {
		msgs = msgs[:limit]
		next = msgs[limit-1].ID
	}
	return msgs, next, nil
}

// DeriveTitle keeps short messages whole and cuts long ones to 47 runes plus
// an ellipsis.
func DeriveTitle(content string) string {
	content = strings.TrimSpace(content)
	if content == "" {
		return PlaceholderTitle
	}
	runes := []rune(content)
	if len(runes) <= titleMaxRunes {
		return content
	}
	return string(runes[:titleKeepRunes]) + "..."
}

// History converts stored messages to provider messages, skipping rows that
// carry no content.
func History(msgs []Message) []ai.Message {
	out := make([]ai.Message, 0, len(msgs))
	for _, m := range msgs {
		if m.Content == "" {
			continue
		}
		out = append(out, ai.Message{Role: m.Role, Content: m.Content})
	}
	return out
}

func NewSessionID() (string, error) {
	return common.NewULID()
}
