package chat

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/suPer8Hu/chat-relay/internal/ai"
	"github.com/suPer8Hu/chat-relay/internal/logger"
	"github.com/suPer8Hu/chat-relay/internal/metrics"
	"github.com/suPer8Hu/chat-relay/internal/quota"
	"github.com/suPer8Hu/chat-relay/internal/stream"
)

var ErrInvalidRequest = errors.New("chat: invalid request")

const (
	DefaultTemperature = 0.7
	DefaultMaxTokens   = 1000
	MaxTokensLimit     = 4000

	defaultPersistTimeout = 10 * time.Second
)

const (
	OutcomeCompleted     = "completed"
	OutcomeUpstreamError = "upstream_error"
	OutcomeCancelled     = "cancelled"
)

// QuotaGate is the part of quota.Gate the pipeline needs.
type QuotaGate interface {
	CanMakeRequest(ctx context.Context, userID uint64) (bool, error)
	Consume(ctx context.Context, userID uint64) error
}

// FrameWriter delivers one rendered SSE event to the client. An error means
// the client is gone.
type FrameWriter interface {
	WriteFrame(event string) error
}

type Pipeline struct {
	gate           QuotaGate
	orch           *Orchestrator
	repo           *Repo
	provider       ai.Provider
	systemPrompt   string
	log            logrus.FieldLogger
	metrics        *metrics.Metrics
	persistTimeout time.Duration
}

type PipelineOption func(*Pipeline)

func WithSystemPrompt(prompt string) PipelineOption {
	return func(p *Pipeline) { p.systemPrompt = strings.TrimSpace(prompt) }
}

func WithLogger(log logrus.FieldLogger) PipelineOption {
	return func(p *Pipeline) {
		if log != nil {
			p.log = log
		}
	}
}

func WithMetrics(m *metrics.Metrics) PipelineOption {
	return func(p *Pipeline) { p.metrics = m }
}

func WithPersistTimeout(d time.Duration) PipelineOption {
	return func(p *Pipeline) {
		if d > 0 {
			p.persistTimeout = d
		}
	}
}

func NewPipeline(gate QuotaGate, repo *Repo, orch *Orchestrator, provider ai.Provider, opts ...PipelineOption) *Pipeline {
	p := &Pipeline{
		gate:           gate,
		orch:           orch,
		repo:           repo,
		provider:       provider,
		log:            logger.Discard(),
		persistTimeout: defaultPersistTimeout,
	}
	for _, o := range opts {
		o(p)
	}
	return p
}

// TurnRequest is one user chat turn. Model is the catalog id stored with the
// conversation; UpstreamModel, when set, is what the provider is asked for.
type TurnRequest struct {
	UserID         uint64
	SessionID      string
	Message        string
	Model          string
	UpstreamModel  string
	Temperature    *float64
	MaxTokens      *int
	IdempotencyKey *string
}

func (r *TurnRequest) validate() error {
	r.Message = strings.TrimSpace(r.Message)
	r.Model = strings.TrimSpace(r.Model)
	if r.Message == "" {
		return fmt.Errorf("%w: message is required", ErrInvalidRequest)
	}
	if r.Model == "" {
		return fmt.Errorf("%w: model is required", ErrInvalidRequest)
	}
	if t := r.Temperature; t != nil && (*t < 0 || *t > 2) {
		return fmt.Errorf("%w: temperature must be between 0 and 2", ErrInvalidRequest)
	}
	if n := r.MaxTokens; n != nil && (*n < 1 || *n > MaxTokensLimit) {
		return fmt.Errorf("%w: maxTokens must be between 1 and %d", ErrInvalidRequest, MaxTokensLimit)
	}
	if r.IdempotencyKey != nil && strings.TrimSpace(*r.IdempotencyKey) == "" {
		r.IdempotencyKey = nil
	}
	return nil
}

func (r TurnRequest) upstreamRequest(systemPrompt string, history []Message, content string) ai.Request {
	req := ai.Request{
		Model:       r.Model,
		Messages:    ai.BuildMessages(systemPrompt, History(history), content),
		Temperature: DefaultTemperature,
		MaxTokens:   DefaultMaxTokens,
	}
	if r.UpstreamModel != "" {
		req.Model = r.UpstreamModel
	}
	if r.Temperature != nil {
		req.Temperature = *r.Temperature
	}
	if r.MaxTokens != nil {
		req.MaxTokens = *r.MaxTokens
	}
	return req
}

// admit runs every check and mutation that must happen before the upstream
// call, in an order that leaves no trace when a check fails: quota is read,
// the session is looked up, and only then is quota consumed and anything
// written.
func (p *Pipeline) admit(ctx context.Context, req *TurnRequest) (*Session, []Message, *Message, error) {
	if err := req.validate(); err != nil {
		return nil, nil, nil, err
	}

	ok, err := p.gate.CanMakeRequest(ctx, req.UserID)
	if err != nil {
		return nil, nil, nil, err
	}
	if !ok {
		p.metrics.RecordRejection("quota")
		return nil, nil, nil, quota.ErrQuotaExceeded
	}

	var sess *Session
	if strings.TrimSpace(req.SessionID) != "" {
		if sess, err = p.orch.Lookup(ctx, req.SessionID, req.UserID); err != nil {
			p.metrics.RecordRejection("session")
			return nil, nil, nil, err
		}
	}

	if err := p.gate.Consume(ctx, req.UserID); err != nil {
		if errors.Is(err, quota.ErrQuotaExceeded) {
			p.metrics.RecordRejection("quota")
		}
		return nil, nil, nil, err
	}

	if sess == nil {
		if sess, err = p.orch.Create(ctx, req.UserID, req.Model); err != nil {
			return nil, nil, nil, err
		}
	}

	history, userMsg, err := p.orch.BeginTurn(ctx, sess, req.Message, req.Model, req.IdempotencyKey)
	if err != nil {
		return nil, nil, nil, err
	}
	return sess, history, userMsg, nil
}

// Prepare admits the turn and opens the upstream stream. Every error it
// returns happens before any byte is written to the client. The returned
// Turn must be either relayed or aborted.
func (p *Pipeline) Prepare(ctx context.Context, req TurnRequest) (*Turn, error) {
	sess, history, userMsg, err := p.admit(ctx, &req)
	if err != nil {
		return nil, err
	}

	up, err := p.provider.OpenStream(ctx, req.upstreamRequest(p.systemPrompt, history, userMsg.Content))
	if err != nil {
		p.log.WithFields(logrus.Fields{
			"session_id": sess.SessionID,
			"user_id":    req.UserID,
			"model":      req.Model,
		}).WithError(err).Warn("upstream connect failed")
		p.metrics.RecordRejection("upstream")
		return nil, err
	}

	return &Turn{p: p, req: req, sess: sess, userMsg: userMsg, upstream: up}, nil
}

// Turn is one admitted request with its upstream stream open.
type Turn struct {
	p        *Pipeline
	req      TurnRequest
	sess     *Session
	userMsg  *Message
	upstream *ai.Stream
}

func (t *Turn) SessionID() string { return t.sess.SessionID }

// Abort closes the upstream stream without relaying anything.
func (t *Turn) Abort() { t.upstream.Close() }

type TurnResult struct {
	SessionID        string
	UserMessage      *Message
	AssistantMessage *Message
	Outcome          string
	// Err is the mid-stream upstream failure, if any.
	Err error
	// PersistErr is set when the assistant message could not be stored.
	PersistErr error
	Forwarded  int
	Dropped    int
}

// Relay streams the turn to w: the session frame, every visible frame in
// upstream order, then the terminal frame. The assistant message is stored
// before the terminal frame is written, on every outcome, using whatever
// content was delivered.
func (t *Turn) Relay(ctx context.Context, w FrameWriter) TurnResult {
	p := t.p
	started := time.Now()
	p.metrics.StreamStarted()

	log := p.log.WithFields(logrus.Fields{
		"session_id": t.sess.SessionID,
		"user_id":    t.req.UserID,
		"model":      t.req.Model,
	})

	state := stream.NewState(t.sess.SessionID, t.req.UserID, t.req.Model)
	res := TurnResult{SessionID: t.sess.SessionID, UserMessage: t.userMsg}

	if err := w.WriteFrame(stream.SessionFrame(t.sess.SessionID)); err != nil {
		state.Cancelled = true
	}

relay:
	for !state.Cancelled {
		if ctx.Err() != nil {
			state.Cancelled = true
			break
		}
		select {
		case <-ctx.Done():
			state.Cancelled = true
			break relay
		case frag, ok := <-t.upstream.Fragments():
			if !ok {
				if err := t.upstream.Err(); err != nil {
					if ctx.Err() != nil {
						state.Cancelled = true
					} else {
						state.Err = err
					}
				}
				break relay
			}
			for _, f := range stream.Normalize(frag) {
				step := state.Process(f)
				switch step.Kind {
				case stream.StepForward:
					if err := w.WriteFrame(step.Frame.String()); err != nil {
						state.Cancelled = true
						break relay
					}
					state.Commit(step.Visible)
					res.Forwarded++
				case stream.StepDrop:
					log.WithError(step.Err).Debug("dropped upstream frame")
				case stream.StepDone:
					break relay
				}
			}
		}
	}
	t.upstream.Close()

	if !state.Cancelled {
		if rest := state.Finish(); rest != "" {
			if err := w.WriteFrame(stream.ContentFrame(rest).String()); err != nil {
				state.Cancelled = true
			} else {
				state.Commit(rest)
				res.Forwarded++
			}
		}
	}

	switch {
	case state.Cancelled:
		res.Outcome = OutcomeCancelled
	case state.Err != nil:
		res.Outcome = OutcomeUpstreamError
		res.Err = state.Err
		log.WithError(errors.New(ai.SanitizeError(state.Err.Error()))).Warn("upstream stream failed")
	default:
		res.Outcome = OutcomeCompleted
	}
	res.Dropped = state.Dropped()

	// the client may be gone; storing what it saw must not depend on it
	pctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), p.persistTimeout)
	msg, err := p.orch.PersistAssistantMessage(pctx, t.sess, t.userMsg, Reply{
		Content:    state.Visible(),
		Thinking:   state.Thinking(),
		Model:      t.req.Model,
		TokensUsed: state.TotalTokens(),
	})
	cancel()
	if err != nil {
		res.PersistErr = err
		p.metrics.RecordPersistFailure()
		log.WithError(err).Error("persist assistant message failed")
	}
	res.AssistantMessage = msg

	if !state.Cancelled {
		if err := w.WriteFrame(stream.DoneFrame().String()); err != nil {
			log.WithError(err).Debug("client gone before terminal frame")
		}
	}

	elapsed := time.Since(started)
	p.metrics.RecordTurn(t.req.Model, res.Outcome, elapsed, res.Forwarded, res.Dropped)
	log.WithFields(logrus.Fields{
		"outcome":   res.Outcome,
		"forwarded": res.Forwarded,
		"dropped":   res.Dropped,
		"tokens":    state.TotalTokens(),
		"cost_ms":   elapsed.Milliseconds(),
	}).Info("chat turn finished")
	return res
}
