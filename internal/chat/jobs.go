package chat

import (
	"context"
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"github.com/suPer8Hu/chat-relay/internal/ai"
	"github.com/suPer8Hu/chat-relay/internal/common"
)

var ErrJobNotFound = errors.New("chat: job not found")

// EnqueueTurn admits a turn the same way Prepare does but leaves the upstream
// call to a worker. A repeated idempotency key returns the job created the
// first time, without consuming quota again.
func (p *Pipeline) EnqueueTurn(ctx context.Context, req TurnRequest) (*Job, bool, error) {
	if req.IdempotencyKey != nil && *req.IdempotencyKey != "" {
		existing, err := p.repo.GetJobByUserAndIdempotencyKey(ctx, req.UserID, *req.IdempotencyKey)
		if err == nil {
			return existing, false, nil
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, false, err
		}
	}

	sess, _, userMsg, err := p.admit(ctx, &req)
	if err != nil {
		return nil, false, err
	}

	id, err := common.NewULID()
	if err != nil {
		return nil, false, err
	}
	up := req.upstreamRequest("", nil, "")
	job := &Job{
		ID:             id,
		UserID:         req.UserID,
		SessionID:      sess.SessionID,
		Model:          req.Model,
		UpstreamModel:  req.UpstreamModel,
		UserMessageID:  userMsg.ID,
		Prompt:         userMsg.Content,
		Temperature:    up.Temperature,
		MaxTokens:      up.MaxTokens,
		IdempotencyKey: req.IdempotencyKey,
		Status:         JobQueued,
	}
	return p.repo.CreateJobOrGetExisting(ctx, job)
}

// GetJob returns the caller's job. Jobs of other users are reported as not
// found.
func (p *Pipeline) GetJob(ctx context.Context, userID uint64, jobID string) (*Job, error) {
	job, err := p.repo.GetJobByID(ctx, jobID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrJobNotFound
		}
		return nil, err
	}
	if job.UserID != userID {
		return nil, ErrJobNotFound
	}
	return job, nil
}

// discardFrames is the client of a queued turn: nobody is listening.
type discardFrames struct{}

func (discardFrames) WriteFrame(string) error { return nil }

// RunJob executes one queued turn to completion. A job that is already
// claimed or finished is skipped and reported as done.
func (p *Pipeline) RunJob(ctx context.Context, jobID string) error {
	claimed, err := p.repo.ClaimJob(ctx, jobID)
	if err != nil {
		return fmt.Errorf("chat: claim job %s: %w", jobID, err)
	}
	if !claimed {
		p.log.WithField("job_id", jobID).Info("job already claimed, skipping")
		return nil
	}

	job, err := p.repo.GetJobByID(ctx, jobID)
	if err != nil {
		p.release(ctx, jobID)
		return fmt.Errorf("chat: load job %s: %w", jobID, err)
	}

	log := p.log.WithFields(logrus.Fields{"job_id": job.ID, "session_id": job.SessionID})
	res, err := p.runJob(ctx, job)
	if err == nil && res.Err != nil && res.AssistantMessage == nil {
		err = res.Err
	}
	if err != nil {
		msg := ai.SanitizeError(err.Error())
		log.WithError(errors.New(msg)).Warn("job failed")
		p.metrics.RecordJob(string(JobFailed))
		if err := p.repo.MarkJobFailed(context.WithoutCancel(ctx), job.ID, msg); err != nil {
			p.release(ctx, job.ID)
			return fmt.Errorf("chat: mark job %s failed: %w", job.ID, err)
		}
		return nil
	}

	var resultID *uint64
	if res.AssistantMessage != nil {
		resultID = &res.AssistantMessage.ID
	}
	p.metrics.RecordJob(string(JobSucceeded))
	if err := p.repo.MarkJobSucceeded(context.WithoutCancel(ctx), job.ID, resultID); err != nil {
		p.release(ctx, job.ID)
		return fmt.Errorf("chat: mark job %s succeeded: %w", job.ID, err)
	}
	return nil
}

func (p *Pipeline) release(ctx context.Context, jobID string) {
	if err := p.repo.ReleaseJob(context.WithoutCancel(ctx), jobID); err != nil {
		p.log.WithError(err).WithField("job_id", jobID).Error("release job failed")
	}
}

func (p *Pipeline) runJob(ctx context.Context, job *Job) (TurnResult, error) {
	sess, err := p.orch.Lookup(ctx, job.SessionID, job.UserID)
	if err != nil {
		return TurnResult{}, err
	}
	userMsg, err := p.repo.GetMessageByID(ctx, job.UserMessageID)
	if err != nil {
		return TurnResult{}, fmt.Errorf("chat: load user message %d: %w", job.UserMessageID, err)
	}
	history, err := p.repo.ListMessagesBefore(ctx, job.SessionID, job.UserMessageID)
	if err != nil {
		return TurnResult{}, err
	}

	req := TurnRequest{
		UserID:        job.UserID,
		SessionID:     job.SessionID,
		Message:       job.Prompt,
		Model:         job.Model,
		UpstreamModel: job.UpstreamModel,
		Temperature:   &job.Temperature,
		MaxTokens:     &job.MaxTokens,
	}
	up, err := p.provider.OpenStream(ctx, req.upstreamRequest(p.systemPrompt, history, job.Prompt))
	if err != nil {
		return TurnResult{}, err
	}

	turn := &Turn{p: p, req: req, sess: sess, userMsg: userMsg, upstream: up}
	return turn.Relay(ctx, discardFrames{}), nil
}
