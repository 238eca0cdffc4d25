package service

import (
	"context"
	"errors"
	"strings"

	"curriculum-qa-be/internal/dto"
	"curriculum-qa-be/internal/pkg/logger"
	"curriculum-qa-be/pkg/rag/pipeline"
	"curriculum-qa-be/pkg/rag/session"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
)

var ErrSessionNotFound = fiber.NewError(fiber.StatusNotFound, "Session not found")

type IAskService interface {
	Ask(ctx context.Context, request *dto.AskRequest, debug bool) (*dto.AskResponse, error)
	GetSession(ctx context.Context, threadID string) (*dto.SessionResponse, error)
	ResetSession(ctx context.Context, threadID string) error
}

type askService struct {
	pipeline *pipeline.Pipeline
	sessions *session.Manager
	logger   logger.ILogger
}

func NewAskService(p *pipeline.Pipeline, sessions *session.Manager, log logger.ILogger) IAskService {
	return &askService{pipeline: p, sessions: sessions, logger: log}
}

func (s *askService) Ask(ctx context.Context, request *dto.AskRequest, debug bool) (*dto.AskResponse, error) {
	threadID := strings.TrimSpace(request.ThreadID)
	if threadID == "" {
		threadID = uuid.NewString()
	}

	answer, err := s.pipeline.Ask(ctx, threadID, request.Question)
	if err != nil {
		if errors.Is(err, pipeline.ErrEmptyQuestion) {
			return nil, fiber.NewError(fiber.StatusBadRequest, "question is required")
		}
		return nil, err
	}

	res := &dto.AskResponse{
		RunID:             answer.RunID,
		ThreadID:          answer.ThreadID,
		Answer:            answer.Text,
		Citations:         answer.Citations,
		Intent:            string(answer.Intent),
		Programs:          answer.Programs,
		Iterations:        answer.Iterations,
		Strategy:          string(answer.Strategy),
		FaithfulnessScore: answer.Faithfulness,
		Path:              answer.Path,
		TookMs:            answer.Took.Milliseconds(),
	}
	if debug {
		res.Trace = answer.Trace
	}
	return res, nil
}

func (s *askService) GetSession(ctx context.Context, threadID string) (*dto.SessionResponse, error) {
	sess, err := s.sessions.Get(ctx, threadID)
	if err != nil {
		s.logger.Error("AskService", "Failed to load session", map[string]interface{}{
			"thread_id": threadID,
			"error":     err.Error(),
		})
		return nil, err
	}
	if sess == nil {
		return nil, ErrSessionNotFound
	}

	turns := make([]dto.TurnDTO, len(sess.Turns))
	for i, t := range sess.Turns {
		turns[i] = dto.TurnDTO{Role: t.Role, Content: t.Content, CreatedAt: t.CreatedAt}
	}
	return &dto.SessionResponse{
		ThreadID:     sess.ID,
		Turns:        turns,
		LastPrograms: append([]string{}, sess.LastPrograms...),
		LastIntent:   string(sess.LastIntent),
		UpdatedAt:    sess.UpdatedAt,
	}, nil
}

func (s *askService) ResetSession(ctx context.Context, threadID string) error {
	return s.sessions.Reset(ctx, threadID)
}
