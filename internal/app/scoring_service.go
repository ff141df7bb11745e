package app

import (
	"context"
	"fmt"

	"github.com/Muradxanyann/OnlineQuizScoreService/internal/domain"
	"go.uber.org/zap"
)

// AnswerKeyFetcher retrieves the correct-answer structure for a quiz.
// The second return is false when the quiz is unknown or the quiz manager
// is unreachable; absence is an expected outcome, not an error.
type AnswerKeyFetcher interface {
	FetchAnswerKey(ctx context.Context, quizID int) (domain.AnswerKey, bool)
}

// ResultUnit is one transactional scope over the result tables. A fresh
// unit is opened per submission; Commit and Rollback are safe to call
// redundantly, and the unit never commits on its own.
type ResultUnit interface {
	Begin(ctx context.Context) error
	SaveResult(ctx context.Context, res *domain.UserResult) (int64, error)
	Commit(ctx context.Context) error
	Rollback(ctx context.Context) error
}

// ResultStore opens transactional units of work.
type ResultStore interface {
	NewUnit() ResultUnit
}

// LeaderboardWriter records a persisted score into the per-quiz read model.
type LeaderboardWriter interface {
	Record(ctx context.Context, quizID, userID, score int) error
}

// ScoringService processes quiz submissions: fetch the answer key, score,
// persist the result aggregate in one transaction.
type ScoringService struct {
	quizzes     AnswerKeyFetcher
	store       ResultStore
	leaderboard LeaderboardWriter // optional
	feed        *ScoreFeed        // optional
	log         *zap.Logger
}

func NewScoringService(quizzes AnswerKeyFetcher, store ResultStore, log *zap.Logger) *ScoringService {
	return &ScoringService{quizzes: quizzes, store: store, log: log}
}

// WithLeaderboard attaches an optional leaderboard read model.
func (s *ScoringService) WithLeaderboard(lb LeaderboardWriter) *ScoringService {
	s.leaderboard = lb
	return s
}

// WithFeed attaches an optional live score-update feed.
func (s *ScoringService) WithFeed(feed *ScoreFeed) *ScoringService {
	s.feed = feed
	return s
}

// Process runs one submission through fetch, score and persist.
//
// A missing answer key is handled locally: logged and swallowed, so the
// delivery layer can acknowledge the message. Any persistence failure rolls
// the transaction back and is returned to the caller so the delivery layer
// can requeue.
func (s *ScoringService) Process(ctx context.Context, ev domain.QuizSubmittedEvent) error {
	s.log.Info("scoring submission",
		zap.Int("quizId", ev.QuizID),
		zap.Int("userId", ev.UserID),
		zap.Int("answers", len(ev.Answers)))

	key, ok := s.quizzes.FetchAnswerKey(ctx, ev.QuizID)
	if !ok {
		s.log.Warn("quiz not found in quiz manager, dropping submission",
			zap.Int("quizId", ev.QuizID),
			zap.Int("userId", ev.UserID))
		return nil
	}

	result := ScoreSubmission(ev, key)

	unit := s.store.NewUnit()
	if err := unit.Begin(ctx); err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	id, err := unit.SaveResult(ctx, result)
	if err != nil {
		_ = unit.Rollback(ctx)
		s.log.Error("failed to save result",
			zap.Int("quizId", ev.QuizID),
			zap.Int("userId", ev.UserID),
			zap.Error(err))
		return fmt.Errorf("save result: %w", err)
	}
	if err := unit.Commit(ctx); err != nil {
		_ = unit.Rollback(ctx)
		s.log.Error("failed to commit result",
			zap.Int("quizId", ev.QuizID),
			zap.Int("userId", ev.UserID),
			zap.Error(err))
		return fmt.Errorf("commit result: %w", err)
	}
	result.ID = id

	s.log.Info("result persisted",
		zap.Int64("resultId", id),
		zap.Int("quizId", ev.QuizID),
		zap.Int("userId", ev.UserID),
		zap.Int("score", result.Score))

	// Read-side projections are best effort and never fail processing.
	if s.leaderboard != nil {
		if err := s.leaderboard.Record(ctx, ev.QuizID, ev.UserID, result.Score); err != nil {
			s.log.Warn("leaderboard update failed", zap.Int("quizId", ev.QuizID), zap.Error(err))
		}
	}
	if s.feed != nil {
		s.feed.Publish(domain.ScoreUpdate{
			ResultID:    id,
			QuizID:      ev.QuizID,
			UserID:      ev.UserID,
			Score:       result.Score,
			CompletedAt: result.CompletedAt,
		})
	}
	return nil
}

// ScoreSubmission computes the score for a submission against an answer key.
// Pure: no I/O, deterministic.
//
// Correct option ids are flattened across all questions into one set, and a
// submitted answer scores when its selected option is in that set. The
// lookup is deliberately not scoped to the submitted question id; see the
// cross-question tests for the consequence of that choice.
func ScoreSubmission(ev domain.QuizSubmittedEvent, key domain.AnswerKey) *domain.UserResult {
	correct := make(map[int]struct{})
	for _, q := range key.Questions {
		for _, opt := range q.Options {
			if opt.IsCorrect {
				correct[opt.ID] = struct{}{}
			}
		}
	}

	score := 0
	answers := make([]domain.UserAnswer, 0, len(ev.Answers))
	for _, a := range ev.Answers {
		if _, ok := correct[a.SelectedOptionID]; ok {
			score++
		}
		answers = append(answers, domain.UserAnswer{
			QuestionID: a.QuestionID,
			OptionID:   a.SelectedOptionID,
		})
	}

	return &domain.UserResult{
		UserID:      ev.UserID,
		QuizID:      ev.QuizID,
		Score:       score,
		TimeSpent:   ev.TimeSpent,
		CompletedAt: ev.SubmittedAt,
		Answers:     answers,
	}
}
