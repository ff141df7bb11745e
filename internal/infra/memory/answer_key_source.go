package memory

import (
	"context"

	"github.com/Muradxanyann/OnlineQuizScoreService/internal/domain"
)

// StaticAnswerKeySource serves answer keys from an in-memory map (useful
// for tests/demos when the quiz manager is not configured).
type StaticAnswerKeySource struct {
	keys map[int]domain.AnswerKey
}

func NewStaticAnswerKeySource(keys map[int]domain.AnswerKey) *StaticAnswerKeySource {
	return &StaticAnswerKeySource{keys: keys}
}

// FetchAnswerKey implements app.AnswerKeyFetcher.
func (s *StaticAnswerKeySource) FetchAnswerKey(_ context.Context, quizID int) (domain.AnswerKey, bool) {
	key, ok := s.keys[quizID]
	return key, ok
}
