package domain

import "time"

// SubmittedAnswer is a single answer inside a submission event.
type SubmittedAnswer struct {
	QuestionID       int `json:"questionId"`
	SelectedOptionID int `json:"selectedOptionId"`
}

// QuizSubmittedEvent is the inbound message published by the quiz manager
// when a user finishes a quiz. Field names match case-insensitively on
// receipt (encoding/json default).
type QuizSubmittedEvent struct {
	QuizID      int               `json:"quizId"`
	UserID      int               `json:"userId"`
	SubmittedAt time.Time         `json:"submittedAt"`
	TimeSpent   int               `json:"timeSpent,omitempty"`
	Answers     []SubmittedAnswer `json:"answers"`
}

// KeyOption is one answer option in the fetched answer key.
type KeyOption struct {
	ID        int  `json:"id"`
	IsCorrect bool `json:"isCorrect"`
}

// KeyQuestion groups the options of one question.
type KeyQuestion struct {
	ID      int         `json:"id"`
	Options []KeyOption `json:"options"`
}

// AnswerKey is the authoritative correct-option data for a quiz, fetched
// from the quiz manager and discarded after scoring. Option ids are unique
// across the whole quiz.
type AnswerKey struct {
	ID        int           `json:"id"`
	Questions []KeyQuestion `json:"questions"`
}

// UserAnswer is one persisted answer row, a child of UserResult.
type UserAnswer struct {
	ID         int64
	ResultID   int64
	QuestionID int
	OptionID   int
}

// UserResult is the aggregate root produced by scoring one submission.
// ID is zero until the store assigns it on insert; the aggregate is written
// once, atomically, and never mutated afterwards.
type UserResult struct {
	ID          int64
	UserID      int
	QuizID      int
	Score       int
	TimeSpent   int
	CompletedAt time.Time
	Answers     []UserAnswer
}

// LeaderboardEntry is one row of the per-quiz leaderboard read model.
type LeaderboardEntry struct {
	UserID int `json:"userId"`
	Score  int `json:"score"`
}

// ScoreUpdate is broadcast to live subscribers after a result is persisted.
type ScoreUpdate struct {
	ResultID    int64     `json:"resultId"`
	QuizID      int       `json:"quizId"`
	UserID      int       `json:"userId"`
	Score       int       `json:"score"`
	CompletedAt time.Time `json:"completedAt"`
}
