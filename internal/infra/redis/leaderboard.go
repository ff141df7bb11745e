package redis

import (
	"context"
	"fmt"
	"strconv"

	"github.com/Muradxanyann/OnlineQuizScoreService/internal/domain"
	"github.com/redis/go-redis/v9"
)

// Leaderboard maintains a per-quiz sorted set of accumulated user scores.
// It is a read model fed after results are committed; it never participates
// in the result transaction.
type Leaderboard struct {
	client *redis.Client
}

func NewLeaderboard(client *redis.Client) *Leaderboard {
	return &Leaderboard{client: client}
}

// Record implements app.LeaderboardWriter. Scores accumulate across
// redeliveries and repeat attempts, matching at-least-once semantics of the
// underlying store.
func (l *Leaderboard) Record(ctx context.Context, quizID, userID, score int) error {
	member := strconv.Itoa(userID)
	if err := l.client.ZIncrBy(ctx, l.key(quizID), float64(score), member).Err(); err != nil {
		return fmt.Errorf("record score: %w", err)
	}
	return nil
}

// Top returns up to n entries ordered by score descending.
func (l *Leaderboard) Top(ctx context.Context, quizID, n int) ([]domain.LeaderboardEntry, error) {
	if n <= 0 {
		n = 10
	}
	members, err := l.client.ZRevRangeWithScores(ctx, l.key(quizID), 0, int64(n-1)).Result()
	if err != nil {
		return nil, fmt.Errorf("read leaderboard: %w", err)
	}

	entries := make([]domain.LeaderboardEntry, 0, len(members))
	for _, m := range members {
		userID, err := strconv.Atoi(fmt.Sprint(m.Member))
		if err != nil {
			continue
		}
		entries = append(entries, domain.LeaderboardEntry{
			UserID: userID,
			Score:  int(m.Score),
		})
	}
	return entries, nil
}

func (l *Leaderboard) key(quizID int) string {
	return "quiz:" + strconv.Itoa(quizID) + ":leaderboard"
}
