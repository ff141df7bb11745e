package quizmanager

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/Muradxanyann/OnlineQuizScoreService/internal/domain"
	"go.uber.org/zap"
)

// Client fetches answer keys from the quiz manager's internal endpoint.
//
// One attempt per call, no caching: a transport failure, non-2xx status or
// malformed body is reported as absence. Retrying, if wanted, belongs to
// the delivery layer.
type Client struct {
	baseURL string
	http    *http.Client
	log     *zap.Logger
}

func NewClient(baseURL string, timeout time.Duration, log *zap.Logger) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: timeout},
		log:     log,
	}
}

// FetchAnswerKey implements app.AnswerKeyFetcher.
func (c *Client) FetchAnswerKey(ctx context.Context, quizID int) (domain.AnswerKey, bool) {
	url := fmt.Sprintf("%s/api/quizzes/internal/%d/details", c.baseURL, quizID)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		c.log.Warn("build answer key request", zap.Int("quizId", quizID), zap.Error(err))
		return domain.AnswerKey{}, false
	}

	resp, err := c.http.Do(req)
	if err != nil {
		c.log.Warn("answer key fetch failed", zap.Int("quizId", quizID), zap.Error(err))
		return domain.AnswerKey{}, false
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		c.log.Warn("answer key fetch returned non-2xx",
			zap.Int("quizId", quizID),
			zap.Int("status", resp.StatusCode))
		return domain.AnswerKey{}, false
	}

	var key domain.AnswerKey
	if err := json.NewDecoder(resp.Body).Decode(&key); err != nil {
		c.log.Warn("answer key decode failed", zap.Int("quizId", quizID), zap.Error(err))
		return domain.AnswerKey{}, false
	}
	return key, true
}
