package http

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/Muradxanyann/OnlineQuizScoreService/internal/domain"
	"go.uber.org/zap"
)

// SubmissionProcessor runs one submission through the scoring pipeline.
type SubmissionProcessor interface {
	Process(ctx context.Context, ev domain.QuizSubmittedEvent) error
}

// AnswerKeyFetcher is used by the connectivity probe.
type AnswerKeyFetcher interface {
	FetchAnswerKey(ctx context.Context, quizID int) (domain.AnswerKey, bool)
}

// LeaderboardReader serves the per-quiz leaderboard read model.
type LeaderboardReader interface {
	Top(ctx context.Context, quizID, n int) ([]domain.LeaderboardEntry, error)
}

// Handler exposes the synchronous entry points: direct submission for
// manual replay, health, a quiz-manager connectivity probe and the
// leaderboard read model.
type Handler struct {
	processor   SubmissionProcessor
	quizzes     AnswerKeyFetcher
	leaderboard LeaderboardReader // optional
	log         *zap.Logger
}

func NewHandler(processor SubmissionProcessor, quizzes AnswerKeyFetcher, leaderboard LeaderboardReader, log *zap.Logger) *Handler {
	return &Handler{processor: processor, quizzes: quizzes, leaderboard: leaderboard, log: log}
}

func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/scoring/process-submission", h.processSubmission)
	mux.HandleFunc("GET /api/scoring/health", h.health)
	mux.HandleFunc("GET /api/scoring/test-connection/{quizId}", h.testConnection)
	if h.leaderboard != nil {
		mux.HandleFunc("GET /api/quizzes/{quizId}/leaderboard", h.quizLeaderboard)
	}
}

// processSubmission accepts the same event shape as the queue, bypassing
// the broker. Useful for manual replay and testing of the pipeline.
func (h *Handler) processSubmission(w http.ResponseWriter, r *http.Request) {
	var ev domain.QuizSubmittedEvent
	if err := json.NewDecoder(r.Body).Decode(&ev); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "malformed submission payload"})
		return
	}
	if err := h.processor.Process(r.Context(), ev); err != nil {
		h.log.Error("direct submission failed", zap.Int("quizId", ev.QuizID), zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal server error"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": "Submission processed successfully"})
}

func (h *Handler) health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "Healthy", "service": "Scoring Service"})
}

// testConnection probes the quiz manager for the given quiz id.
func (h *Handler) testConnection(w http.ResponseWriter, r *http.Request) {
	quizID, err := strconv.Atoi(r.PathValue("quizId"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid quiz id"})
		return
	}
	_, ok := h.quizzes.FetchAnswerKey(r.Context(), quizID)
	status := "Quiz not found"
	if ok {
		status = "Connected successfully"
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"quizDetails": status,
		"quizId":      quizID,
	})
}

func (h *Handler) quizLeaderboard(w http.ResponseWriter, r *http.Request) {
	quizID, err := strconv.Atoi(r.PathValue("quizId"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid quiz id"})
		return
	}
	limit := 10
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 {
			limit = n
		}
	}
	entries, err := h.leaderboard.Top(r.Context(), quizID, limit)
	if err != nil {
		h.log.Error("leaderboard read failed", zap.Int("quizId", quizID), zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal server error"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"quizId":  quizID,
		"entries": entries,
	})
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
