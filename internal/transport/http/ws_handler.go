package http

import (
	"net/http"
	"strconv"

	"github.com/Muradxanyann/OnlineQuizScoreService/internal/app"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// WSHandler streams persisted score updates to websocket clients.
type WSHandler struct {
	feed     *app.ScoreFeed
	upgrader websocket.Upgrader
	log      *zap.Logger
}

func NewWSHandler(feed *app.ScoreFeed, log *zap.Logger) *WSHandler {
	return &WSHandler{
		feed: feed,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		log: log,
	}
}

type outboundMessage struct {
	Type    string      `json:"type"`
	Payload interface{} `json:"payload"`
}

// ServeWS upgrades the request and forwards score updates, optionally
// filtered to one quiz via the quizId query parameter.
func (h *WSHandler) ServeWS(w http.ResponseWriter, r *http.Request) {
	quizFilter := 0
	if raw := r.URL.Query().Get("quizId"); raw != "" {
		id, err := strconv.Atoi(raw)
		if err != nil {
			http.Error(w, "invalid quizId", http.StatusBadRequest)
			return
		}
		quizFilter = id
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn("ws upgrade failed", zap.Error(err))
		return
	}
	defer conn.Close()

	updates, cancel := h.feed.Subscribe()
	defer cancel()

	// Reader goroutine only notices the client hanging up.
	clientGone := make(chan struct{})
	go func() {
		defer close(clientGone)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case <-clientGone:
			return
		case update, ok := <-updates:
			if !ok {
				return
			}
			if quizFilter != 0 && update.QuizID != quizFilter {
				continue
			}
			if err := conn.WriteJSON(outboundMessage{Type: "scoreUpdate", Payload: update}); err != nil {
				h.log.Debug("ws write error", zap.Error(err))
				return
			}
		}
	}
}
