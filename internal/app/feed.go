package app

import (
	"sync"

	"github.com/Muradxanyann/OnlineQuizScoreService/internal/domain"
)

// ScoreFeed fans persisted score updates out to in-process subscribers
// (the websocket transport). Publishing never blocks: a slow subscriber
// loses its oldest buffered update instead of stalling the pipeline.
type ScoreFeed struct {
	mu   sync.RWMutex
	subs map[chan domain.ScoreUpdate]struct{}
}

func NewScoreFeed() *ScoreFeed {
	return &ScoreFeed{subs: make(map[chan domain.ScoreUpdate]struct{})}
}

// Subscribe returns a channel of score updates. The caller must invoke the
// returned cancel function to avoid leaks.
func (f *ScoreFeed) Subscribe() (<-chan domain.ScoreUpdate, func()) {
	ch := make(chan domain.ScoreUpdate, 16)

	f.mu.Lock()
	f.subs[ch] = struct{}{}
	f.mu.Unlock()

	cancel := func() {
		f.mu.Lock()
		if _, ok := f.subs[ch]; ok {
			delete(f.subs, ch)
			close(ch)
		}
		f.mu.Unlock()
	}
	return ch, cancel
}

func (f *ScoreFeed) Publish(update domain.ScoreUpdate) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	for ch := range f.subs {
		select {
		case ch <- update:
		default:
			select {
			case <-ch:
			default:
			}
			select {
			case ch <- update:
			default:
			}
		}
	}
}
