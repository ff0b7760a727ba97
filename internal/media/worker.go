package media

import (
	"sync"

	"github.com/rs/zerolog/log"
)

// Worker wraps one media engine instance and counts the rooms routed
// through it. Workers are created on demand and never destroyed while
// the process lives; the count is what bounds assignment (see the
// gateway registry).
type Worker struct {
	id     string
	engine Engine

	mu    sync.Mutex
	rooms int
}

func NewWorker(id string, engine Engine) *Worker {
	log.Info().Str("module", "media.worker").Str("worker", id).Msg("worker created")
	return &Worker{id: id, engine: engine}
}

func (w *Worker) ID() string     { return w.id }
func (w *Worker) Engine() Engine { return w.engine }

func (w *Worker) RoomsCount() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.rooms
}

// RetainRoom records that one more channel is routed through this worker.
func (w *Worker) RetainRoom() {
	w.mu.Lock()
	w.rooms++
	w.mu.Unlock()
}

// ReleaseRoom undoes RetainRoom when a room is destroyed, freeing
// capacity for future assignments.
func (w *Worker) ReleaseRoom() {
	w.mu.Lock()
	if w.rooms > 0 {
		w.rooms--
	}
	w.mu.Unlock()
}
