// Package progress fans task progress out to in-process subscribers (live
// UIs, websocket bridges) while bounding broadcast volume: the underlying
// progress sources emit far more often than any consumer needs.
//
// An update is broadcast when its percentage has moved at least one point,
// when at least a second has passed since the last broadcast, or when it is
// terminal. Terminal updates are always delivered and end the stream.
package progress

import (
	"log/slog"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/phrazzld/cadenza/internal/state"
)

// subscriberBuffer is each subscriber channel's capacity. A subscriber that
// falls this far behind loses intermediate updates, never the terminal one.
const subscriberBuffer = 16

// rateWindow is the minimum spacing of time-triggered broadcasts.
const rateWindow = time.Second

// Update is one progress report for a task.
type Update struct {
	TaskID      string      `json:"task_id"`
	Stage       state.Stage `json:"stage"`
	Percent     float64     `json:"percent"`
	Message     string      `json:"message,omitempty"`
	BytesPerSec float64     `json:"bytes_per_sec,omitempty"`
	Error       string      `json:"error,omitempty"`
}

// Terminal reports whether this update ends the task's progress stream.
func (u Update) Terminal() bool {
	return u.Stage.Terminal() || u.Percent >= 100 || u.Error != ""
}

type taskState struct {
	limiter *rate.Limiter
	lastPct float64
	sentAny bool
}

// Broadcaster throttles and fans out progress updates per task.
type Broadcaster struct {
	mu      sync.Mutex
	subs    map[string]map[int]chan Update
	tasks   map[string]*taskState
	nextSub int
	logger  *slog.Logger
}

// NewBroadcaster creates an empty Broadcaster.
func NewBroadcaster(logger *slog.Logger) *Broadcaster {
	return &Broadcaster{
		subs:   make(map[string]map[int]chan Update),
		tasks:  make(map[string]*taskState),
		logger: logger.With("component", "progress_broadcaster"),
	}
}

// Subscribe returns a channel of throttled updates for the task and a cancel
// function. The channel is closed after a terminal update or on cancel.
func (b *Broadcaster) Subscribe(taskID string) (<-chan Update, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	ch := make(chan Update, subscriberBuffer)
	if b.subs[taskID] == nil {
		b.subs[taskID] = make(map[int]chan Update)
	}
	id := b.nextSub
	b.nextSub++
	b.subs[taskID][id] = ch

	cancel := func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		if sub, ok := b.subs[taskID][id]; ok {
			delete(b.subs[taskID], id)
			if len(b.subs[taskID]) == 0 {
				delete(b.subs, taskID)
			}
			close(sub)
		}
	}
	return ch, cancel
}

// Publish applies the throttle and fans the update out to the task's
// subscribers. Slow subscribers drop intermediate updates rather than block
// the publisher.
func (b *Broadcaster) Publish(u Update) {
	b.mu.Lock()
	defer b.mu.Unlock()

	st, ok := b.tasks[u.TaskID]
	if !ok {
		st = &taskState{limiter: rate.NewLimiter(rate.Every(rateWindow), 1)}
		b.tasks[u.TaskID] = st
	}

	// Allow consumes the time-window token if one is available, so a
	// delta-triggered send also restarts the one-second window.
	timeDue := st.limiter.Allow()
	terminal := u.Terminal()
	if !terminal && st.sentAny && !timeDue && u.Percent-st.lastPct < 1 {
		return
	}
	st.lastPct = u.Percent
	st.sentAny = true

	for id, ch := range b.subs[u.TaskID] {
		if terminal {
			// The terminal update must arrive even on a full buffer:
			// shed the oldest queued update to make room.
			for {
				select {
				case ch <- u:
				default:
					select {
					case <-ch:
						continue
					default:
					}
				}
				break
			}
			delete(b.subs[u.TaskID], id)
			close(ch)
			continue
		}
		select {
		case ch <- u:
		default:
			b.logger.Debug("dropping progress update for slow subscriber",
				"task_id", u.TaskID, "subscriber", id)
		}
	}

	if terminal {
		delete(b.subs, u.TaskID)
		delete(b.tasks, u.TaskID)
	}
}
