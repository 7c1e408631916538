package scheduler

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Local is the in-process timer backend. Pending triggers live only in this
// process; they are lost on restart, which is acceptable for single-node
// deployments where a restart re-runs the write pipeline anyway.
type Local struct {
	log *zap.Logger

	mu     sync.Mutex
	cb     Callback
	timers map[string]*time.Timer
}

// NewLocal creates an in-process scheduler.
func NewLocal(log *zap.Logger) *Local {
	return &Local{
		log:    log,
		timers: make(map[string]*time.Timer),
	}
}

func (l *Local) Bind(cb Callback) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.cb = cb
}

// Schedule arms a timer for the task. The timer always fires on its own
// goroutine, even for tasks already due: the caller may still hold the
// entity's key lock, and the callback re-acquires it.
func (l *Local) Schedule(_ context.Context, task Task) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.cb == nil {
		return errNotBound
	}
	cb := l.cb

	delay := time.Until(task.RunAt)
	if delay < 0 {
		delay = 0
	}

	l.timers[task.Name] = time.AfterFunc(delay, func() {
		l.mu.Lock()
		delete(l.timers, task.Name)
		l.mu.Unlock()

		l.log.Debug("activation timer fired",
			zap.String("task", task.Name),
			zap.Int64("history_id", task.HistoryID))
		cb(context.Background(), task)
	})

	l.log.Info("activation scheduled",
		zap.String("task", task.Name),
		zap.Time("run_at", task.RunAt),
		zap.Int64("history_id", task.HistoryID))
	return nil
}

func (l *Local) Cancel(_ context.Context, name string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if timer, ok := l.timers[name]; ok {
		timer.Stop()
		delete(l.timers, name)
		l.log.Info("activation cancelled", zap.String("task", name))
	}
	return nil
}

// Stop cancels every pending trigger. Used on shutdown and in tests.
func (l *Local) Stop() {
	l.mu.Lock()
	defer l.mu.Unlock()

	for name, timer := range l.timers {
		timer.Stop()
		delete(l.timers, name)
	}
}
