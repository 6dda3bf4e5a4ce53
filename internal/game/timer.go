package game

import (
	"sync"
	"time"
)

// QuestionTimer counts a question's budget down in whole ticks. A run fires
// its expiry callback exactly once, never after Cancel, and starting a new run
// cancels the previous one.
type QuestionTimer struct {
	tick time.Duration

	mu        sync.Mutex
	gen       uint64
	remaining int
	onExpire  func()
	onTick    func(remaining int)
	stop      chan struct{}
}

// NewQuestionTimer builds a timer with the given tick; zero means one second.
func NewQuestionTimer(tick time.Duration) *QuestionTimer {
	if tick <= 0 {
		tick = time.Second
	}
	return &QuestionTimer{tick: tick}
}

// OnTick registers a callback invoked with the remaining seconds after every tick.
func (t *QuestionTimer) OnTick(fn func(remaining int)) {
	t.mu.Lock()
	t.onTick = fn
	t.mu.Unlock()
}

// Start begins a countdown of budgetSeconds ticks.
func (t *QuestionTimer) Start(budgetSeconds int, onExpire func()) {
	if budgetSeconds < 0 {
		budgetSeconds = 0
	}
	t.mu.Lock()
	t.cancelLocked()
	t.gen++
	gen := t.gen
	stop := make(chan struct{})
	t.stop = stop
	t.remaining = budgetSeconds
	t.onExpire = onExpire
	t.mu.Unlock()

	go t.run(gen, stop)
}

func (t *QuestionTimer) run(gen uint64, stop chan struct{}) {
	ticker := time.NewTicker(t.tick)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
		}

		t.mu.Lock()
		if t.gen != gen {
			t.mu.Unlock()
			return
		}
		if t.remaining > 0 {
			t.remaining--
		}
		remaining := t.remaining
		tick := t.onTick
		var expire func()
		if remaining == 0 {
			expire = t.onExpire
			t.onExpire = nil
			t.gen++
			t.stop = nil
		}
		t.mu.Unlock()

		if tick != nil {
			tick(remaining)
		}
		if remaining == 0 {
			if expire != nil {
				expire()
			}
			return
		}
	}
}

// Cancel stops the current run. It is safe to call when idle.
func (t *QuestionTimer) Cancel() {
	t.mu.Lock()
	t.cancelLocked()
	t.mu.Unlock()
}

// Reset cancels the run and clears the pending callback and remaining time.
func (t *QuestionTimer) Reset() {
	t.mu.Lock()
	t.cancelLocked()
	t.onExpire = nil
	t.remaining = 0
	t.mu.Unlock()
}

func (t *QuestionTimer) cancelLocked() {
	if t.stop != nil {
		close(t.stop)
		t.stop = nil
		t.gen++
	}
}

// Remaining returns the seconds left in the current or last run.
func (t *QuestionTimer) Remaining() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.remaining
}

// Running reports whether a countdown is active.
func (t *QuestionTimer) Running() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.stop != nil
}
