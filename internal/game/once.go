package game

import (
	"sync"
	"time"
)

// onceOrTimeout gates next on whichever comes first: the returned trigger
// being called or timeout elapsing. next runs at most once. cancel disarms
// both paths without running next.
func onceOrTimeout(timeout time.Duration, next func()) (trigger func(), cancel func()) {
	var once sync.Once
	timer := time.AfterFunc(timeout, func() { once.Do(next) })
	trigger = func() {
		timer.Stop()
		once.Do(next)
	}
	cancel = func() {
		timer.Stop()
		once.Do(func() {})
	}
	return trigger, cancel
}
