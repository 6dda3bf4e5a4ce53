package game

import (
	"milhao-quiz-service/internal/domain"
)

// HelpState tracks the single-use aids and the skip counter of one session.
// It is owned by the machine's loop and is not safe for concurrent use.
type HelpState struct {
	hintUsed    bool
	crowdUsed   bool
	expertUsed  bool
	skips       int
	suddenDeath bool

	thresholds []int64
	crossed    map[int64]bool
}

// NewHelpState starts with every aid available and MaxSkips skips. thresholds
// are the guaranteed prizes that refill the aids the first time they are reached.
func NewHelpState(thresholds []int64) *HelpState {
	return &HelpState{
		skips:      domain.MaxSkips,
		thresholds: append([]int64(nil), thresholds...),
		crossed:    make(map[int64]bool),
	}
}

// Seed replaces the state with what the server reported. Thresholds at or
// below the guaranteed prize count as already crossed.
func (h *HelpState) Seed(help domain.Help, guaranteed int64, suddenDeath bool) {
	h.hintUsed = help.HintUsed
	h.crowdUsed = help.CrowdUsed
	h.expertUsed = help.ExpertUsed
	h.skips = help.SkipsRemaining
	h.crossed = make(map[int64]bool)
	for _, t := range h.thresholds {
		if guaranteed >= t {
			h.crossed[t] = true
		}
	}
	h.suddenDeath = false
	if suddenDeath {
		h.EnterSuddenDeath()
	}
}

func (h *HelpState) CheckHint() error {
	if h.suddenDeath {
		return domain.ErrAidsUnavailable
	}
	if h.hintUsed {
		return domain.ErrHintUsed
	}
	return nil
}

// UseHint marks the elimination aid used.
func (h *HelpState) UseHint() error {
	if err := h.CheckHint(); err != nil {
		return err
	}
	h.hintUsed = true
	return nil
}

func (h *HelpState) CheckCrowd() error {
	if h.suddenDeath {
		return domain.ErrAidsUnavailable
	}
	if h.crowdUsed {
		return domain.ErrCrowdUsed
	}
	return nil
}

// UseCrowd marks the crowd aid used.
func (h *HelpState) UseCrowd() error {
	if err := h.CheckCrowd(); err != nil {
		return err
	}
	h.crowdUsed = true
	return nil
}

// UseExpertComment marks the expert aid used. It fails when the current
// question carries no comment.
func (h *HelpState) UseExpertComment(hasComment bool) error {
	if h.suddenDeath {
		return domain.ErrAidsUnavailable
	}
	if h.expertUsed {
		return domain.ErrExpertUsed
	}
	if !hasComment {
		return domain.ErrNoCommentAvailable
	}
	h.expertUsed = true
	return nil
}

func (h *HelpState) CheckSkip() error {
	if h.suddenDeath {
		return domain.ErrAidsUnavailable
	}
	if h.skips <= 0 {
		return domain.ErrNoSkipsRemaining
	}
	return nil
}

// UseSkip consumes one skip.
func (h *HelpState) UseSkip() error {
	if err := h.CheckSkip(); err != nil {
		return err
	}
	h.skips--
	return nil
}

// ApplyCheckpointReplenishment refills every aid when the guaranteed prize
// moves from prev to next across a threshold not crossed before. It reports
// whether a refill happened. Sudden death records the crossing but keeps
// aids exhausted.
func (h *HelpState) ApplyCheckpointReplenishment(prev, next int64) bool {
	refill := false
	for _, t := range domain.CrossedCheckpoints(h.thresholds, prev, next) {
		if h.crossed[t] {
			continue
		}
		h.crossed[t] = true
		refill = true
	}
	if !refill || h.suddenDeath {
		return false
	}
	h.hintUsed = false
	h.crowdUsed = false
	h.expertUsed = false
	h.skips = domain.MaxSkips
	return true
}

// EnterSuddenDeath forces every aid unavailable.
func (h *HelpState) EnterSuddenDeath() {
	h.suddenDeath = true
	h.hintUsed = true
	h.crowdUsed = true
	h.expertUsed = true
	h.skips = 0
}

// Snapshot returns the wire form of the state.
func (h *HelpState) Snapshot() domain.Help {
	return domain.Help{
		HintUsed:       h.hintUsed,
		CrowdUsed:      h.crowdUsed,
		ExpertUsed:     h.expertUsed,
		SkipsRemaining: h.skips,
	}
}
