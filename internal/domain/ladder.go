package domain

// PrizeLevel is one rung of the prize ladder.
type PrizeLevel struct {
	Level      int   `json:"level"`
	Prize      int64 `json:"prize"`
	Checkpoint bool  `json:"checkpoint"`
}

const (
	// TopLevel is the index of the million question.
	TopLevel = 15
	// MaxSkips is the skip allowance at game start and after a replenishment.
	MaxSkips = 3
	// MillionPrize is the top of the ladder.
	MillionPrize int64 = 1000000
)

// PrizeLevels is the ladder climbed by correct answers. Checkpoints become the
// guaranteed prize once answered correctly.
var PrizeLevels = []PrizeLevel{
	{Level: 0, Prize: 1000},
	{Level: 1, Prize: 2000},
	{Level: 2, Prize: 3000},
	{Level: 3, Prize: 4000},
	{Level: 4, Prize: 5000, Checkpoint: true},
	{Level: 5, Prize: 10000},
	{Level: 6, Prize: 20000},
	{Level: 7, Prize: 30000},
	{Level: 8, Prize: 40000},
	{Level: 9, Prize: 50000, Checkpoint: true},
	{Level: 10, Prize: 100000},
	{Level: 11, Prize: 200000},
	{Level: 12, Prize: 300000},
	{Level: 13, Prize: 400000},
	{Level: 14, Prize: 500000, Checkpoint: true},
	{Level: 15, Prize: MillionPrize},
}

// ReplenishCheckpoints are guaranteed-prize thresholds that refill every aid
// the first time they are crossed.
var ReplenishCheckpoints = []int64{50000}

// LevelAt returns the ladder entry for idx, clamped to the ladder bounds.
func LevelAt(idx int) PrizeLevel {
	if idx < 0 {
		return PrizeLevels[0]
	}
	if idx >= len(PrizeLevels) {
		return PrizeLevels[len(PrizeLevels)-1]
	}
	return PrizeLevels[idx]
}

// PrizeReached is the prize of the last level answered correctly, used for
// stats and ranking after a loss (the payout itself is the guaranteed prize).
func PrizeReached(status Status, finalPrize int64, totalCorrect int) int64 {
	if status != StatusLost || totalCorrect <= 0 {
		return finalPrize
	}
	return LevelAt(totalCorrect - 1).Prize
}

// CrossedCheckpoints returns the replenishing thresholds t with prev < t <= next.
func CrossedCheckpoints(thresholds []int64, prev, next int64) []int64 {
	var crossed []int64
	for _, t := range thresholds {
		if prev < t && next >= t {
			crossed = append(crossed, t)
		}
	}
	return crossed
}
