package domain

import "time"

// Stats aggregates a player's finished games.
type Stats struct {
	UserID                string     `json:"userId"`
	TotalGames            int        `json:"totalGames"`
	GamesWon              int        `json:"gamesWon"`
	GamesLost             int        `json:"gamesLost"`
	GamesStopped          int        `json:"gamesStopped"`
	TotalPrizeAccumulated int64      `json:"totalPrizeAccumulated"`
	HighestPrize          int64      `json:"highestPrize"`
	TimesReachedMillion   int        `json:"timesReachedMillion"`
	CurrentStreak         int        `json:"currentStreak"`
	MaxStreak             int        `json:"maxStreak"`
	TotalHintsUsed        int        `json:"totalHintsUsed"`
	TotalCrowdsUsed       int        `json:"totalCrowdsUsed"`
	TotalSkipsUsed        int        `json:"totalSkipsUsed"`
	BestSuddenDeath       int        `json:"bestSuddenDeath"`
	LastPlayedAt          *time.Time `json:"lastPlayedAt,omitempty"`
}

// Apply folds a finished game into the stats. Day boundaries are taken in loc.
// A win extends the streak when the previous game was played the day before,
// restarts it when older, and keeps it on a same-day replay; any other outcome resets it.
func (s Stats) Apply(o Outcome, loc *time.Location) Stats {
	s.UserID = o.UserID
	s.TotalGames++
	switch o.Status {
	case StatusWon:
		s.GamesWon++
	case StatusLost:
		s.GamesLost++
	case StatusStopped:
		s.GamesStopped++
	}
	s.TotalPrizeAccumulated += o.FinalPrize
	if o.PrizeReached > s.HighestPrize {
		s.HighestPrize = o.PrizeReached
	}
	if o.PrizeReached >= MillionPrize {
		s.TimesReachedMillion++
	}
	if o.HintUsed {
		s.TotalHintsUsed++
	}
	if o.CrowdUsed {
		s.TotalCrowdsUsed++
	}
	s.TotalSkipsUsed += o.SkipsUsed
	if o.SuddenDeathMultiplier > s.BestSuddenDeath {
		s.BestSuddenDeath = o.SuddenDeathMultiplier
	}

	today := DayKey(o.FinishedAt, loc)
	yesterday := DayKey(o.FinishedAt.AddDate(0, 0, -1), loc)
	if o.Status == StatusWon {
		switch {
		case s.LastPlayedAt == nil:
			s.CurrentStreak = 1
		case DayKey(*s.LastPlayedAt, loc) == yesterday:
			s.CurrentStreak++
		case DayKey(*s.LastPlayedAt, loc) != today:
			s.CurrentStreak = 1
		}
	} else {
		s.CurrentStreak = 0
	}
	if s.CurrentStreak > s.MaxStreak {
		s.MaxStreak = s.CurrentStreak
	}
	at := o.FinishedAt
	s.LastPlayedAt = &at
	return s
}

// ApplySuddenDeath records the multiplier reached in a finished sudden-death run.
func (s Stats) ApplySuddenDeath(userID string, multiplier int) Stats {
	s.UserID = userID
	if multiplier > s.BestSuddenDeath {
		s.BestSuddenDeath = multiplier
	}
	return s
}

// DayKey formats t as YYYY-MM-DD in loc.
func DayKey(t time.Time, loc *time.Location) string {
	if loc == nil {
		loc = time.UTC
	}
	return t.In(loc).Format("2006-01-02")
}

// RankingLocation is the zone daily rankings roll over in.
func RankingLocation() *time.Location {
	loc, err := time.LoadLocation("America/Sao_Paulo")
	if err != nil {
		return time.FixedZone("BRT", -3*60*60)
	}
	return loc
}
