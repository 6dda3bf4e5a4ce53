package domain

import "time"

// Ranking boards are keyed by period so each day (or month) starts empty.
func DailyBoard(day string) string          { return "daily:" + day }
func SuddenDeathBoard(day string) string    { return "sudden-death:" + day }
func MillionairesBoard(month string) string { return "millionaires:" + month }

// MonthKey formats t as YYYY-MM in loc.
func MonthKey(t time.Time, loc *time.Location) string {
	if loc == nil {
		loc = time.UTC
	}
	return t.In(loc).Format("2006-01")
}

// DailyScore orders by prize, then correct answers, then fewer aids.
func DailyScore(e RankingEntry) float64 {
	return float64(e.Prize)*1e5 + float64(min(e.QuestionsCorrect, 99))*1e3 + float64(999-min(e.HelpsUsed, 999))
}

// SuddenDeathScore orders by multiplier, then correct answers.
func SuddenDeathScore(e RankingEntry) float64 {
	return float64(e.Multiplier)*1e3 + float64(min(e.QuestionsCorrect, 999))
}

// MillionaireScore favors fewer aids, then less time. Higher is better.
func MillionaireScore(e RankingEntry) float64 {
	return -(float64(e.HelpsUsed)*1e7 + float64(min(e.TotalTimeSeconds, 9999999)))
}

// OutcomeOf summarizes a game that just reached a terminal status. A lost
// game pays its guaranteed prize.
func OutcomeOf(g Game, finishedAt time.Time) Outcome {
	final := g.CurrentPrize
	if g.Status == StatusLost {
		final = g.GuaranteedPrize
	}
	skips := MaxSkips - g.Help.SkipsRemaining
	if skips < 0 {
		skips = 0
	}
	return Outcome{
		UserID:                g.UserID,
		GameID:                g.ID,
		Status:                g.Status,
		FinalPrize:            final,
		PrizeReached:          PrizeReached(g.Status, final, g.TotalCorrect),
		TotalCorrect:          g.TotalCorrect,
		TotalTimeSeconds:      g.TotalTimeSeconds,
		HintUsed:              g.Help.HintUsed,
		CrowdUsed:             g.Help.CrowdUsed,
		SkipsUsed:             skips,
		HelpsUsed:             g.HelpsUsed,
		SuddenDeathMultiplier: g.SuddenDeathMultiplier,
		Answers:               g.Answers,
		FinishedAt:            finishedAt,
	}
}

// Entry is the ranking row for an outcome.
func (o Outcome) Entry() RankingEntry {
	return RankingEntry{
		UserID:           o.UserID,
		GameID:           o.GameID,
		Prize:            o.PrizeReached,
		QuestionsCorrect: o.TotalCorrect,
		TotalTimeSeconds: o.TotalTimeSeconds,
		HelpsUsed:        o.HelpsUsed,
		Multiplier:       max(o.SuddenDeathMultiplier, 1),
		Status:           o.Status,
	}
}

// HistoryEntry is one finished game in a player's history.
type HistoryEntry struct {
	GameID           string    `json:"gameId"`
	Prize            int64     `json:"prize"`
	PrizeTaken       int64     `json:"prizeTaken"`
	QuestionsCorrect int       `json:"questionsCorrect"`
	TotalQuestions   int       `json:"totalQuestions"`
	TotalTimeSeconds int       `json:"totalTimeSeconds"`
	Multiplier       int       `json:"multiplier"`
	Status           Status    `json:"status"`
	FinishedAt       time.Time `json:"finishedAt"`
}

// HistoryOf builds the history row of a finished game.
func HistoryOf(g Game) HistoryEntry {
	o := OutcomeOf(g, g.StartedAt)
	if g.CompletedAt != nil {
		o.FinishedAt = *g.CompletedAt
	}
	return HistoryEntry{
		GameID:           g.ID,
		Prize:            o.PrizeReached,
		PrizeTaken:       o.FinalPrize,
		QuestionsCorrect: g.TotalCorrect,
		TotalQuestions:   min(len(g.QuestionIDs), len(PrizeLevels)),
		TotalTimeSeconds: g.TotalTimeSeconds,
		Multiplier:       max(g.SuddenDeathMultiplier, 1),
		Status:           g.Status,
		FinishedAt:       o.FinishedAt,
	}
}

// AllTimeEntry is one row of the all-time board, built from lifetime stats.
type AllTimeEntry struct {
	Position            int    `json:"position"`
	UserID              string `json:"userId"`
	HighestPrize        int64  `json:"highestPrize"`
	TimesReachedMillion int    `json:"timesReachedMillion"`
	GamesWon            int    `json:"gamesWon"`
	TotalGames          int    `json:"totalGames"`
	BestSuddenDeath     int    `json:"bestSuddenDeath"`
}

// AllTimeBefore reports whether a ranks above b: highest prize, then times at
// the million, then wins. Remaining ties go to the lower user id.
func AllTimeBefore(a, b Stats) bool {
	switch {
	case a.HighestPrize != b.HighestPrize:
		return a.HighestPrize > b.HighestPrize
	case a.TimesReachedMillion != b.TimesReachedMillion:
		return a.TimesReachedMillion > b.TimesReachedMillion
	case a.GamesWon != b.GamesWon:
		return a.GamesWon > b.GamesWon
	}
	return a.UserID < b.UserID
}

// AllTimeBoard numbers stats that are already in board order.
func AllTimeBoard(leaders []Stats) []AllTimeEntry {
	out := make([]AllTimeEntry, 0, len(leaders))
	for i, st := range leaders {
		out = append(out, AllTimeEntry{
			Position:            i + 1,
			UserID:              st.UserID,
			HighestPrize:        st.HighestPrize,
			TimesReachedMillion: st.TimesReachedMillion,
			GamesWon:            st.GamesWon,
			TotalGames:          st.TotalGames,
			BestSuddenDeath:     st.BestSuddenDeath,
		})
	}
	return out
}
