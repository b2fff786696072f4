package capture

import "math"

// Summary aggregates every stored session for the review screens.
type Summary struct {
	Sessions    int `json:"sessions"`
	Questions   int `json:"questions"`
	Correct     int `json:"correct"`
	Incorrect   int `json:"incorrect"`
	Unknown     int `json:"unknown"`
	SuccessRate int `json:"successRate"` // percent of all questions, rounded
}

// Summarize totals the sessions, trusting each session's stats cache and
// counting questions only for sessions that lack one.
func Summarize(sessions []SessionRecord) Summary {
	sum := Summary{Sessions: len(sessions)}
	for i := range sessions {
		stats := sessions[i].StatsCache
		if stats == nil {
			stats = &StatsCache{}
			stats.Recompute(sessions[i].Questions)
		}
		sum.Questions += stats.Total
		sum.Correct += stats.Correct
		sum.Incorrect += stats.Incorrect
	}
	sum.Unknown = sum.Questions - sum.Correct - sum.Incorrect
	if sum.Questions > 0 {
		sum.SuccessRate = int(math.Round(float64(sum.Correct) / float64(sum.Questions) * 100))
	}
	return sum
}
