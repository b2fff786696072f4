package capture

// StatsCache holds running totals for one session so views never rescan
// the question list. Correct+Incorrect may be less than Total; the gap is
// questions whose correctness is unknown.
type StatsCache struct {
	Total     int `json:"total"`
	Correct   int `json:"correct"`
	Incorrect int `json:"incorrect"`
}

// Recompute rebuilds the cache from scratch. Used once per legacy session.
func (c *StatsCache) Recompute(questions []QuestionRecord) {
	*c = StatsCache{}
	for _, q := range questions {
		c.Insert(q.IsCorrect)
	}
}

// Insert accounts for a newly appended question.
func (c *StatsCache) Insert(isCorrect *bool) {
	c.Total++
	c.apply(isCorrect, 1)
}

// Replace swaps the contribution of a replaced question for its
// successor. Total is unchanged.
func (c *StatsCache) Replace(old, updated *bool) {
	c.apply(old, -1)
	c.apply(updated, 1)
}

func (c *StatsCache) apply(isCorrect *bool, delta int) {
	if isCorrect == nil {
		return
	}
	if *isCorrect {
		c.Correct += delta
	} else {
		c.Incorrect += delta
	}
}

// Unknown is the number of questions with undetermined correctness.
func (c StatsCache) Unknown() int {
	return c.Total - c.Correct - c.Incorrect
}

// Consistent reports whether the cache agrees with a question count.
func (c StatsCache) Consistent(questions int) bool {
	return c.Total == questions &&
		c.Correct >= 0 && c.Incorrect >= 0 &&
		c.Correct+c.Incorrect <= c.Total
}
