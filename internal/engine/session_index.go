package engine

import (
	"time"

	"github.com/HendryAvila/quizledger/internal/capture"
	"github.com/HendryAvila/quizledger/internal/normalize"
)

type urlEntry struct {
	pos       int
	startTime time.Time
}

// sessionIndex maps session identity to a position in the collection
// read during the current write cycle. Other tabs rewrite the collection
// between cycles, so it is rebuilt after every read and never trusted
// across a backend call.
type sessionIndex struct {
	byID  map[string]int
	byURL map[string]urlEntry // most recently started session per URL
}

func newSessionIndex() *sessionIndex {
	return &sessionIndex{
		byID:  make(map[string]int),
		byURL: make(map[string]urlEntry),
	}
}

func (x *sessionIndex) rebuild(sessions []capture.SessionRecord) {
	clear(x.byID)
	clear(x.byURL)
	for i := range sessions {
		s := &sessions[i]
		x.byID[s.ID] = i
		url := normalize.URL(s.URL)
		if prev, ok := x.byURL[url]; !ok || s.StartTime.After(prev.startTime) {
			x.byURL[url] = urlEntry{pos: i, startTime: s.StartTime}
		}
	}
}

// lookup finds a session by exact id, then by URL when the most recent
// session for that URL started no more than timeout before now.
func (x *sessionIndex) lookup(id, url string, now time.Time, timeout time.Duration) (int, bool) {
	if pos, ok := x.byID[id]; ok {
		return pos, true
	}
	if e, ok := x.byURL[normalize.URL(url)]; ok && now.Sub(e.startTime) <= timeout {
		return e.pos, true
	}
	return -1, false
}

// target identifies the session a write belongs to.
type target struct {
	ID        string
	URL       string
	TestName  string
	StartTime time.Time
}

// resolve returns the position of the session for t, appending a new
// session to *sessions when none matches.
func (x *sessionIndex) resolve(sessions *[]capture.SessionRecord, t target, now time.Time, timeout time.Duration) (pos int, created bool) {
	if pos, ok := x.lookup(t.ID, t.URL, now, timeout); ok {
		return pos, false
	}
	*sessions = append(*sessions, capture.SessionRecord{
		ID:         t.ID,
		TestName:   t.TestName,
		URL:        normalize.URL(t.URL),
		StartTime:  t.StartTime,
		Questions:  []capture.QuestionRecord{},
		StatsCache: &capture.StatsCache{},
	})
	x.rebuild(*sessions)
	return len(*sessions) - 1, true
}
