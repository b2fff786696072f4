package engine

import (
	"strconv"

	"github.com/HendryAvila/quizledger/internal/capture"
	"github.com/HendryAvila/quizledger/internal/normalize"
)

// matchKind says how an incoming question matched a stored one.
type matchKind int

const (
	matchNone    matchKind = iota // new question, appended
	matchPrecise                  // same number and same text hash
	matchLoose                    // same number, text changed
)

func (m matchKind) String() string {
	switch m {
	case matchPrecise:
		return "precise"
	case matchLoose:
		return "loose"
	default:
		return "new"
	}
}

// questionIndex gives O(1) dedup lookups within one session.
type questionIndex struct {
	keys map[string]int
}

func newQuestionIndex() *questionIndex {
	return &questionIndex{keys: make(map[string]int)}
}

func preciseKey(sessionID string, number int, textHash string) string {
	return sessionID + "#" + strconv.Itoa(number) + "#" + textHash
}

func looseKey(sessionID string, number int) string {
	return sessionID + "#num#" + strconv.Itoa(number)
}

func (x *questionIndex) rebuild(sessionID string, questions []capture.QuestionRecord) {
	clear(x.keys)
	for i, q := range questions {
		x.keys[preciseKey(sessionID, q.QuestionNumber, normalize.Hash(q.QuestionText))] = i
		x.keys[looseKey(sessionID, q.QuestionNumber)] = i
	}
}

// find looks q up among questions, the slice the index was built from.
// A precise hit whose text differs is a hash collision; both keys carry the
// question number, so it resolves to the same slot as a loose match.
func (x *questionIndex) find(sessionID string, questions []capture.QuestionRecord, q capture.QuestionRecord) (int, matchKind) {
	if pos, ok := x.keys[preciseKey(sessionID, q.QuestionNumber, normalize.Hash(q.QuestionText))]; ok {
		if normalize.Text(questions[pos].QuestionText) == normalize.Text(q.QuestionText) {
			return pos, matchPrecise
		}
		return pos, matchLoose
	}
	if pos, ok := x.keys[looseKey(sessionID, q.QuestionNumber)]; ok {
		return pos, matchLoose
	}
	return -1, matchNone
}

// merge replaces or appends q in sess and keeps the stats cache exact.
// sess.StatsCache must be non-nil.
func (x *questionIndex) merge(sess *capture.SessionRecord, q capture.QuestionRecord) matchKind {
	x.rebuild(sess.ID, sess.Questions)
	pos, kind := x.find(sess.ID, sess.Questions, q)
	if kind == matchNone {
		sess.Questions = append(sess.Questions, q)
		sess.StatsCache.Insert(q.IsCorrect)
	} else {
		old := sess.Questions[pos].IsCorrect
		sess.Questions[pos] = q
		sess.StatsCache.Replace(old, q.IsCorrect)
	}
	x.rebuild(sess.ID, sess.Questions)
	return kind
}
