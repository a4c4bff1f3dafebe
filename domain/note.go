package domain

import (
	"sort"
	"time"

	"golang.org/x/text/collate"
	"golang.org/x/text/language"
)

// Status is the workflow state of a note. The constants form an ordered
// progression; Order reflects it for sorting.
type Status string

const (
	StatusNew        Status = "new"
	StatusInProgress Status = "in-progress"
	StatusDone       Status = "done"
	StatusArchived   Status = "archived"
)

var statusOrder = map[Status]int{
	StatusNew:        0,
	StatusInProgress: 1,
	StatusDone:       2,
	StatusArchived:   3,
}

// Valid reports whether s is one of the known workflow states.
func (s Status) Valid() bool {
	_, ok := statusOrder[s]
	return ok
}

// Order returns the position of s in the workflow progression, or -1 for
// unknown values.
func (s Status) Order() int {
	if o, ok := statusOrder[s]; ok {
		return o
	}
	return -1
}

// NoteType classifies the follow-up a note represents. Values outside the
// fixed set are allowed and treated as free text.
type NoteType string

const (
	TypeCall  NoteType = "call"
	TypeEmail NoteType = "email"
	TypeVisit NoteType = "visit"
	TypeQuote NoteType = "quote"
	TypeOther NoteType = "other"
)

// DeadlineType flags how hard a deadline is.
type DeadlineType string

const (
	DeadlineMust   DeadlineType = "must"
	DeadlineApprox DeadlineType = "approx"
)

// Note represents a single sticky note on the board.
type Note struct {
	ID           string       `json:"id"`
	CustomerName string       `json:"customerName"`
	Subject      string       `json:"subject,omitempty"`
	Remarks      string       `json:"remarks,omitempty"`
	Status       Status       `json:"status"`
	NoteType     NoteType     `json:"noteType,omitempty"`
	PositionX    float64      `json:"positionX"`
	PositionY    float64      `json:"positionY"`
	ZIndex       int          `json:"zIndex"`
	Deadline     *time.Time   `json:"deadline,omitempty"`
	DeadlineType DeadlineType `json:"deadlineType,omitempty"`

	EmailFrom       string     `json:"emailFrom,omitempty"`
	EmailReceivedAt *time.Time `json:"emailReceivedAt,omitempty"`
	EmailContent    string     `json:"emailContent,omitempty"`
}

// SortByCustomer orders notes by customer name using locale-aware collation.
// Ties fall back to the note ID so the order is total and stable across runs.
func SortByCustomer(notes []Note) {
	if len(notes) < 2 {
		return
	}
	// Collators are not safe for concurrent use, so build one per call.
	c := collate.New(language.Und, collate.IgnoreCase)
	sort.SliceStable(notes, func(i, j int) bool {
		if r := c.CompareString(notes[i].CustomerName, notes[j].CustomerName); r != 0 {
			return r < 0
		}
		return notes[i].ID < notes[j].ID
	})
}

// MaxZIndex returns the highest stacking order across the given notes, or
// zero for an empty board.
func MaxZIndex(notes []Note) int {
	max := 0
	for _, n := range notes {
		if n.ZIndex > max {
			max = n.ZIndex
		}
	}
	return max
}
