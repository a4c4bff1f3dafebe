package api

import (
	"time"

	"pinboard-api/domain"
)

const (
	noteBodyMaxSize      = 64 * 1024  // 64 KiB
	importMessageMaxSize = 256 * 1024 // 256 KiB, raw RFC 822 message
)

type notesResponse struct {
	Notes []domain.Note `json:"notes"`
}

type createNoteRequest struct {
	CustomerName string     `json:"customerName"`
	Subject      string     `json:"subject"`
	Remarks      string     `json:"remarks"`
	Status       string     `json:"status"`
	NoteType     string     `json:"noteType"`
	Deadline     *time.Time `json:"deadline"`
	DeadlineType string     `json:"deadlineType"`
}

// updateNoteRequest carries content-only changes. Position and stacking are
// deliberately absent: they move exclusively through the placement endpoints.
type updateNoteRequest struct {
	CustomerName *string    `json:"customerName"`
	Subject      *string    `json:"subject"`
	Remarks      *string    `json:"remarks"`
	Status       *string    `json:"status"`
	NoteType     *string    `json:"noteType"`
	Deadline     *time.Time `json:"deadline"`
	DeadlineType *string    `json:"deadlineType"`
}

type dragRequest struct {
	DX          float64 `json:"dx"`
	DY          float64 `json:"dy"`
	UsableWidth float64 `json:"usableWidth"`
}

type dragResponse struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

type frontResponse struct {
	ZIndex int `json:"zIndex"`
}

type arrangeRequest struct {
	UsableWidth float64 `json:"usableWidth"`
	Status      string  `json:"status,omitempty"`
	NoteType    string  `json:"type,omitempty"`
}

type arrangeResponse struct {
	Arranged   int                `json:"arranged"`
	Failed     int                `json:"failed"`
	FailedIDs  []string           `json:"failedIds,omitempty"`
	Placements []domain.Placement `json:"placements"`
}

type summaryResponse struct {
	Today    int `json:"today"`
	Tomorrow int `json:"tomorrow"`
	DayAfter int `json:"dayAfter"`
}

type weekResponse struct {
	Days []domain.DayBucket `json:"days"`
}

type calendarResponse struct {
	Year  int                `json:"year"`
	Month int                `json:"month"`
	Cells []domain.MonthCell `json:"cells"`
}
