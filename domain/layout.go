package domain

import "math"

const (
	// collisionSlack shrinks the overlap probe so near-adjacent cells are not
	// reported as collisions due to floating-point jitter.
	collisionSlack = 10

	// maxDragAttempts bounds the collision walk. When the budget runs out the
	// last candidate is accepted, overlap and all, instead of failing the drag.
	maxDragAttempts = 50
)

// Layout carries the board footprint constants shared by every placement
// operation. All coordinates are board-local and non-negative.
type Layout struct {
	NoteWidth  float64
	NoteHeight float64
	Gap        float64
	Padding    float64

	// Creation-time stacking: new notes land in short columns with a row
	// pitch much smaller than the note height, so their headers stay visible
	// until the next bulk arrange normalizes the board.
	StackPerColumn int
	StackRowPitch  float64
}

// DefaultLayout returns the footprint the board UI renders with.
func DefaultLayout() Layout {
	return Layout{
		NoteWidth:      380,
		NoteHeight:     280,
		Gap:            15,
		Padding:        20,
		StackPerColumn: 8,
		StackRowPitch:  40,
	}
}

// Placement pairs a note with the grid coordinates assigned to it.
type Placement struct {
	NoteID string  `json:"noteId"`
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
}

func (l Layout) pitchX() float64 { return l.NoteWidth + l.Gap }
func (l Layout) pitchY() float64 { return l.NoteHeight + l.Gap }

// ColumnsPerRow returns how many note cells fit in usableWidth, never less
// than one.
func (l Layout) ColumnsPerRow(usableWidth float64) int {
	cols := int(math.Floor(usableWidth / l.pitchX()))
	if cols < 1 {
		cols = 1
	}
	return cols
}

// BulkArrange assigns one grid cell per note, row by row, in the order the
// notes are given. The result is deterministic for a fixed input order and
// width, and overlap-free by construction since cells are footprint sized.
func (l Layout) BulkArrange(notes []Note, usableWidth float64) []Placement {
	cols := l.ColumnsPerRow(usableWidth)
	placements := make([]Placement, 0, len(notes))
	for i, n := range notes {
		row := i / cols
		col := i % cols
		placements = append(placements, Placement{
			NoteID: n.ID,
			X:      float64(col)*l.pitchX() + l.Padding,
			Y:      float64(row)*l.pitchY() + l.Padding,
		})
	}
	return placements
}

// ResolveDrag snaps the dragged note's release point to the grid and walks it
// away from occupied cells: one cell right per collision, wrapping to the next
// row when the note would cross usableWidth. The walk is bounded; exhausting
// the budget accepts the last candidate rather than blocking the drag.
func (l Layout) ResolveDrag(n Note, dx, dy float64, others []Note, usableWidth float64) (float64, float64) {
	x := l.snap(n.PositionX+dx, l.pitchX())
	y := l.snap(n.PositionY+dy, l.pitchY())
	for attempt := 0; attempt < maxDragAttempts; attempt++ {
		if !l.collides(x, y, n.ID, others) {
			break
		}
		x += l.pitchX()
		if x+l.NoteWidth > usableWidth {
			x = l.Padding
			y += l.pitchY()
		}
	}
	return x, y
}

// snap rounds v to the nearest grid multiple, offsets by the board padding and
// clamps the result to be non-negative.
func (l Layout) snap(v, pitch float64) float64 {
	s := math.Round(v/pitch)*pitch + l.Padding
	if s < 0 {
		s = 0
	}
	return s
}

func (l Layout) collides(x, y float64, skipID string, others []Note) bool {
	for _, o := range others {
		if o.ID == skipID {
			continue
		}
		if math.Abs(o.PositionX-x) < l.pitchX()-collisionSlack &&
			math.Abs(o.PositionY-y) < l.pitchY()-collisionSlack {
			return true
		}
	}
	return false
}

// InitialPlacement positions a freshly created note in the stacking columns
// and hands it the next z-index so it renders in front of everything else.
func (l Layout) InitialPlacement(existingCount, maxZ int) (x, y float64, z int) {
	perColumn := l.StackPerColumn
	if perColumn < 1 {
		perColumn = 1
	}
	column := existingCount / perColumn
	row := existingCount % perColumn
	x = float64(column)*l.pitchX() + l.Padding
	y = float64(row)*l.StackRowPitch + l.Padding
	z = maxZ + 1
	return x, y, z
}
