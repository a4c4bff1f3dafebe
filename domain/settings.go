package domain

// Settings represents user configurable board options.
type Settings struct {
	ShowArchived  bool `json:"showArchived"`
	WorkdaysAhead int  `json:"workdaysAhead"`
}

// WorkdayCount returns the configured week-view horizon, defaulting to five
// workdays when unset.
func (s Settings) WorkdayCount() int {
	if s.WorkdaysAhead <= 0 {
		return 5
	}
	return s.WorkdaysAhead
}
