package models

import "time"

// Match is one row of the bracket table. Rows are created when the bracket is
// generated and afterwards only change through score updates and winner
// propagation.
type Match struct {
	ID             int        `json:"id" db:"id"`
	SportID        int        `json:"sport_id" db:"sport_id"`
	RoundID        int        `json:"round_id" db:"round_id"`
	MatchOrder     int        `json:"match_order" db:"match_order"`
	Team1ID        *int       `json:"team1_id,omitempty" db:"team1_id"`
	Team2ID        *int       `json:"team2_id,omitempty" db:"team2_id"`
	Team1Score     *int       `json:"team1_score,omitempty" db:"team1_score"`
	Team2Score     *int       `json:"team2_score,omitempty" db:"team2_score"`
	ParentMatch1ID *int       `json:"parent_match1_id,omitempty" db:"parent_match1_id"`
	ParentMatch2ID *int       `json:"parent_match2_id,omitempty" db:"parent_match2_id"`
	StartTime      *time.Time `json:"start_time,omitempty" db:"start_time"`

	Version   int64     `json:"version" db:"version"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

// Played reports whether both scores are recorded.
func (m Match) Played() bool {
	return m.Team1Score != nil && m.Team2Score != nil
}

// IsBye reports whether the row is a first-round match with exactly one team.
func (m Match) IsBye() bool {
	return m.RoundID == 0 && (m.Team1ID == nil) != (m.Team2ID == nil)
}

// Clone returns a deep copy so callers can mutate pointer fields freely.
func (m Match) Clone() Match {
	c := m
	c.Team1ID = cloneInt(m.Team1ID)
	c.Team2ID = cloneInt(m.Team2ID)
	c.Team1Score = cloneInt(m.Team1Score)
	c.Team2Score = cloneInt(m.Team2Score)
	c.ParentMatch1ID = cloneInt(m.ParentMatch1ID)
	c.ParentMatch2ID = cloneInt(m.ParentMatch2ID)
	if m.StartTime != nil {
		t := *m.StartTime
		c.StartTime = &t
	}
	return c
}

func cloneInt(p *int) *int {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}

// IntPtr is a small helper for optional integer columns.
func IntPtr(v int) *int {
	return &v
}

// SameID compares two optional identifiers.
func SameID(a, b *int) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}
