package models

// Standing is a derived placement. Points are filled from the placement table,
// never by the bracket itself.
type Standing struct {
	ClubID   *int   `json:"club_id,omitempty"`
	TeamID   int    `json:"team_id"`
	TeamName string `json:"team_name,omitempty"`
	Place    int    `json:"place"`
	Points   int    `json:"points"`
}
