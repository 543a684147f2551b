package models

// Team is registered outside the bracket engine; the engine only reads it to
// label bracket slots.
type Team struct {
	ID         int     `json:"id" db:"id"`
	SportID    int     `json:"sport_id" db:"sport_id"`
	ClubID     int     `json:"club_id" db:"club_id"`
	Name       string  `json:"name" db:"name"`
	SeedNumber *int    `json:"seed_number,omitempty" db:"seed_number"`
	LogoKey    *string `json:"-" db:"logo_key"`
	LogoURL    *string `json:"logo_url,omitempty" db:"-"`

	Club *Club `json:"club,omitempty" db:"-"`
}

// Club owns teams and is the unit standings points are awarded to.
type Club struct {
	ID   int    `json:"id" db:"id"`
	Name string `json:"name" db:"name"`
}
