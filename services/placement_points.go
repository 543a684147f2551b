package services

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/Dosada05/league-portal/brackets"
)

// PlacementPoints maps a final place to the points its club is awarded.
type PlacementPoints map[int]int

// ParsePlacementPoints reads "place:points" pairs separated by commas, for
// example "1:100,2:70,3:40". An empty string yields an empty table.
func ParsePlacementPoints(raw string) (PlacementPoints, error) {
	points := PlacementPoints{}
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return points, nil
	}
	for _, pair := range strings.Split(raw, ",") {
		placeStr, pointsStr, ok := strings.Cut(strings.TrimSpace(pair), ":")
		if !ok {
			return nil, fmt.Errorf("invalid placement points entry %q: expected place:points", pair)
		}
		place, err := strconv.Atoi(strings.TrimSpace(placeStr))
		if err != nil || place < 1 {
			return nil, fmt.Errorf("invalid place in placement points entry %q", pair)
		}
		value, err := strconv.Atoi(strings.TrimSpace(pointsStr))
		if err != nil || value < 0 {
			return nil, fmt.Errorf("invalid points in placement points entry %q", pair)
		}
		if _, dup := points[place]; dup {
			return nil, fmt.Errorf("place %d listed more than once in placement points", place)
		}
		points[place] = value
	}
	return points, nil
}

// Apply fills Points on every placement. Places missing from the table earn 0.
func (p PlacementPoints) Apply(st *brackets.Standings) {
	if st == nil {
		return
	}
	for i := range st.Places {
		st.Places[i].Points = p[st.Places[i].Place]
	}
}
