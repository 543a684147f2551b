package models

type UserRole string

const (
	RoleAdmin     UserRole = "admin"
	RoleOrganizer UserRole = "organizer"
	RoleReferee   UserRole = "referee"
)

func (r UserRole) Valid() bool {
	switch r {
	case RoleAdmin, RoleOrganizer, RoleReferee:
		return true
	}
	return false
}

// Principal is the caller identified by a verified access token. Users are
// managed by the portal's account service; only the token is seen here.
type Principal struct {
	UserID int      `json:"user_id"`
	Role   UserRole `json:"role"`
}
