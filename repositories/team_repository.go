package repositories

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"sync"

	"github.com/Dosada05/league-portal/models"
)

// TeamRepository reads the teams of a sport. Teams are registered elsewhere;
// the bracket only needs their labels.
type TeamRepository interface {
	ListBySport(ctx context.Context, sportID int) ([]models.Team, error)
}

type postgresTeamRepository struct {
	db *sql.DB
}

func NewPostgresTeamRepository(db *sql.DB) TeamRepository {
	return &postgresTeamRepository{db: db}
}

func (r *postgresTeamRepository) ListBySport(ctx context.Context, sportID int) ([]models.Team, error) {
	query := `
		SELECT t.id, t.sport_id, t.club_id, t.name, t.seed_number, t.logo_key, c.id, c.name
		FROM teams t
		JOIN clubs c ON c.id = t.club_id
		WHERE t.sport_id = $1
		ORDER BY t.id ASC`

	rows, err := r.db.QueryContext(ctx, query, sportID)
	if err != nil {
		return nil, handleMatchError(fmt.Errorf("failed to query teams for sport %d: %w", sportID, err))
	}
	defer rows.Close()

	teams := make([]models.Team, 0)
	for rows.Next() {
		var t models.Team
		club := &models.Club{}
		if err := rows.Scan(&t.ID, &t.SportID, &t.ClubID, &t.Name, &t.SeedNumber, &t.LogoKey, &club.ID, &club.Name); err != nil {
			return nil, fmt.Errorf("failed to scan team row for sport %d: %w", sportID, err)
		}
		t.Club = club
		teams = append(teams, t)
	}
	if err = rows.Err(); err != nil {
		return nil, handleMatchError(fmt.Errorf("error iterating team rows for sport %d: %w", sportID, err))
	}
	return teams, nil
}

type MemoryTeamRepository struct {
	mu    sync.RWMutex
	teams map[int]models.Team
}

func NewMemoryTeamRepository(teams ...models.Team) *MemoryTeamRepository {
	r := &MemoryTeamRepository{teams: make(map[int]models.Team)}
	r.Add(teams...)
	return r
}

func (r *MemoryTeamRepository) Add(teams ...models.Team) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, t := range teams {
		r.teams[t.ID] = t
	}
}

func (r *MemoryTeamRepository) ListBySport(ctx context.Context, sportID int) ([]models.Team, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	teams := make([]models.Team, 0)
	for _, t := range r.teams {
		if t.SportID == sportID {
			teams = append(teams, t)
		}
	}
	sort.Slice(teams, func(i, j int) bool { return teams[i].ID < teams[j].ID })
	return teams, nil
}
