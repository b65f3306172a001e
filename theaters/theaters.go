// Package theaters looks up theaters by name, city, or location.
package theaters

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// NearbyLimit is how many nearby theaters accompany a text search.
const NearbyLimit = 5

const metersPerMile = 1609.34

// ErrEmptyQuery means a search had nothing to search for.
var ErrEmptyQuery = errors.New("search query is required")

type Theater struct {
	ID        int64   `json:"id"`
	Name      string  `json:"name"`
	City      string  `json:"city"`
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
	URL       string  `json:"url"`
	// Distance is in miles, and only set for location lookups.
	Distance *float64 `json:"distance,omitempty"`
}

// A SearchResult is the theaters matching a search, plus those near the best
// match.
type SearchResult struct {
	CityMatches   []Theater `json:"cityMatches"`
	NearbyMatches []Theater `json:"nearbyMatches"`
}

type Directory interface {
	// Search finds up to limit theaters whose city or name contains query.
	// Exact city matches come first.
	Search(ctx context.Context, query string, limit int) (SearchResult, error)
	// Nearest returns up to limit theaters closest to a point.
	Nearest(ctx context.Context, lat, lon float64, limit int) ([]Theater, error)
}

// querier is the part of *pgxpool.Pool that PostgresDirectory uses.
type querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

// PostgresDirectory is a Directory backed by a PostGIS "theatres" table.
type PostgresDirectory struct {
	db querier
}

func NewPostgresDirectory(db *pgxpool.Pool) *PostgresDirectory {
	return &PostgresDirectory{db: db}
}

// Open connects to the database at dsn. The caller closes the returned pool.
func Open(ctx context.Context, dsn string) (*pgxpool.Pool, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to reach database: %w", err)
	}
	return pool, nil
}

func (p *PostgresDirectory) Search(ctx context.Context, query string, limit int) (SearchResult, error) {
	term := strings.TrimSpace(query)
	if term == "" {
		return SearchResult{}, ErrEmptyQuery
	}

	rows, err := p.db.Query(ctx, `
		SELECT id, name, city, latitude, longitude, url
		FROM theatres
		WHERE city ILIKE $1 OR name ILIKE $1
		ORDER BY
			CASE WHEN LOWER(city) = LOWER($2) THEN 1 ELSE 2 END,
			city,
			name
		LIMIT $3`,
		likePattern(term), term, limit)
	if err != nil {
		return SearchResult{}, fmt.Errorf("failed to search theaters: %w", err)
	}
	matches, err := scanTheaters(rows, false)
	if err != nil {
		return SearchResult{}, fmt.Errorf("failed to read theaters: %w", err)
	}

	result := SearchResult{CityMatches: matches, NearbyMatches: []Theater{}}
	if len(matches) == 0 {
		return result, nil
	}

	first := matches[0]
	ids := make([]int64, len(matches))
	for i, theater := range matches {
		ids[i] = theater.ID
	}
	rows, err = p.db.Query(ctx, `
		SELECT id, name, city, latitude, longitude, url,
			ST_Distance(
				location::geography,
				ST_SetSRID(ST_MakePoint($1, $2), 4326)::geography
			) / $4 AS distance_miles
		FROM theatres
		WHERE id != ALL($3)
		ORDER BY location <-> ST_SetSRID(ST_MakePoint($1, $2), 4326)
		LIMIT $5`,
		first.Longitude, first.Latitude, ids, metersPerMile, NearbyLimit)
	if err != nil {
		return SearchResult{}, fmt.Errorf("failed to find theaters near %q: %w", first.Name, err)
	}
	result.NearbyMatches, err = scanTheaters(rows, true)
	if err != nil {
		return SearchResult{}, fmt.Errorf("failed to read nearby theaters: %w", err)
	}
	return result, nil
}

func (p *PostgresDirectory) Nearest(ctx context.Context, lat, lon float64, limit int) ([]Theater, error) {
	rows, err := p.db.Query(ctx, `
		SELECT id, name, city, latitude, longitude, url,
			ST_Distance(
				location::geography,
				ST_SetSRID(ST_MakePoint($1, $2), 4326)::geography
			) / $3 AS distance_miles
		FROM theatres
		ORDER BY location <-> ST_SetSRID(ST_MakePoint($1, $2), 4326)
		LIMIT $4`,
		lon, lat, metersPerMile, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to find nearest theaters: %w", err)
	}
	theaters, err := scanTheaters(rows, true)
	if err != nil {
		return nil, fmt.Errorf("failed to read theaters: %w", err)
	}
	return theaters, nil
}

func scanTheaters(rows pgx.Rows, withDistance bool) ([]Theater, error) {
	defer rows.Close()

	theaters := []Theater{}
	for rows.Next() {
		var theater Theater
		dest := []any{&theater.ID, &theater.Name, &theater.City, &theater.Latitude, &theater.Longitude, &theater.URL}
		if withDistance {
			dest = append(dest, &theater.Distance)
		}
		if err := rows.Scan(dest...); err != nil {
			return nil, err
		}
		theaters = append(theaters, theater)
	}
	return theaters, rows.Err()
}

// likePattern matches term anywhere, treating LIKE wildcards in term
// literally.
func likePattern(term string) string {
	escaped := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(term)
	return "%" + escaped + "%"
}
