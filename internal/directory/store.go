package directory

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/doug-martin/goqu/v9"
	_ "github.com/doug-martin/goqu/v9/dialect/postgres"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

var (
	ErrCenterNotFound       = errors.New("center not found")
	ErrPractitionerNotFound = errors.New("practitioner not found")
)

// Store reads the center and practitioner reference tables.
type Store interface {
	ListCenters(ctx context.Context, f CenterFilter) ([]Center, error)
	GetCenter(ctx context.Context, id uuid.UUID) (*Center, error)
	ListPractitioners(ctx context.Context, centerID uuid.UUID) ([]Practitioner, error)
	GetPractitioner(ctx context.Context, id uuid.UUID) (*Practitioner, error)
	IsAssociated(ctx context.Context, practitionerID, centerID uuid.UUID) (bool, error)
}

type querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type PgStore struct {
	db      querier
	dialect goqu.DialectWrapper
}

func NewPgStore(db querier) *PgStore {
	return &PgStore{db: db, dialect: goqu.Dialect("postgres")}
}

var centerColumns = []any{
	"id", "name", "address", "city", "phone", "latitude", "longitude",
	"specialties", "timings", "rating", "reviews", "certified",
}

const practitionerSelect = `
	SELECT p.id, p.name, p.speciality, p.experience_years, p.rating, p.slot_times,
	       COALESCE(array_agg(pc.center_id) FILTER (WHERE pc.center_id IS NOT NULL), '{}') AS center_ids
	FROM practitioners p
	LEFT JOIN practitioner_centers pc ON pc.practitioner_id = p.id
`

func scanCenter(row pgx.Row) (*Center, error) {
	var c Center
	err := row.Scan(
		&c.ID,
		&c.Name,
		&c.Address,
		&c.City,
		&c.Phone,
		&c.Latitude,
		&c.Longitude,
		&c.Specialties,
		&c.Timings,
		&c.Rating,
		&c.Reviews,
		&c.Certified,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrCenterNotFound
		}
		return nil, err
	}
	return &c, nil
}

func scanPractitioner(row pgx.Row) (*Practitioner, error) {
	var p Practitioner
	err := row.Scan(
		&p.ID,
		&p.Name,
		&p.Speciality,
		&p.ExperienceYears,
		&p.Rating,
		&p.SlotTimes,
		&p.CenterIDs,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrPractitionerNotFound
		}
		return nil, err
	}
	return &p, nil
}

// centersQuery builds the filtered center listing.
func (s *PgStore) centersQuery(f CenterFilter) (string, []any, error) {
	ds := s.dialect.From("centers").Select(centerColumns...).Prepared(true)

	if city := strings.TrimSpace(f.City); city != "" && !strings.EqualFold(city, "all") {
		ds = ds.Where(goqu.Func("lower", goqu.C("city")).Eq(strings.ToLower(city)))
	}
	if q := strings.TrimSpace(f.Query); q != "" {
		pattern := "%" + escapeLike(q) + "%"
		ds = ds.Where(goqu.Or(
			goqu.C("name").ILike(pattern),
			goqu.C("address").ILike(pattern),
		))
	}
	ds = ds.Order(goqu.C("rating").Desc(), goqu.C("name").Asc())
	if f.Limit > 0 {
		ds = ds.Limit(uint(f.Limit))
	}
	return ds.ToSQL()
}

func escapeLike(s string) string {
	return strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(s)
}

func (s *PgStore) ListCenters(ctx context.Context, f CenterFilter) ([]Center, error) {
	query, args, err := s.centersQuery(f)
	if err != nil {
		return nil, fmt.Errorf("build centers query: %w", err)
	}

	rows, err := s.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list centers: %w", err)
	}
	defer rows.Close()

	var out []Center
	for rows.Next() {
		c, err := scanCenter(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *c)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

func (s *PgStore) GetCenter(ctx context.Context, id uuid.UUID) (*Center, error) {
	query, args, err := s.dialect.From("centers").Select(centerColumns...).
		Where(goqu.C("id").Eq(id.String())).Prepared(true).ToSQL()
	if err != nil {
		return nil, fmt.Errorf("build center query: %w", err)
	}
	return scanCenter(s.db.QueryRow(ctx, query, args...))
}

func (s *PgStore) ListPractitioners(ctx context.Context, centerID uuid.UUID) ([]Practitioner, error) {
	rows, err := s.db.Query(ctx, practitionerSelect+`
		WHERE p.id IN (SELECT practitioner_id FROM practitioner_centers WHERE center_id = $1)
		GROUP BY p.id
		ORDER BY p.name
	`, centerID)
	if err != nil {
		return nil, fmt.Errorf("list practitioners: %w", err)
	}
	defer rows.Close()

	var out []Practitioner
	for rows.Next() {
		p, err := scanPractitioner(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *p)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

func (s *PgStore) GetPractitioner(ctx context.Context, id uuid.UUID) (*Practitioner, error) {
	return scanPractitioner(s.db.QueryRow(ctx, practitionerSelect+`
		WHERE p.id = $1
		GROUP BY p.id
	`, id))
}

func (s *PgStore) IsAssociated(ctx context.Context, practitionerID, centerID uuid.UUID) (bool, error) {
	var ok bool
	err := s.db.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM practitioner_centers
			WHERE practitioner_id = $1 AND center_id = $2
		)
	`, practitionerID, centerID).Scan(&ok)
	if err != nil {
		return false, fmt.Errorf("check practitioner center: %w", err)
	}
	return ok, nil
}
