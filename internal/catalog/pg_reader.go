package catalog

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

type PgReader struct {
	pool *pgxpool.Pool
}

func NewPgReader(pool *pgxpool.Pool) *PgReader {
	return &PgReader{pool: pool}
}

func (r *PgReader) GetServices(ctx context.Context, ids []uuid.UUID) ([]Service, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	rows, err := r.pool.Query(ctx, `
		SELECT id, name, duration_minutes, price::text, category, specialties
		FROM services
		WHERE id = ANY($1) AND deleted_at IS NULL
	`, ids)
	if err != nil {
		return nil, fmt.Errorf("query services: %w", err)
	}
	defer rows.Close()

	byID := make(map[uuid.UUID]Service, len(ids))
	for rows.Next() {
		var s Service
		var price string
		if err := rows.Scan(&s.ID, &s.Name, &s.DurationMinutes, &price, &s.Category, &s.Specialties); err != nil {
			return nil, err
		}
		s.Price, err = decimal.NewFromString(price)
		if err != nil {
			return nil, fmt.Errorf("parse price of service %s: %w", s.ID, err)
		}
		byID[s.ID] = s
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	return ordered(ids, byID)
}

func ordered(ids []uuid.UUID, byID map[uuid.UUID]Service) ([]Service, error) {
	out := make([]Service, 0, len(ids))
	for _, id := range ids {
		s, ok := byID[id]
		if !ok {
			return nil, fmt.Errorf("%w: %s", ErrServiceNotFound, id)
		}
		out = append(out, s)
	}
	return out, nil
}
