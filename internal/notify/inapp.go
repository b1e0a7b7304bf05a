package notify

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// InAppSink stores intents in the notifications table read by the clients.
type InAppSink struct {
	pool *pgxpool.Pool
}

func NewInAppSink(pool *pgxpool.Pool) *InAppSink {
	return &InAppSink{pool: pool}
}

func (s *InAppSink) Name() string { return "in_app" }

func (s *InAppSink) Deliver(ctx context.Context, in Intent) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO notifications (id, user_id, appointment_id, title, content, type, action_url, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, NULLIF($7, ''), now())
		ON CONFLICT (id) DO NOTHING
	`, in.ID, in.UserID, in.AppointmentID, in.Title, in.Content, in.Type, in.ActionURL)
	if err != nil {
		return fmt.Errorf("insert notification: %w", err)
	}
	return nil
}
