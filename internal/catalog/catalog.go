package catalog

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// CategoryConsultation marks services delivered in consultation rooms.
const CategoryConsultation = "consultation"

var ErrServiceNotFound = errors.New("service not found")

type Service struct {
	ID              uuid.UUID
	Name            string
	DurationMinutes int
	Price           decimal.Decimal
	Category        string
	Specialties     []string
}

// Reader resolves service ids for pricing, specialty matching and room assignment.
type Reader interface {
	// GetServices returns services in the order of ids. Any unknown id
	// yields an error wrapping ErrServiceNotFound.
	GetServices(ctx context.Context, ids []uuid.UUID) ([]Service, error)
}

// Specialties returns the de-duplicated union of the services' specialties,
// preserving first-seen order.
func Specialties(services []Service) []string {
	seen := make(map[string]struct{})
	var out []string
	for _, s := range services {
		for _, sp := range s.Specialties {
			if _, ok := seen[sp]; ok {
				continue
			}
			seen[sp] = struct{}{}
			out = append(out, sp)
		}
	}
	return out
}

// TotalPrice sums service prices.
func TotalPrice(services []Service) decimal.Decimal {
	total := decimal.Zero
	for _, s := range services {
		total = total.Add(s.Price)
	}
	return total
}

// TotalDuration sums service durations in minutes.
func TotalDuration(services []Service) int {
	total := 0
	for _, s := range services {
		total += s.DurationMinutes
	}
	return total
}
