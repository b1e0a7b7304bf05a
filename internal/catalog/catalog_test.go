package catalog

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type countingReader struct {
	inner Reader
	calls int
	asked []uuid.UUID
}

func (c *countingReader) GetServices(ctx context.Context, ids []uuid.UUID) ([]Service, error) {
	c.calls++
	c.asked = append(c.asked, ids...)
	return c.inner.GetServices(ctx, ids)
}

func svc(name, category string, minutes int, price string, specialties ...string) Service {
	return Service{
		ID:              uuid.New(),
		Name:            name,
		DurationMinutes: minutes,
		Price:           decimal.RequireFromString(price),
		Category:        category,
		Specialties:     specialties,
	}
}

func TestSpecialtiesUnion(t *testing.T) {
	a := svc("pap smear", "test", 20, "150000", "gynecology")
	b := svc("sti panel", "test", 30, "300000", "gynecology", "urology")

	assert.Equal(t, []string{"gynecology", "urology"}, Specialties([]Service{a, b}))
	assert.Empty(t, Specialties(nil))
}

func TestTotals(t *testing.T) {
	a := svc("a", CategoryConsultation, 20, "100.50", "x")
	b := svc("b", "test", 15, "49.50", "y")

	assert.True(t, decimal.RequireFromString("150").Equal(TotalPrice([]Service{a, b})))
	assert.Equal(t, 35, TotalDuration([]Service{a, b}))
}

func TestMemoryReaderUnknownID(t *testing.T) {
	r := NewMemoryReader(svc("a", "test", 10, "1"))

	_, err := r.GetServices(context.Background(), []uuid.UUID{uuid.New()})
	assert.ErrorIs(t, err, ErrServiceNotFound)
}

func TestCachedReaderServesRepeatsFromCache(t *testing.T) {
	a := svc("a", CategoryConsultation, 20, "10", "x")
	b := svc("b", "test", 15, "20", "y")
	inner := &countingReader{inner: NewMemoryReader(a, b)}

	cached, err := NewCachedReader(inner, 16)
	require.NoError(t, err)

	got, err := cached.GetServices(context.Background(), []uuid.UUID{a.ID, b.ID})
	require.NoError(t, err)
	assert.Equal(t, []uuid.UUID{a.ID, b.ID}, []uuid.UUID{got[0].ID, got[1].ID})
	assert.Equal(t, 1, inner.calls)

	got, err = cached.GetServices(context.Background(), []uuid.UUID{b.ID, a.ID})
	require.NoError(t, err)
	assert.Equal(t, b.ID, got[0].ID)
	assert.Equal(t, 1, inner.calls)

	cached.Invalidate(a.ID)
	_, err = cached.GetServices(context.Background(), []uuid.UUID{a.ID, b.ID})
	require.NoError(t, err)
	assert.Equal(t, 2, inner.calls)
	assert.Equal(t, a.ID, inner.asked[len(inner.asked)-1])
}
