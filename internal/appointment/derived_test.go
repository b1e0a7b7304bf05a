package appointment

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/hackgods/consultation-scheduling/internal/catalog"
)

func TestEstimateWaitMinutes(t *testing.T) {
	tests := []struct {
		name     string
		queue    int
		services []catalog.Service
		want     int
	}{
		{name: "no services, empty queue", queue: 0, want: 15},
		{name: "no services, queue uses default duration", queue: 2, want: 15 + 2*20},
		{name: "short services floored at ten", queue: 1, services: []catalog.Service{{DurationMinutes: 5}}, want: 25},
		{name: "durations are summed", queue: 3, services: []catalog.Service{{DurationMinutes: 20}, {DurationMinutes: 25}}, want: 15 + 3*45},
		{name: "negative queue treated as empty", queue: -4, want: 15},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, EstimateWaitMinutes(tt.queue, tt.services))
		})
	}
}

func TestRoomAssignerPools(t *testing.T) {
	r := NewRoomAssigner(7)
	consult := []catalog.Service{{Category: "testing"}, {Category: catalog.CategoryConsultation}}
	lab := []catalog.Service{{Category: "testing"}}

	for i := 0; i < 50; i++ {
		assert.Regexp(t, `^C[1-9]\d{2}$`, r.Assign(KindSTITest, consult))
		assert.Regexp(t, `^G[1-9]\d{2}$`, r.Assign(KindConsultation, lab))
	}

	assert.Equal(t, "C", RoomPool(KindConsultation, nil))
	assert.Equal(t, "G", RoomPool(KindSTITest, nil))
}

func TestRoomAssignerIsDeterministicPerSeed(t *testing.T) {
	a, b := NewRoomAssigner(99), NewRoomAssigner(99)
	for i := 0; i < 10; i++ {
		assert.Equal(t, a.Assign(KindConsultation, nil), b.Assign(KindConsultation, nil))
	}
}
