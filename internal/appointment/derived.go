package appointment

import (
	"fmt"
	"math/rand/v2"
	"sync"

	"github.com/hackgods/consultation-scheduling/internal/catalog"
)

const (
	baseWaitMinutes       = 15
	minWaitMinutes        = 5
	minServiceMinutes     = 10
	defaultServiceMinutes = 20
)

// EstimateWaitMinutes is max(15 + queue*avg, 5), where avg is the summed
// service duration floored at 10 minutes, or 20 when there are no services.
func EstimateWaitMinutes(queue int, services []catalog.Service) int {
	avg := defaultServiceMinutes
	if len(services) > 0 {
		avg = max(catalog.TotalDuration(services), minServiceMinutes)
	}
	return max(baseWaitMinutes+max(queue, 0)*avg, minWaitMinutes)
}

// RoomAssigner picks a room from the consultation (C) or general (G) pool.
type RoomAssigner struct {
	mu  sync.Mutex
	rnd *rand.Rand
}

func NewRoomAssigner(seed uint64) *RoomAssigner {
	return &RoomAssigner{rnd: rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))}
}

// Assign returns C### when any service is a consultation, or when there are
// no services and kind is a consultation; G### otherwise.
func (r *RoomAssigner) Assign(kind Kind, services []catalog.Service) string {
	r.mu.Lock()
	n := 100 + r.rnd.IntN(900)
	r.mu.Unlock()
	return fmt.Sprintf("%s%03d", RoomPool(kind, services), n)
}

// RoomPool returns the room prefix for a set of services.
func RoomPool(kind Kind, services []catalog.Service) string {
	if len(services) == 0 {
		if kind == KindConsultation {
			return "C"
		}
		return "G"
	}
	for _, s := range services {
		if s.Category == catalog.CategoryConsultation {
			return "C"
		}
	}
	return "G"
}
