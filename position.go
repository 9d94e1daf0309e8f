package stoporder

import (
	"sync"

	"github.com/shopspring/decimal"
)

// PositionService reports a party's current open position per market. It is
// consulted at trigger time to enforce the reduce-only constraint: a stop
// order may not submit more size than the party holds on the opposite side.
type PositionService interface {
	Position(party, marketID string) (Position, bool)
}

// MemoryPositionService is an in-memory PositionService, useful for testing
// and for simulator deployments.
type MemoryPositionService struct {
	mu        sync.RWMutex
	positions map[string]Position
}

func NewMemoryPositionService() *MemoryPositionService {
	return &MemoryPositionService{
		positions: make(map[string]Position),
	}
}

func positionKey(party, marketID string) string {
	return party + "/" + marketID
}

// Set records a party's open position in a market. A zero size removes the
// position.
func (s *MemoryPositionService) Set(party, marketID string, side Side, size decimal.Decimal) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if size.IsZero() {
		delete(s.positions, positionKey(party, marketID))
		return
	}
	s.positions[positionKey(party, marketID)] = Position{Side: side, Size: size}
}

func (s *MemoryPositionService) Position(party, marketID string) (Position, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	pos, found := s.positions[positionKey(party, marketID)]
	return pos, found
}
