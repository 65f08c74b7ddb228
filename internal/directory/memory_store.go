package directory

import (
	"context"
	"sort"
	"strings"
	"sync"

	"github.com/google/uuid"
)

// MemoryStore is a Store held in process, used by tests and local runs
// without Postgres.
type MemoryStore struct {
	mu            sync.RWMutex
	centers       []Center
	practitioners map[uuid.UUID]Practitioner
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{practitioners: map[uuid.UUID]Practitioner{}}
}

func (m *MemoryStore) AddCenter(c Center) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.centers = append(m.centers, c)
}

// AddPractitioner stores p; p.CenterIDs are its center associations.
func (m *MemoryStore) AddPractitioner(p Practitioner) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.practitioners[p.ID] = p
}

func (m *MemoryStore) ListCenters(_ context.Context, f CenterFilter) ([]Center, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	city := strings.ToLower(strings.TrimSpace(f.City))
	q := strings.ToLower(strings.TrimSpace(f.Query))

	var out []Center
	for _, c := range m.centers {
		if city != "" && city != "all" && strings.ToLower(c.City) != city {
			continue
		}
		if q != "" && !strings.Contains(strings.ToLower(c.Name), q) && !strings.Contains(strings.ToLower(c.Address), q) {
			continue
		}
		out = append(out, c)
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Rating != out[j].Rating {
			return out[i].Rating > out[j].Rating
		}
		return out[i].Name < out[j].Name
	})
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, nil
}

func (m *MemoryStore) GetCenter(_ context.Context, id uuid.UUID) (*Center, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, c := range m.centers {
		if c.ID == id {
			return &c, nil
		}
	}
	return nil, ErrCenterNotFound
}

func (m *MemoryStore) ListPractitioners(_ context.Context, centerID uuid.UUID) ([]Practitioner, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []Practitioner
	for _, p := range m.practitioners {
		if hasCenter(p, centerID) {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (m *MemoryStore) GetPractitioner(_ context.Context, id uuid.UUID) (*Practitioner, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.practitioners[id]
	if !ok {
		return nil, ErrPractitionerNotFound
	}
	return &p, nil
}

func (m *MemoryStore) IsAssociated(_ context.Context, practitionerID, centerID uuid.UUID) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.practitioners[practitionerID]
	return ok && hasCenter(p, centerID), nil
}

func hasCenter(p Practitioner, centerID uuid.UUID) bool {
	for _, id := range p.CenterIDs {
		if id == centerID {
			return true
		}
	}
	return false
}
