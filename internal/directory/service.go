package directory

import (
	"context"

	"github.com/google/uuid"

	"github.com/hackgods/panchakarma-booking/internal/geo"
)

type Service struct {
	store        Store
	defaultSlots []string
}

func NewService(store Store, defaultSlots []string) *Service {
	return &Service{store: store, defaultSlots: append([]string(nil), defaultSlots...)}
}

// ListCenters applies f and, when f.Near is set, ranks the result by distance
// from that point.
func (s *Service) ListCenters(ctx context.Context, f CenterFilter) ([]Center, error) {
	centers, err := s.store.ListCenters(ctx, f)
	if err != nil {
		return nil, err
	}
	if f.Near != nil {
		RankByDistance(*f.Near, centers)
	}
	return centers, nil
}

// RankByDistance sorts centers nearest first and fills DistanceKm.
func RankByDistance(origin geo.Point, centers []Center) {
	dists := geo.SortByDistance(origin, centers, Center.Point)
	for i := range centers {
		d := dists[i]
		centers[i].DistanceKm = &d
	}
}

func (s *Service) GetCenter(ctx context.Context, id uuid.UUID) (*Center, error) {
	return s.store.GetCenter(ctx, id)
}

func (s *Service) ListPractitioners(ctx context.Context, centerID uuid.UUID) ([]Practitioner, error) {
	if _, err := s.store.GetCenter(ctx, centerID); err != nil {
		return nil, err
	}
	ps, err := s.store.ListPractitioners(ctx, centerID)
	if err != nil {
		return nil, err
	}
	for i := range ps {
		ps[i].SlotTimes = s.slotsOrDefault(ps[i].SlotTimes)
	}
	return ps, nil
}

func (s *Service) GetPractitioner(ctx context.Context, id uuid.UUID) (*Practitioner, error) {
	p, err := s.store.GetPractitioner(ctx, id)
	if err != nil {
		return nil, err
	}
	p.SlotTimes = s.slotsOrDefault(p.SlotTimes)
	return p, nil
}

// SlotTimes is the practitioner's bookable times of day.
func (s *Service) SlotTimes(ctx context.Context, practitionerID uuid.UUID) ([]string, error) {
	p, err := s.GetPractitioner(ctx, practitionerID)
	if err != nil {
		return nil, err
	}
	return p.SlotTimes, nil
}

func (s *Service) WorksAt(ctx context.Context, practitionerID, centerID uuid.UUID) (bool, error) {
	return s.store.IsAssociated(ctx, practitionerID, centerID)
}

func (s *Service) slotsOrDefault(slots []string) []string {
	if len(slots) == 0 {
		return append([]string(nil), s.defaultSlots...)
	}
	return slots
}
