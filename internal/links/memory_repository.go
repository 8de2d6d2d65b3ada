package links

import (
	"context"
	"sort"
	"sync"
	"time"
)

type memoryRepository struct {
	mu    sync.Mutex
	links map[string]Link
}

// NewMemoryRepository builds an in-memory link store for tests and development.
func NewMemoryRepository() Repository {
	return &memoryRepository{links: make(map[string]Link)}
}

func (r *memoryRepository) Create(_ context.Context, link Link) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, existing := range r.links {
		if existing.CaregiverID != link.CaregiverID || !existing.Open() {
			continue
		}
		if existing.InviteePhone == link.InviteePhone {
			return ErrDuplicateLink
		}
		if link.Resolved() && existing.PatientID == link.PatientID {
			return ErrDuplicateLink
		}
	}
	r.links[link.ID] = cloneLink(link)
	return nil
}

func (r *memoryRepository) Get(_ context.Context, id string) (Link, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	link, ok := r.links[id]
	if !ok {
		return Link{}, ErrLinkNotFound
	}
	return cloneLink(link), nil
}

func (r *memoryRepository) Transition(_ context.Context, id string, from, to Status, at time.Time) (Link, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	link, ok := r.links[id]
	if !ok {
		return Link{}, ErrLinkNotFound
	}
	if link.Status != from || !canTransition(from, to) {
		return Link{}, ErrInvalidTransition
	}
	applyTransition(&link, to, at)
	r.links[id] = link
	return cloneLink(link), nil
}

func (r *memoryRepository) ListByCaregiver(_ context.Context, caregiverID string) ([]Link, error) {
	return r.filter(func(l Link) bool { return l.CaregiverID == caregiverID }), nil
}

func (r *memoryRepository) ListByPatient(_ context.Context, patientID string) ([]Link, error) {
	if patientID == "" {
		return nil, nil
	}
	return r.filter(func(l Link) bool { return l.PatientID == patientID }), nil
}

func (r *memoryRepository) ResolveInvitee(_ context.Context, phone, patientID string, at time.Time) ([]Link, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var changed []Link
	for id, link := range r.links {
		if link.Resolved() || link.InviteePhone != phone {
			continue
		}
		link.PatientID = patientID
		link.UpdatedAt = at
		r.links[id] = link
		changed = append(changed, cloneLink(link))
	}
	return changed, nil
}

func (r *memoryRepository) filter(keep func(Link) bool) []Link {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Link
	for _, link := range r.links {
		if keep(link) {
			out = append(out, cloneLink(link))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	return out
}

func cloneLink(l Link) Link {
	if l.ApprovedAt != nil {
		t := *l.ApprovedAt
		l.ApprovedAt = &t
	}
	if l.RevokedAt != nil {
		t := *l.RevokedAt
		l.RevokedAt = &t
	}
	return l
}
