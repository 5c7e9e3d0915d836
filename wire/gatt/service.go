package gatt

import (
	"fmt"
	"sync"

	orderedmap "github.com/wk8/go-ordered-map/v2"
)

// Service groups characteristics under a UUID. Characteristics can only be
// added until the service is registered with the radio.
type Service struct {
	uuid    UUID
	primary bool

	mu         sync.RWMutex
	chars      *orderedmap.OrderedMap[UUID, *Characteristic]
	registered bool
}

// NewService creates an empty, unregistered service.
func NewService(uuid UUID, primary bool) *Service {
	return &Service{
		uuid:    uuid,
		primary: primary,
		chars:   orderedmap.New[UUID, *Characteristic](),
	}
}

// UUID returns the service UUID.
func (s *Service) UUID() UUID { return s.uuid }

// Primary reports whether this is a primary service.
func (s *Service) Primary() bool { return s.primary }

// AddCharacteristic defines a new characteristic with an initial value.
func (s *Service) AddCharacteristic(uuid UUID, props Properties, perms Permissions, initial []byte) (*Characteristic, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.registered {
		return nil, fmt.Errorf("add characteristic %s: %w", uuid, ErrServiceRegistered)
	}
	if _, exists := s.chars.Get(uuid); exists {
		return nil, fmt.Errorf("add characteristic %s: %w", uuid, ErrDuplicateUUID)
	}

	c := &Characteristic{
		uuid:        uuid,
		properties:  props,
		permissions: perms,
		service:     s,
		value:       append([]byte{}, initial...),
	}
	s.chars.Set(uuid, c)
	return c, nil
}

// Characteristic looks up a characteristic by UUID.
func (s *Service) Characteristic(uuid UUID) (*Characteristic, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.chars.Get(uuid)
}

// Characteristics returns the characteristics in definition order.
func (s *Service) Characteristics() []*Characteristic {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]*Characteristic, 0, s.chars.Len())
	for pair := s.chars.Oldest(); pair != nil; pair = pair.Next() {
		result = append(result, pair.Value)
	}
	return result
}

// MarkRegistered records whether the radio has accepted this service.
func (s *Service) MarkRegistered(registered bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.registered = registered
}

// Registered reports whether the radio has accepted this service.
func (s *Service) Registered() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.registered
}
