package gatt

import (
	"fmt"

	orderedmap "github.com/wk8/go-ordered-map/v2"
)

// Table is the set of services a peripheral publishes.
type Table struct {
	services *orderedmap.OrderedMap[UUID, *Service]
}

// NewTable builds a table from services; service UUIDs must be unique.
func NewTable(services ...*Service) (*Table, error) {
	t := &Table{services: orderedmap.New[UUID, *Service]()}
	for _, s := range services {
		if _, exists := t.services.Get(s.UUID()); exists {
			return nil, fmt.Errorf("add service %s: %w", s.UUID(), ErrDuplicateUUID)
		}
		t.services.Set(s.UUID(), s)
	}
	return t, nil
}

// Services returns the services in definition order.
func (t *Table) Services() []*Service {
	result := make([]*Service, 0, t.services.Len())
	for pair := t.services.Oldest(); pair != nil; pair = pair.Next() {
		result = append(result, pair.Value)
	}
	return result
}

// Service looks up a service by UUID.
func (t *Table) Service(uuid UUID) (*Service, bool) {
	return t.services.Get(uuid)
}

// ServiceUUIDs returns the service UUIDs in definition order.
func (t *Table) ServiceUUIDs() []UUID {
	result := make([]UUID, 0, t.services.Len())
	for pair := t.services.Oldest(); pair != nil; pair = pair.Next() {
		result = append(result, pair.Key)
	}
	return result
}

// Lookup finds a characteristic by UUID across all services, first match wins.
func (t *Table) Lookup(charUUID UUID) (*Characteristic, bool) {
	for pair := t.services.Oldest(); pair != nil; pair = pair.Next() {
		if c, ok := pair.Value.Characteristic(charUUID); ok {
			return c, true
		}
	}
	return nil, false
}

// Registered reports whether every service has been registered.
func (t *Table) Registered() bool {
	if t.services.Len() == 0 {
		return false
	}
	for pair := t.services.Oldest(); pair != nil; pair = pair.Next() {
		if !pair.Value.Registered() {
			return false
		}
	}
	return true
}

// MarkRegistered sets the registration flag on every service.
func (t *Table) MarkRegistered(registered bool) {
	for pair := t.services.Oldest(); pair != nil; pair = pair.Next() {
		pair.Value.MarkRegistered(registered)
	}
}
