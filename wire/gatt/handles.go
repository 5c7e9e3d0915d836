package gatt

import (
	"errors"
	"strings"
	"sync"
)

// Well-known GATT UUIDs
var (
	UUIDGenericAccess              = UUID16(0x1800)
	UUIDGenericAttribute           = UUID16(0x1801)
	UUIDClientCharacteristicConfig = UUID16(0x2902) // CCCD
	UUIDDeviceName                 = UUID16(0x2A00)
)

// Properties is the characteristic properties bitmask as sent over the air.
type Properties uint8

// Characteristic Properties (bitmask)
const (
	PropBroadcast                 Properties = 0x01
	PropRead                      Properties = 0x02
	PropWriteWithoutResponse      Properties = 0x04
	PropWrite                     Properties = 0x08
	PropNotify                    Properties = 0x10
	PropIndicate                  Properties = 0x20
	PropAuthenticatedSignedWrites Properties = 0x40
	PropExtendedProperties        Properties = 0x80
)

var propertyNames = []struct {
	p    Properties
	name string
}{
	{PropBroadcast, "broadcast"},
	{PropRead, "read"},
	{PropWriteWithoutResponse, "write_without_response"},
	{PropWrite, "write"},
	{PropNotify, "notify"},
	{PropIndicate, "indicate"},
	{PropAuthenticatedSignedWrites, "authenticated_signed_writes"},
	{PropExtendedProperties, "extended_properties"},
}

// CanNotify reports whether the notify property is set.
func (p Properties) CanNotify() bool { return p&PropNotify != 0 }

// CanIndicate reports whether the indicate property is set.
func (p Properties) CanIndicate() bool { return p&PropIndicate != 0 }

// Strings returns the property names, in bit order.
func (p Properties) Strings() []string {
	var result []string
	for _, pn := range propertyNames {
		if p&pn.p != 0 {
			result = append(result, pn.name)
		}
	}
	return result
}

func (p Properties) String() string {
	return strings.Join(p.Strings(), "|")
}

// ParseProperty maps a property name back to its bit.
func ParseProperty(name string) (Properties, bool) {
	for _, pn := range propertyNames {
		if pn.name == name {
			return pn.p, true
		}
	}
	return 0, false
}

// Permissions is the server-side attribute permission bitmask (never transmitted).
type Permissions uint8

// Attribute permissions
const (
	PermReadable     Permissions = 0x01
	PermWritable     Permissions = 0x02
	PermReadEncrypt  Permissions = 0x04
	PermWriteEncrypt Permissions = 0x08
)

// CanRead reports whether the readable permission is set.
func (p Permissions) CanRead() bool { return p&PermReadable != 0 }

// CanWrite reports whether the writable permission is set.
func (p Permissions) CanWrite() bool { return p&PermWritable != 0 }

func (p Permissions) String() string {
	var parts []string
	if p&PermReadable != 0 {
		parts = append(parts, "readable")
	}
	if p&PermWritable != 0 {
		parts = append(parts, "writable")
	}
	if p&PermReadEncrypt != 0 {
		parts = append(parts, "read_encrypt")
	}
	if p&PermWriteEncrypt != 0 {
		parts = append(parts, "write_encrypt")
	}
	return strings.Join(parts, "|")
}

// ParsePermission maps a permission name back to its bit.
func ParsePermission(name string) (Permissions, bool) {
	switch name {
	case "readable":
		return PermReadable, true
	case "writable", "writeable":
		return PermWritable, true
	case "read_encrypt":
		return PermReadEncrypt, true
	case "write_encrypt":
		return PermWriteEncrypt, true
	}
	return 0, false
}

// Attribute table errors
var (
	ErrDuplicateUUID     = errors.New("gatt: duplicate uuid")
	ErrNotRegistered     = errors.New("gatt: service not registered")
	ErrServiceRegistered = errors.New("gatt: service already registered")
)

// Characteristic is an addressable value inside a Service. Its shape is fixed
// at definition; only the value changes, and only once the service is registered.
type Characteristic struct {
	uuid        UUID
	properties  Properties
	permissions Permissions
	service     *Service

	mu    sync.RWMutex
	value []byte
}

// UUID returns the characteristic UUID.
func (c *Characteristic) UUID() UUID { return c.uuid }

// Properties returns the declared properties.
func (c *Characteristic) Properties() Properties { return c.properties }

// Permissions returns the declared permissions.
func (c *Characteristic) Permissions() Permissions { return c.permissions }

// Service returns the owning service.
func (c *Characteristic) Service() *Service { return c.service }

// Value returns a copy of the current value.
func (c *Characteristic) Value() []byte {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return append([]byte{}, c.value...)
}

// Len returns the length of the current value.
func (c *Characteristic) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.value)
}

// SetValue replaces the current value. It fails with ErrNotRegistered until
// the owning service has been registered with the radio.
func (c *Characteristic) SetValue(value []byte) error {
	if !c.service.Registered() {
		return ErrNotRegistered
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.value = append([]byte{}, value...) // Copy to avoid aliasing
	return nil
}
