package gatt

import (
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// ErrInvalidUUID is returned when a string is neither a 16-bit nor a 128-bit UUID.
var ErrInvalidUUID = errors.New("gatt: invalid uuid")

// UUID is a 128-bit Bluetooth UUID. 16-bit SIG UUIDs are stored expanded onto
// the Bluetooth base UUID 00000000-0000-1000-8000-00805F9B34FB.
type UUID uuid.UUID

var baseUUID = uuid.MustParse("00000000-0000-1000-8000-00805F9B34FB")

// UUID16 expands a 16-bit SIG UUID onto the Bluetooth base UUID.
func UUID16(v uint16) UUID {
	u := UUID(baseUUID)
	u[2] = byte(v >> 8)
	u[3] = byte(v)
	return u
}

// ParseUUID accepts the 4-hex-digit short form ("2902"), the 36-char
// canonical form and anything else github.com/google/uuid can parse.
func ParseUUID(s string) (UUID, error) {
	s = strings.TrimSpace(s)
	if len(s) == 4 {
		b, err := hex.DecodeString(s)
		if err != nil {
			return UUID{}, fmt.Errorf("%w: %q", ErrInvalidUUID, s)
		}
		return UUID16(uint16(b[0])<<8 | uint16(b[1])), nil
	}
	u, err := uuid.Parse(s)
	if err != nil {
		return UUID{}, fmt.Errorf("%w: %q: %v", ErrInvalidUUID, s, err)
	}
	return UUID(u), nil
}

// MustParseUUID is like ParseUUID but panics if s cannot be parsed.
func MustParseUUID(s string) UUID {
	u, err := ParseUUID(s)
	if err != nil {
		panic(err)
	}
	return u
}

// String returns the canonical lowercase 36-char form.
func (u UUID) String() string {
	return uuid.UUID(u).String()
}

// Short returns the 16-bit value if u lies on the Bluetooth base UUID.
func (u UUID) Short() (uint16, bool) {
	b := u
	b[2], b[3] = 0, 0
	if b != UUID(baseUUID) {
		return 0, false
	}
	return uint16(u[2])<<8 | uint16(u[3]), true
}

// Bytes returns the big-endian (canonical order) bytes.
func (u UUID) Bytes() []byte {
	b := make([]byte, 16)
	copy(b, u[:])
	return b
}

// LittleEndian returns the bytes in over-the-air order.
func (u UUID) LittleEndian() []byte {
	b := make([]byte, 16)
	for i := range u {
		b[15-i] = u[i]
	}
	return b
}

// UUIDFromBytes builds a UUID from 16 canonical-order bytes.
func UUIDFromBytes(b []byte) (UUID, error) {
	u, err := uuid.FromBytes(b)
	if err != nil {
		return UUID{}, fmt.Errorf("%w: %v", ErrInvalidUUID, err)
	}
	return UUID(u), nil
}
