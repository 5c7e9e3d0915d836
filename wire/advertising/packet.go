package advertising

import (
	"encoding/binary"
	"errors"
	"fmt"
	"strings"

	"github.com/user/peripheral-blue/wire/gatt"
)

// AD Types (Advertising Data Types) - EIR/AD format
const (
	ADTypeFlags                        = 0x01 // Flags
	ADTypeIncomplete16BitServiceUUIDs  = 0x02 // Incomplete List of 16-bit Service UUIDs
	ADTypeComplete16BitServiceUUIDs    = 0x03 // Complete List of 16-bit Service UUIDs
	ADTypeIncomplete128BitServiceUUIDs = 0x06 // Incomplete List of 128-bit Service UUIDs
	ADTypeComplete128BitServiceUUIDs   = 0x07 // Complete List of 128-bit Service UUIDs
	ADTypeShortenedLocalName           = 0x08 // Shortened Local Name
	ADTypeCompleteLocalName            = 0x09 // Complete Local Name
	ADTypeTxPowerLevel                 = 0x0A // Tx Power Level
	ADTypeManufacturerSpecificData     = 0xFF // Manufacturer Specific Data
)

// Advertising Flags (used in ADTypeFlags)
const (
	FlagLELimitedDiscoverableMode = 0x01 // LE Limited Discoverable Mode
	FlagLEGeneralDiscoverableMode = 0x02 // LE General Discoverable Mode
	FlagBREDRNotSupported         = 0x04 // BR/EDR Not Supported
)

// MaxAdvertisingDataLen is the legacy (BLE 4.x) advertising data limit.
const MaxAdvertisingDataLen = 31

// ErrTooLong is returned when the encoded structures exceed MaxAdvertisingDataLen.
var ErrTooLong = errors.New("advertising data too long")

// ADStructure represents a single TLV (Type-Length-Value) structure in advertising data
// Format: [Length: 1 byte] [Type: 1 byte] [Data: N bytes]
// Note: Length includes the Type byte but not itself
type ADStructure struct {
	Type byte
	Data []byte
}

func (s ADStructure) size() int { return 2 + len(s.Data) }

// EncodeADStructures encodes multiple AD structures into a single advertising data payload
func EncodeADStructures(structures []ADStructure) ([]byte, error) {
	var buf []byte

	for _, s := range structures {
		length := 1 + len(s.Data)
		if length > 255 {
			return nil, fmt.Errorf("AD structure 0x%02X: %d bytes: %w", s.Type, length, ErrTooLong)
		}
		buf = append(buf, byte(length), s.Type)
		buf = append(buf, s.Data...)
	}

	if len(buf) > MaxAdvertisingDataLen {
		return nil, fmt.Errorf("total %d bytes exceeds %d: %w", len(buf), MaxAdvertisingDataLen, ErrTooLong)
	}

	return buf, nil
}

// DecodeADStructures parses advertising data into individual AD structures.
// A zero length byte terminates the payload (trailing padding).
func DecodeADStructures(data []byte) ([]ADStructure, error) {
	var structures []ADStructure

	for offset := 0; offset < len(data); {
		length := int(data[offset])
		if length == 0 {
			break
		}
		offset++
		if offset+length > len(data) {
			return nil, fmt.Errorf("AD structure length exceeds data: length=%d, remaining=%d", length, len(data)-offset)
		}

		adData := make([]byte, length-1)
		copy(adData, data[offset+1:offset+length])
		structures = append(structures, ADStructure{Type: data[offset], Data: adData})
		offset += length
	}

	return structures, nil
}

// Payload is the decoded form of what a peripheral advertises.
type Payload struct {
	Flags         byte
	LocalName     string
	NameComplete  bool
	ServiceUUIDs  []gatt.UUID
	UUIDsComplete bool
}

// Build lays out flags, service UUIDs and local name into one legacy
// advertising payload. Service UUIDs take priority over the name: UUIDs
// that do not fit are dropped and their list marked incomplete, and the
// name is shortened to whatever room is left.
func Build(name string, serviceUUIDs []gatt.UUID) ([]byte, error) {
	structures := []ADStructure{{
		Type: ADTypeFlags,
		Data: []byte{FlagLEGeneralDiscoverableMode | FlagBREDRNotSupported},
	}}
	room := MaxAdvertisingDataLen - structures[0].size()

	var short []uint16
	var long []gatt.UUID
	for _, u := range serviceUUIDs {
		if v, ok := u.Short(); ok {
			short = append(short, v)
		} else {
			long = append(long, u)
		}
	}

	if len(short) > 0 && room >= 4 {
		n := min(len(short), (room-2)/2)
		ad := ADStructure{Type: ADTypeComplete16BitServiceUUIDs, Data: make([]byte, 2*n)}
		if n < len(short) {
			ad.Type = ADTypeIncomplete16BitServiceUUIDs
		}
		for i := 0; i < n; i++ {
			binary.LittleEndian.PutUint16(ad.Data[2*i:], short[i])
		}
		structures = append(structures, ad)
		room -= ad.size()
	}

	if len(long) > 0 && room >= 18 {
		n := min(len(long), (room-2)/16)
		ad := ADStructure{Type: ADTypeComplete128BitServiceUUIDs}
		if n < len(long) {
			ad.Type = ADTypeIncomplete128BitServiceUUIDs
		}
		for _, u := range long[:n] {
			ad.Data = append(ad.Data, u.LittleEndian()...)
		}
		structures = append(structures, ad)
		room -= ad.size()
	}

	if name != "" && room >= 3 {
		ad := ADStructure{Type: ADTypeCompleteLocalName, Data: []byte(name)}
		if ad.size() > room {
			ad.Type = ADTypeShortenedLocalName
			ad.Data = ad.Data[:room-2]
		}
		structures = append(structures, ad)
	}

	return EncodeADStructures(structures)
}

// Parse decodes an advertising payload produced by Build or a real controller.
func Parse(data []byte) (*Payload, error) {
	structures, err := DecodeADStructures(data)
	if err != nil {
		return nil, err
	}

	p := &Payload{UUIDsComplete: true}
	for _, s := range structures {
		switch s.Type {
		case ADTypeFlags:
			if len(s.Data) > 0 {
				p.Flags = s.Data[0]
			}
		case ADTypeCompleteLocalName, ADTypeShortenedLocalName:
			p.LocalName = string(s.Data)
			p.NameComplete = s.Type == ADTypeCompleteLocalName
		case ADTypeComplete16BitServiceUUIDs, ADTypeIncomplete16BitServiceUUIDs:
			if len(s.Data)%2 != 0 {
				return nil, fmt.Errorf("16-bit UUID list has odd length %d", len(s.Data))
			}
			for i := 0; i < len(s.Data); i += 2 {
				p.ServiceUUIDs = append(p.ServiceUUIDs, gatt.UUID16(binary.LittleEndian.Uint16(s.Data[i:])))
			}
			p.UUIDsComplete = p.UUIDsComplete && s.Type == ADTypeComplete16BitServiceUUIDs
		case ADTypeComplete128BitServiceUUIDs, ADTypeIncomplete128BitServiceUUIDs:
			if len(s.Data)%16 != 0 {
				return nil, fmt.Errorf("128-bit UUID list has length %d", len(s.Data))
			}
			for i := 0; i < len(s.Data); i += 16 {
				var be [16]byte
				for j := 0; j < 16; j++ {
					be[15-j] = s.Data[i+j]
				}
				p.ServiceUUIDs = append(p.ServiceUUIDs, gatt.UUID(be))
			}
			p.UUIDsComplete = p.UUIDsComplete && s.Type == ADTypeComplete128BitServiceUUIDs
		}
	}
	return p, nil
}

// ADTypeName returns a human-readable name for an AD type
func ADTypeName(adType byte) string {
	switch adType {
	case ADTypeFlags:
		return "Flags"
	case ADTypeIncomplete16BitServiceUUIDs:
		return "Incomplete 16-bit Service UUIDs"
	case ADTypeComplete16BitServiceUUIDs:
		return "Complete 16-bit Service UUIDs"
	case ADTypeIncomplete128BitServiceUUIDs:
		return "Incomplete 128-bit Service UUIDs"
	case ADTypeComplete128BitServiceUUIDs:
		return "Complete 128-bit Service UUIDs"
	case ADTypeShortenedLocalName:
		return "Shortened Local Name"
	case ADTypeCompleteLocalName:
		return "Complete Local Name"
	case ADTypeTxPowerLevel:
		return "Tx Power Level"
	case ADTypeManufacturerSpecificData:
		return "Manufacturer Specific Data"
	default:
		return fmt.Sprintf("Unknown(0x%02X)", adType)
	}
}

// Describe renders a payload as one line per AD structure, for logs.
func Describe(data []byte) string {
	structures, err := DecodeADStructures(data)
	if err != nil {
		return fmt.Sprintf("<invalid: %v>", err)
	}
	lines := make([]string, 0, len(structures))
	for _, s := range structures {
		lines = append(lines, fmt.Sprintf("%s: % X", ADTypeName(s.Type), s.Data))
	}
	return strings.Join(lines, "\n")
}
