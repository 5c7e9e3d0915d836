// Package frame is the socket transport's wire format. Each frame is a
// uvarint length followed by a protobuf-encoded message:
//
//	1 kind            varint
//	2 request id      varint
//	3 characteristic  bytes (16, canonical order)
//	4 offset          varint
//	5 payload         bytes
//	6 status          varint (ATT code)
//	7 central         bytes
//
// Zero-valued fields are omitted. Unknown fields are skipped.
package frame

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"google.golang.org/protobuf/encoding/protowire"

	"github.com/user/peripheral-blue/wire/gatt"
)

// MaxFrameSize bounds a single encoded frame.
const MaxFrameSize = 64 * 1024

var (
	ErrFrameTooLarge = errors.New("frame too large")
	ErrUnknownKind   = errors.New("unknown frame kind")
	ErrMalformed     = errors.New("malformed frame")
)

// Kind is the frame type.
type Kind uint8

const (
	KindHello        Kind = iota + 1 // central -> peripheral, carries Central
	KindRead                         // central -> peripheral
	KindWrite                        // central -> peripheral
	KindSubscribe                    // central -> peripheral
	KindUnsubscribe                  // central -> peripheral
	KindCCCDWrite                    // central -> peripheral, payload is the 2-byte descriptor value
	KindConfirm                      // central -> peripheral, indication confirmation
	KindResponse                     // peripheral -> central
	KindNotification                 // peripheral -> central
	KindIndication                   // peripheral -> central, expects KindConfirm
)

var kindNames = map[Kind]string{
	KindHello:        "hello",
	KindRead:         "read",
	KindWrite:        "write",
	KindSubscribe:    "subscribe",
	KindUnsubscribe:  "unsubscribe",
	KindCCCDWrite:    "cccd_write",
	KindConfirm:      "confirm",
	KindResponse:     "response",
	KindNotification: "notification",
	KindIndication:   "indication",
}

func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("Kind(%d)", uint8(k))
}

const (
	fieldKind           protowire.Number = 1
	fieldRequestID      protowire.Number = 2
	fieldCharacteristic protowire.Number = 3
	fieldOffset         protowire.Number = 4
	fieldPayload        protowire.Number = 5
	fieldStatus         protowire.Number = 6
	fieldCentral        protowire.Number = 7
)

// Frame is one transport message.
type Frame struct {
	Kind           Kind
	RequestID      uint64
	Characteristic gatt.UUID
	Offset         uint64
	Payload        []byte
	Status         uint8
	Central        string
}

// Marshal encodes the frame body without the length prefix.
func (f *Frame) Marshal() []byte {
	var b []byte
	b = protowire.AppendTag(b, fieldKind, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(f.Kind))
	if f.RequestID != 0 {
		b = protowire.AppendTag(b, fieldRequestID, protowire.VarintType)
		b = protowire.AppendVarint(b, f.RequestID)
	}
	if f.Characteristic != (gatt.UUID{}) {
		b = protowire.AppendTag(b, fieldCharacteristic, protowire.BytesType)
		b = protowire.AppendBytes(b, f.Characteristic.Bytes())
	}
	if f.Offset != 0 {
		b = protowire.AppendTag(b, fieldOffset, protowire.VarintType)
		b = protowire.AppendVarint(b, f.Offset)
	}
	if len(f.Payload) > 0 {
		b = protowire.AppendTag(b, fieldPayload, protowire.BytesType)
		b = protowire.AppendBytes(b, f.Payload)
	}
	if f.Status != 0 {
		b = protowire.AppendTag(b, fieldStatus, protowire.VarintType)
		b = protowire.AppendVarint(b, uint64(f.Status))
	}
	if f.Central != "" {
		b = protowire.AppendTag(b, fieldCentral, protowire.BytesType)
		b = protowire.AppendString(b, f.Central)
	}
	return b
}

// Unmarshal decodes a frame body.
func Unmarshal(b []byte) (*Frame, error) {
	f := &Frame{}
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return nil, fmt.Errorf("%w: %v", ErrMalformed, protowire.ParseError(n))
		}
		b = b[n:]

		switch {
		case typ == protowire.VarintType && (num == fieldKind || num == fieldRequestID || num == fieldOffset || num == fieldStatus):
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return nil, fmt.Errorf("%w: field %d: %v", ErrMalformed, num, protowire.ParseError(n))
			}
			b = b[n:]
			switch num {
			case fieldKind:
				f.Kind = Kind(v)
			case fieldRequestID:
				f.RequestID = v
			case fieldOffset:
				f.Offset = v
			case fieldStatus:
				if v > 0xFF {
					return nil, fmt.Errorf("%w: status %d out of range", ErrMalformed, v)
				}
				f.Status = uint8(v)
			}

		case typ == protowire.BytesType && (num == fieldCharacteristic || num == fieldPayload || num == fieldCentral):
			v, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return nil, fmt.Errorf("%w: field %d: %v", ErrMalformed, num, protowire.ParseError(n))
			}
			b = b[n:]
			switch num {
			case fieldCharacteristic:
				u, err := gatt.UUIDFromBytes(v)
				if err != nil {
					return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
				}
				f.Characteristic = u
			case fieldPayload:
				f.Payload = append([]byte(nil), v...)
			case fieldCentral:
				f.Central = string(v)
			}

		default:
			n := protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return nil, fmt.Errorf("%w: field %d: %v", ErrMalformed, num, protowire.ParseError(n))
			}
			b = b[n:]
		}
	}

	if _, ok := kindNames[f.Kind]; !ok {
		return nil, fmt.Errorf("%w: %d", ErrUnknownKind, f.Kind)
	}
	return f, nil
}

// Encode returns the length-prefixed frame.
func Encode(f *Frame) ([]byte, error) {
	body := f.Marshal()
	if len(body) > MaxFrameSize {
		return nil, fmt.Errorf("%w: %d bytes", ErrFrameTooLarge, len(body))
	}
	out := make([]byte, 0, protowire.SizeVarint(uint64(len(body)))+len(body))
	out = protowire.AppendVarint(out, uint64(len(body)))
	return append(out, body...), nil
}

// Write encodes f and writes it in a single call.
func Write(w io.Writer, f *Frame) error {
	b, err := Encode(f)
	if err != nil {
		return err
	}
	_, err = w.Write(b)
	return err
}

// Read reads one length-prefixed frame.
func Read(r *bufio.Reader) (*Frame, error) {
	size, err := binary.ReadUvarint(r)
	if err != nil {
		return nil, err
	}
	if size > MaxFrameSize {
		return nil, fmt.Errorf("%w: %d bytes", ErrFrameTooLarge, size)
	}
	body := make([]byte, size)
	if _, err := io.ReadFull(r, body); err != nil {
		return nil, err
	}
	return Unmarshal(body)
}
