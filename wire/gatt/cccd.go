package gatt

import (
	"encoding/binary"

	"github.com/user/peripheral-blue/wire/att"
)

// CCCD (Client Characteristic Configuration Descriptor) values
// These are written by centrals to enable/disable notifications and indications
const (
	CCCDNotificationsDisabled = 0x0000
	CCCDNotificationsEnabled  = 0x0001
	CCCDIndicationsEnabled    = 0x0002
	CCCDBothEnabled           = 0x0003 // Both notifications and indications
)

// SubscriptionMode is how a central receives value updates for a characteristic.
type SubscriptionMode uint8

const (
	ModeNone SubscriptionMode = iota
	ModeNotify
	ModeIndicate
)

func (m SubscriptionMode) String() string {
	switch m {
	case ModeNotify:
		return "notify"
	case ModeIndicate:
		return "indicate"
	default:
		return "none"
	}
}

// ErrInvalidAttributeValueLength is returned when a CCCD value is not 2 bytes.
var ErrInvalidAttributeValueLength = att.NewError(att.ErrInvalidAttributeValueLength, UUIDClientCharacteristicConfig.String())

// EncodeCCCDValue converts subscription state to CCCD value bytes (little-endian)
func EncodeCCCDValue(notifyEnabled, indicateEnabled bool) []byte {
	var value uint16
	if notifyEnabled {
		value |= CCCDNotificationsEnabled
	}
	if indicateEnabled {
		value |= CCCDIndicationsEnabled
	}

	cccdValue := make([]byte, 2)
	binary.LittleEndian.PutUint16(cccdValue, value)
	return cccdValue
}

// DecodeCCCDValue parses CCCD value bytes to notification/indication flags
func DecodeCCCDValue(cccdValue []byte) (notifyEnabled, indicateEnabled bool, err error) {
	if len(cccdValue) != 2 {
		return false, false, ErrInvalidAttributeValueLength
	}

	value := binary.LittleEndian.Uint16(cccdValue)
	notifyEnabled = (value & CCCDNotificationsEnabled) != 0
	indicateEnabled = (value & CCCDIndicationsEnabled) != 0

	return notifyEnabled, indicateEnabled, nil
}

// ModeFromCCCD resolves a CCCD write against the characteristic's properties.
// Notify wins when a central enables both and the characteristic supports it.
func ModeFromCCCD(cccdValue []byte, props Properties) (SubscriptionMode, error) {
	notify, indicate, err := DecodeCCCDValue(cccdValue)
	if err != nil {
		return ModeNone, err
	}
	switch {
	case notify && props.CanNotify():
		return ModeNotify, nil
	case indicate && props.CanIndicate():
		return ModeIndicate, nil
	case !notify && !indicate:
		return ModeNone, nil
	}
	return ModeNone, att.NewError(att.ErrCCCDImproperlyConfigured, "")
}

// DefaultMode picks the subscription mode for a characteristic when the
// transport does not carry an explicit CCCD value.
func DefaultMode(props Properties) SubscriptionMode {
	switch {
	case props.CanNotify():
		return ModeNotify
	case props.CanIndicate():
		return ModeIndicate
	}
	return ModeNone
}
