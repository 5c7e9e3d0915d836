package gatt

import (
	"errors"
	"testing"

	"github.com/user/peripheral-blue/wire/att"
)

func TestCCCDEncodeDecode(t *testing.T) {
	tests := []struct {
		name            string
		notifyEnabled   bool
		indicateEnabled bool
		expectedValue   uint16
	}{
		{"both disabled", false, false, CCCDNotificationsDisabled},
		{"notifications enabled", true, false, CCCDNotificationsEnabled},
		{"indications enabled", false, true, CCCDIndicationsEnabled},
		{"both enabled", true, true, CCCDBothEnabled},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cccdValue := EncodeCCCDValue(tt.notifyEnabled, tt.indicateEnabled)
			if len(cccdValue) != 2 {
				t.Fatalf("Expected CCCD value length 2, got %d", len(cccdValue))
			}

			value := uint16(cccdValue[0]) | (uint16(cccdValue[1]) << 8)
			if value != tt.expectedValue {
				t.Errorf("Expected CCCD value 0x%04X, got 0x%04X", tt.expectedValue, value)
			}

			notify, indicate, err := DecodeCCCDValue(cccdValue)
			if err != nil {
				t.Fatalf("DecodeCCCDValue failed: %v", err)
			}
			if notify != tt.notifyEnabled || indicate != tt.indicateEnabled {
				t.Errorf("Decoded (%v, %v), want (%v, %v)", notify, indicate, tt.notifyEnabled, tt.indicateEnabled)
			}
		})
	}
}

func TestCCCDInvalidLength(t *testing.T) {
	for _, value := range [][]byte{nil, {0x01}, {0x01, 0x00, 0x00}} {
		_, _, err := DecodeCCCDValue(value)
		if !errors.Is(err, &att.Error{Code: att.ErrInvalidAttributeValueLength}) {
			t.Errorf("DecodeCCCDValue(%v) error = %v, want invalid length", value, err)
		}
	}
}

func TestModeFromCCCD(t *testing.T) {
	tests := []struct {
		name    string
		value   []byte
		props   Properties
		want    SubscriptionMode
		wantErr bool
	}{
		{"notify", EncodeCCCDValue(true, false), PropNotify, ModeNotify, false},
		{"indicate", EncodeCCCDValue(false, true), PropIndicate, ModeIndicate, false},
		{"both prefers notify", EncodeCCCDValue(true, true), PropNotify | PropIndicate, ModeNotify, false},
		{"both falls back to indicate", EncodeCCCDValue(true, true), PropIndicate, ModeIndicate, false},
		{"disable", EncodeCCCDValue(false, false), PropNotify, ModeNone, false},
		{"notify unsupported", EncodeCCCDValue(true, false), PropRead, ModeNone, true},
		{"bad length", []byte{0x01}, PropNotify, ModeNone, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ModeFromCCCD(tt.value, tt.props)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ModeFromCCCD error = %v, wantErr %v", err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("ModeFromCCCD = %s, want %s", got, tt.want)
			}
		})
	}
}

func TestDefaultMode(t *testing.T) {
	if DefaultMode(PropNotify|PropIndicate) != ModeNotify {
		t.Errorf("notify should be preferred")
	}
	if DefaultMode(PropIndicate) != ModeIndicate {
		t.Errorf("indicate-only characteristic should default to indicate")
	}
	if DefaultMode(PropRead) != ModeNone {
		t.Errorf("read-only characteristic should not be subscribable")
	}
}
