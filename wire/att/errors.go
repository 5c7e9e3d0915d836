package att

import "fmt"

// ATT Error Codes (Bluetooth Core Spec v5.3 Vol 3, Part F, Section 3.4.1.1)
// The peripheral answers every request with one of these.
const (
	ErrSuccess                       = 0x00 // Not an actual error, used internally
	ErrInvalidHandle                 = 0x01
	ErrReadNotPermitted              = 0x02
	ErrWriteNotPermitted             = 0x03
	ErrInvalidPDU                    = 0x04
	ErrInsufficientAuthentication    = 0x05
	ErrRequestNotSupported           = 0x06
	ErrInvalidOffset                 = 0x07
	ErrInsufficientAuthorization     = 0x08
	ErrPrepareQueueFull              = 0x09
	ErrAttributeNotFound             = 0x0A
	ErrAttributeNotLong              = 0x0B
	ErrInsufficientEncryptionKeySize = 0x0C
	ErrInvalidAttributeValueLength   = 0x0D
	ErrUnlikelyError                 = 0x0E
	ErrInsufficientEncryption        = 0x0F
	ErrUnsupportedGroupType          = 0x10
	ErrInsufficientResources         = 0x11

	// Application Error codes (0x80 - 0x9F)
	ErrApplicationErrorStart = 0x80
	ErrApplicationErrorEnd   = 0x9F

	// Common Profile and Service Error Codes (0xE0 - 0xFF)
	ErrCommonErrorStart = 0xE0
	ErrCommonErrorEnd   = 0xFF

	ErrWriteRequestRejected       = 0xFC
	ErrCCCDImproperlyConfigured   = 0xFD
	ErrProcedureAlreadyInProgress = 0xFE
	ErrOutOfRange                 = 0xFF
)

// ErrorNames maps error codes to human-readable names
var ErrorNames = map[uint8]string{
	ErrSuccess:                       "Success",
	ErrInvalidHandle:                 "Invalid Handle",
	ErrReadNotPermitted:              "Read Not Permitted",
	ErrWriteNotPermitted:             "Write Not Permitted",
	ErrInvalidPDU:                    "Invalid PDU",
	ErrInsufficientAuthentication:    "Insufficient Authentication",
	ErrRequestNotSupported:           "Request Not Supported",
	ErrInvalidOffset:                 "Invalid Offset",
	ErrInsufficientAuthorization:     "Insufficient Authorization",
	ErrPrepareQueueFull:              "Prepare Queue Full",
	ErrAttributeNotFound:             "Attribute Not Found",
	ErrAttributeNotLong:              "Attribute Not Long",
	ErrInsufficientEncryptionKeySize: "Insufficient Encryption Key Size",
	ErrInvalidAttributeValueLength:   "Invalid Attribute Value Length",
	ErrUnlikelyError:                 "Unlikely Error",
	ErrInsufficientEncryption:        "Insufficient Encryption",
	ErrUnsupportedGroupType:          "Unsupported Group Type",
	ErrInsufficientResources:         "Insufficient Resources",
	ErrWriteRequestRejected:          "Write Request Rejected",
	ErrCCCDImproperlyConfigured:      "CCCD Improperly Configured",
	ErrProcedureAlreadyInProgress:    "Procedure Already in Progress",
	ErrOutOfRange:                    "Out of Range",
}

// StatusName returns the human-readable name of an ATT status code.
func StatusName(code uint8) string {
	if name, ok := ErrorNames[code]; ok {
		return name
	}
	switch {
	case code >= ErrApplicationErrorStart && code <= ErrApplicationErrorEnd:
		return fmt.Sprintf("Application Error (0x%02X)", code)
	case code >= ErrCommonErrorStart && code <= ErrCommonErrorEnd:
		return fmt.Sprintf("Common Profile Error (0x%02X)", code)
	default:
		return fmt.Sprintf("Unknown Error (0x%02X)", code)
	}
}

// Error represents an ATT error returned for a request on a characteristic.
type Error struct {
	Code           uint8
	Characteristic string // characteristic UUID the request addressed
}

// Error implements the error interface
func (e *Error) Error() string {
	if e.Characteristic == "" {
		return fmt.Sprintf("ATT Error: %s", StatusName(e.Code))
	}
	return fmt.Sprintf("ATT Error: %s (characteristic %s)", StatusName(e.Code), e.Characteristic)
}

// Is reports whether target is an ATT error with the same code.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Code == t.Code
}

// NewError creates a new ATT error
func NewError(code uint8, characteristic string) *Error {
	return &Error{
		Code:           code,
		Characteristic: characteristic,
	}
}

// IsATTError checks if an error is an ATT error with a specific code
func IsATTError(err error, code uint8) bool {
	if attErr, ok := err.(*Error); ok {
		return attErr.Code == code
	}
	return false
}

// GetErrorCode returns the ATT error code from an error, or 0 if not an ATT error
func GetErrorCode(err error) uint8 {
	if attErr, ok := err.(*Error); ok {
		return attErr.Code
	}
	return 0
}
