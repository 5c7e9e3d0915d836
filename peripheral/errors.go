package peripheral

import "fmt"

// Kind classifies peripheral failures.
type Kind int

const (
	KindRegistrationFailed Kind = iota + 1
	KindAdvertisingFailed
	KindAttributeNotFound
	KindReadNotPermitted
	KindWriteNotPermitted
	KindNotRegistered
	KindTransportBusy
	KindPoweredOff
	KindNotNotifiable
	KindClosed
)

func (k Kind) String() string {
	switch k {
	case KindRegistrationFailed:
		return "registration failed"
	case KindAdvertisingFailed:
		return "advertising failed"
	case KindAttributeNotFound:
		return "attribute not found"
	case KindReadNotPermitted:
		return "read not permitted"
	case KindWriteNotPermitted:
		return "write not permitted"
	case KindNotRegistered:
		return "service not registered"
	case KindTransportBusy:
		return "transport busy"
	case KindPoweredOff:
		return "powered off"
	case KindNotNotifiable:
		return "characteristic does not support notify or indicate"
	case KindClosed:
		return "peripheral closed"
	}
	return fmt.Sprintf("unknown error kind %d", int(k))
}

// Error is returned by the peripheral API and passed to delegate callbacks.
// errors.Is matches on Kind, so callers compare against the Err* sentinels.
type Error struct {
	Kind Kind
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Kind, e.Err)
	}
	return e.Kind.String()
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is allows errors.Is to match on the kind alone.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Kind == t.Kind
}

var (
	ErrRegistrationFailed = &Error{Kind: KindRegistrationFailed}
	ErrAdvertisingFailed  = &Error{Kind: KindAdvertisingFailed}
	ErrAttributeNotFound  = &Error{Kind: KindAttributeNotFound}
	ErrReadNotPermitted   = &Error{Kind: KindReadNotPermitted}
	ErrWriteNotPermitted  = &Error{Kind: KindWriteNotPermitted}
	ErrNotRegistered      = &Error{Kind: KindNotRegistered}
	ErrTransportBusy      = &Error{Kind: KindTransportBusy}
	ErrPoweredOff         = &Error{Kind: KindPoweredOff}
	ErrNotNotifiable      = &Error{Kind: KindNotNotifiable}
	ErrClosed             = &Error{Kind: KindClosed}
)

func newError(kind Kind, err error) *Error {
	return &Error{Kind: kind, Err: err}
}
