package peripheral

import "github.com/user/peripheral-blue/wire/gatt"

// Delegate receives lifecycle and request notifications, in the shape of
// CBPeripheralManagerDelegate. Callbacks run on the peripheral event loop:
// a callback that wants to call back into the Peripheral must do so from
// another goroutine.
type Delegate interface {
	DidUpdateState(p *Peripheral, state State)
	// DidRegisterService receives nil on success or an error matching ErrRegistrationFailed.
	DidRegisterService(p *Peripheral, err error)
	// DidStartAdvertising receives nil on success or an error matching ErrAdvertisingFailed.
	DidStartAdvertising(p *Peripheral, err error)
	DidReceiveWrite(p *Peripheral, central Central, characteristic gatt.UUID, value []byte)
	CentralDidSubscribe(p *Peripheral, central Central, characteristic gatt.UUID)
	CentralDidUnsubscribe(p *Peripheral, central Central, characteristic gatt.UUID)
	DidConfirmIndication(p *Peripheral, central Central, characteristic gatt.UUID)
}

// NopDelegate ignores every callback. Embed it to implement only what you need.
type NopDelegate struct{}

func (NopDelegate) DidUpdateState(*Peripheral, State) {}
func (NopDelegate) DidRegisterService(*Peripheral, error) {}
func (NopDelegate) DidStartAdvertising(*Peripheral, error) {}
func (NopDelegate) DidReceiveWrite(*Peripheral, Central, gatt.UUID, []byte) {}
func (NopDelegate) CentralDidSubscribe(*Peripheral, Central, gatt.UUID) {}
func (NopDelegate) CentralDidUnsubscribe(*Peripheral, Central, gatt.UUID) {}
func (NopDelegate) DidConfirmIndication(*Peripheral, Central, gatt.UUID) {}
