package peripheral

import "fmt"

// State is the peripheral lifecycle state.
type State int

const (
	StatePoweredOff State = iota
	StatePoweredOn
	StateRegistering
	StateRegistered
	StateAdvertising
)

func (s State) String() string {
	switch s {
	case StatePoweredOff:
		return "PoweredOff"
	case StatePoweredOn:
		return "PoweredOn"
	case StateRegistering:
		return "Registering"
	case StateRegistered:
		return "Registered"
	case StateAdvertising:
		return "Advertising"
	}
	return fmt.Sprintf("State(%d)", int(s))
}

// IsRegistered reports whether the attribute table is live in this state.
func (s State) IsRegistered() bool {
	return s == StateRegistered || s == StateAdvertising
}

type inputKind int

const (
	inputPowerOn inputKind = iota
	inputPowerOff
	inputStart
	inputStop
	inputRegistered
	inputAdvertisingStarted
)

func (k inputKind) String() string {
	return [...]string{"power-on", "power-off", "start", "stop", "registered", "advertising-started"}[k]
}

type input struct {
	kind inputKind
	err  error
}

type actionKind int

const (
	actionRegister actionKind = iota
	actionAdvertise
	actionStopAdvertising
	actionRemoveServices
	actionMarkRegistered
	actionMarkUnregistered
	actionResetSubscriptions
	actionReportRegistration
	actionReportAdvertising
	actionDropStale
	// actionResume replays a Start recorded while powered off.
	actionResume
)

type action struct {
	kind actionKind
	err  error
}

// machine is the pure lifecycle state. step never performs I/O; the
// peripheral executes the returned actions in order.
type machine struct {
	state State
	// wantStart survives power cycles until Stop or a registration failure.
	wantStart bool
	// advertisePending is set between the advertise request and its confirmation.
	advertisePending bool
}

func (m machine) step(in input) (machine, []action) {
	switch in.kind {
	case inputPowerOn:
		if m.state != StatePoweredOff {
			return m, nil
		}
		m.state = StatePoweredOn
		if m.wantStart {
			return m, []action{{kind: actionResume}}
		}
		return m, nil

	case inputPowerOff:
		if m.state == StatePoweredOff {
			return m, nil
		}
		wasRegistered := m.state != StatePoweredOn
		m.state = StatePoweredOff
		m.advertisePending = false
		if wasRegistered {
			return m, []action{{kind: actionMarkUnregistered}, {kind: actionResetSubscriptions}}
		}
		return m, nil

	case inputStart:
		m.wantStart = true
		switch m.state {
		case StatePoweredOn:
			m.state = StateRegistering
			return m, []action{{kind: actionRegister}}
		case StateRegistered:
			if !m.advertisePending {
				// Retry after an earlier advertising failure.
				m.advertisePending = true
				return m, []action{{kind: actionAdvertise}}
			}
		}
		return m, nil

	case inputStop:
		m.wantStart = false
		var actions []action
		switch m.state {
		case StatePoweredOff, StatePoweredOn:
			return m, nil
		case StateAdvertising:
			actions = append(actions, action{kind: actionStopAdvertising})
		case StateRegistered:
			if m.advertisePending {
				actions = append(actions, action{kind: actionStopAdvertising})
			}
		}
		actions = append(actions,
			action{kind: actionRemoveServices},
			action{kind: actionMarkUnregistered},
			action{kind: actionResetSubscriptions},
		)
		m.state = StatePoweredOn
		m.advertisePending = false
		return m, actions

	case inputRegistered:
		if m.state != StateRegistering {
			return m, []action{{kind: actionDropStale}}
		}
		if in.err != nil {
			m.state = StatePoweredOn
			m.wantStart = false
			return m, []action{{kind: actionReportRegistration, err: in.err}}
		}
		m.state = StateRegistered
		m.advertisePending = true
		return m, []action{
			{kind: actionMarkRegistered},
			{kind: actionReportRegistration},
			{kind: actionAdvertise},
		}

	case inputAdvertisingStarted:
		if m.state != StateRegistered || !m.advertisePending {
			return m, []action{{kind: actionDropStale}}
		}
		m.advertisePending = false
		if in.err != nil {
			return m, []action{{kind: actionReportAdvertising, err: in.err}}
		}
		m.state = StateAdvertising
		return m, []action{{kind: actionReportAdvertising}}
	}

	return m, nil
}
