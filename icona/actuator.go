package icona

import "fmt"

// Actuator describes a door or output the device can trigger.
type Actuator struct {
	Name             string `json:"name"`
	ApartmentAddress string `json:"apt-address"`
	OutputIndex      string `json:"output-index"`
}

// String returns string representation of the actuator.
func (a Actuator) String() string {
	return fmt.Sprintf("%s (%s/%s)", a.Name, a.ApartmentAddress, a.OutputIndex)
}

// AuthStatus is the response code of an access request.
type AuthStatus int

// StatusOK is the response code of a successful authentication.
const StatusOK AuthStatus = 200

// IsAccepted reports whether the device accepted the token.
func (s AuthStatus) IsAccepted() bool { return s == StatusOK }

// Err returns nil for an accepted token, and an error wrapping ErrAuthenticationRejected otherwise.
func (s AuthStatus) Err() error {
	if s.IsAccepted() {
		return nil
	}

	return fmt.Errorf("%w: response code %d", ErrAuthenticationRejected, int(s))
}

// ActuationOutcome reports what the device said about an unlatch request.
type ActuationOutcome int

const (
	// ActuationUnacknowledged means the commands were sent but the device didn't confirm.
	// Many firmware versions never acknowledge, it is not a failure.
	ActuationUnacknowledged ActuationOutcome = iota
	// ActuationAcknowledged means the device answered the door sequence.
	ActuationAcknowledged
)

// String returns string representation of the outcome.
func (o ActuationOutcome) String() string {
	switch o {
	case ActuationAcknowledged:
		return "acknowledged"
	case ActuationUnacknowledged:
		return "unacknowledged"
	default:
		return "unknown"
	}
}
