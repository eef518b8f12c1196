package domain

// FlowState enumerates the authentication screens a device can be on. The
// controller owning this value is the single place flow transitions happen.
type FlowState string

const (
	FlowLanding          FlowState = "landing"
	FlowLoginForm        FlowState = "login_form"
	FlowRegisterForm     FlowState = "register_form"
	FlowAwaitingCallback FlowState = "awaiting_callback"
	FlowAuthenticated    FlowState = "authenticated"
)

// Valid reports whether the state is one of the enumerated flow states.
func (s FlowState) Valid() bool {
	switch s {
	case FlowLanding, FlowLoginForm, FlowRegisterForm, FlowAwaitingCallback, FlowAuthenticated:
		return true
	}
	return false
}
