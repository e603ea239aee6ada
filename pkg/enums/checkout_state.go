package enums

import "fmt"

// CheckoutState is the position of a checkout session in its lifecycle.
type CheckoutState string

const (
	CheckoutStateStarted          CheckoutState = "started"
	CheckoutStateCustomerResolved CheckoutState = "customer_resolved"
	CheckoutStateCleanupDone      CheckoutState = "cleanup_done"
	CheckoutStateAwaitingCard     CheckoutState = "awaiting_card"
	CheckoutStateCardConfirmed    CheckoutState = "card_confirmed"
	CheckoutStateSucceeded        CheckoutState = "succeeded"
	CheckoutStateFailed           CheckoutState = "failed"
)

var validCheckoutStates = []CheckoutState{
	CheckoutStateStarted,
	CheckoutStateCustomerResolved,
	CheckoutStateCleanupDone,
	CheckoutStateAwaitingCard,
	CheckoutStateCardConfirmed,
	CheckoutStateSucceeded,
	CheckoutStateFailed,
}

// String implements fmt.Stringer.
func (c CheckoutState) String() string {
	return string(c)
}

// IsValid reports whether the value is known.
func (c CheckoutState) IsValid() bool {
	for _, candidate := range validCheckoutStates {
		if candidate == c {
			return true
		}
	}
	return false
}

// IsTerminal reports whether no further transitions are allowed.
func (c CheckoutState) IsTerminal() bool {
	return c == CheckoutStateSucceeded || c == CheckoutStateFailed
}

// ParseCheckoutState converts raw input into a CheckoutState.
func ParseCheckoutState(value string) (CheckoutState, error) {
	for _, candidate := range validCheckoutStates {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid checkout state %q", value)
}
