package customers

import (
	"encoding/json"
	"fmt"
	"strings"
)

// CustomerRef is a Stripe customer identifier that tolerates both wire shapes
// seen in practice: a bare string ("cus_123") or an object carrying an id
// field ({"id":"cus_123"}). It always marshals back to the bare string form.
type CustomerRef struct {
	ID string
}

type customerRefObject struct {
	ID string `json:"id"`
}

// UnmarshalJSON accepts either a JSON string or an object with an "id" key.
func (r *CustomerRef) UnmarshalJSON(data []byte) error {
	trimmed := strings.TrimSpace(string(data))
	if trimmed == "null" {
		r.ID = ""
		return nil
	}

	var asString string
	if err := json.Unmarshal(data, &asString); err == nil {
		r.ID = strings.TrimSpace(asString)
		return nil
	}

	var asObject customerRefObject
	if err := json.Unmarshal(data, &asObject); err == nil {
		r.ID = strings.TrimSpace(asObject.ID)
		return nil
	}

	return fmt.Errorf("customer ref must be a string or an object with an id field")
}

// MarshalJSON always emits the normalized bare-string form.
func (r CustomerRef) MarshalJSON() ([]byte, error) {
	return json.Marshal(r.ID)
}

// IsZero reports whether the ref carries no identifier.
func (r CustomerRef) IsZero() bool {
	return strings.TrimSpace(r.ID) == ""
}

func (r CustomerRef) String() string {
	return r.ID
}
