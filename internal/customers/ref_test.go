package customers

import (
	"encoding/json"
	"testing"
)

func TestCustomerRefUnmarshalString(t *testing.T) {
	var ref CustomerRef
	if err := json.Unmarshal([]byte(`"cus_123"`), &ref); err != nil {
		t.Fatalf("unmarshal string: %v", err)
	}
	if ref.ID != "cus_123" {
		t.Fatalf("expected cus_123, got %q", ref.ID)
	}
}

func TestCustomerRefUnmarshalObject(t *testing.T) {
	var ref CustomerRef
	if err := json.Unmarshal([]byte(`{"id":" cus_456 ","livemode":false}`), &ref); err != nil {
		t.Fatalf("unmarshal object: %v", err)
	}
	if ref.ID != "cus_456" {
		t.Fatalf("expected cus_456, got %q", ref.ID)
	}
}

func TestCustomerRefUnmarshalNull(t *testing.T) {
	var ref CustomerRef
	if err := json.Unmarshal([]byte(`null`), &ref); err != nil {
		t.Fatalf("unmarshal null: %v", err)
	}
	if !ref.IsZero() {
		t.Fatalf("expected zero ref, got %q", ref.ID)
	}
}

func TestCustomerRefUnmarshalRejectsOtherShapes(t *testing.T) {
	var ref CustomerRef
	if err := json.Unmarshal([]byte(`42`), &ref); err == nil {
		t.Fatalf("expected error for numeric customer ref")
	}
}

func TestCustomerRefMarshalNormalizes(t *testing.T) {
	var ref CustomerRef
	if err := json.Unmarshal([]byte(`{"id":"cus_789"}`), &ref); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	out, err := json.Marshal(ref)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if string(out) != `"cus_789"` {
		t.Fatalf("expected bare string form, got %s", out)
	}
}
