package money

import (
	"encoding/json"
	"testing"
)

func TestMul_ComputesExactSubtotal(t *testing.T) {
	unitPrice := FromFloat(10.0)
	if got := unitPrice.Mul(3); got != FromCents(3000) {
		t.Fatalf("expected 3000 cents, got %d", got.Cents())
	}
}

func TestString_FormatsTwoDecimalPlaces(t *testing.T) {
	cases := map[Money]string{
		FromCents(2000): "20.00",
		FromCents(5):    "0.05",
		FromCents(-150): "-1.50",
	}
	for m, want := range cases {
		if got := m.String(); got != want {
			t.Fatalf("String() = %q, want %q", got, want)
		}
	}
}

func TestMarshalJSON_EncodesAsDecimalString(t *testing.T) {
	out, err := json.Marshal(FromCents(2000))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if string(out) != `"20.00"` {
		t.Fatalf("got %s", out)
	}
}

func TestUnmarshalJSON_AcceptsDecimalStringAndBareFloat(t *testing.T) {
	var fromString Money
	if err := json.Unmarshal([]byte(`"20.00"`), &fromString); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if fromString != FromCents(2000) {
		t.Fatalf("expected 2000 cents, got %d", fromString.Cents())
	}

	var fromFloat Money
	if err := json.Unmarshal([]byte(`10.5`), &fromFloat); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if fromFloat != FromCents(1050) {
		t.Fatalf("expected 1050 cents, got %d", fromFloat.Cents())
	}
}
