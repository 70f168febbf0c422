package pricing

import (
	"errors"
	"math"
	"testing"

	"github.com/seenimoa/volsurf/pkg/models"
)

func atmCall() models.PricingInput {
	return models.PricingInput{
		Spot:         100,
		Strike:       100,
		TimeToExpiry: 1.0,
		Rate:         0.03,
		Type:         models.Call,
	}
}

func TestPriceAndGreeksATMCall(t *testing.T) {
	pg, err := PriceAndGreeks(atmCall(), 0.20)
	if err != nil {
		t.Fatalf("PriceAndGreeks error: %v", err)
	}

	// Closed-form reference: d1 = 0.25, d2 = 0.05.
	if math.Abs(pg.Price-9.4134) > 0.01 {
		t.Errorf("price: got %.4f, want 9.4134 ± 0.01", pg.Price)
	}
	if math.Abs(pg.Greeks.Delta-0.5987) > 1e-3 {
		t.Errorf("delta: got %.4f, want 0.5987", pg.Greeks.Delta)
	}
	if math.Abs(pg.Greeks.Vega-38.667) > 0.01 {
		t.Errorf("vega: got %.4f, want 38.667", pg.Greeks.Vega)
	}
	if pg.Greeks.Gamma <= 0 {
		t.Errorf("gamma: got %v, want > 0", pg.Greeks.Gamma)
	}
	if pg.Greeks.Theta >= 0 {
		t.Errorf("theta: got %v, want < 0 for a long call", pg.Greeks.Theta)
	}
	if !pg.Greeks.Finite() {
		t.Error("expected finite greeks")
	}
}

func TestPutCallParity(t *testing.T) {
	in := atmCall()
	call, err := PriceAndGreeks(in, 0.20)
	if err != nil {
		t.Fatalf("call: %v", err)
	}

	in.Type = models.Put
	put, err := PriceAndGreeks(in, 0.20)
	if err != nil {
		t.Fatalf("put: %v", err)
	}

	// C − P = S − K·e^(−rT)
	lhs := call.Price - put.Price
	rhs := in.Spot - in.Strike*math.Exp(-in.Rate*in.TimeToExpiry)
	if math.Abs(lhs-rhs) > 1e-9 {
		t.Errorf("parity violated: C−P = %.10f, S−Ke^(−rT) = %.10f", lhs, rhs)
	}
}

func TestPriceAndGreeksDeterministic(t *testing.T) {
	a, err := PriceAndGreeks(atmCall(), 0.20)
	if err != nil {
		t.Fatal(err)
	}
	b, err := PriceAndGreeks(atmCall(), 0.20)
	if err != nil {
		t.Fatal(err)
	}
	if a != b {
		t.Errorf("identical inputs gave different outputs: %+v vs %+v", a, b)
	}
}

func TestPriceAndGreeksInvalidInput(t *testing.T) {
	tests := []struct {
		name  string
		in    models.PricingInput
		vol   float64
		field string
	}{
		{"zero spot", models.PricingInput{Spot: 0, Strike: 100, TimeToExpiry: 1, Type: models.Call}, 0.2, "spot"},
		{"negative strike", models.PricingInput{Spot: 100, Strike: -5, TimeToExpiry: 1, Type: models.Call}, 0.2, "strike"},
		{"expired", models.PricingInput{Spot: 100, Strike: 100, TimeToExpiry: 0, Type: models.Call}, 0.2, "time_to_expiry"},
		{"nan rate", models.PricingInput{Spot: 100, Strike: 100, TimeToExpiry: 1, Rate: math.NaN(), Type: models.Call}, 0.2, "rate"},
		{"zero vol", models.PricingInput{Spot: 100, Strike: 100, TimeToExpiry: 1, Type: models.Call}, 0, "volatility"},
		{"bad type", models.PricingInput{Spot: 100, Strike: 100, TimeToExpiry: 1, Type: "straddle"}, 0.2, "type"},
	}

	for _, tt := range tests {
		_, err := PriceAndGreeks(tt.in, tt.vol)
		var inv *InvalidInputError
		if !errors.As(err, &inv) {
			t.Errorf("%s: expected InvalidInputError, got %v", tt.name, err)
			continue
		}
		if inv.Field != tt.field {
			t.Errorf("%s: field %q, want %q", tt.name, inv.Field, tt.field)
		}
	}
}

func TestPriceAndGreeksExtremeInputs(t *testing.T) {
	// Deep ITM near expiry: probabilities saturate instead of going NaN.
	in := models.PricingInput{
		Spot:         200,
		Strike:       100,
		TimeToExpiry: 1e-6,
		Rate:         0.03,
		Type:         models.Call,
	}
	pg, err := PriceAndGreeks(in, 0.20)
	if err != nil {
		t.Fatalf("deep ITM near expiry: %v", err)
	}
	if math.Abs(pg.Price-100) > 0.01 {
		t.Errorf("deep ITM price: got %.4f, want ≈100", pg.Price)
	}
	if math.Abs(pg.Greeks.Delta-1) > 1e-6 {
		t.Errorf("deep ITM delta: got %v, want ≈1", pg.Greeks.Delta)
	}

	// Deep OTM: price saturates at zero, never negative.
	in.Strike = 100000
	pg, err = PriceAndGreeks(in, 0.20)
	if err != nil {
		t.Fatalf("deep OTM near expiry: %v", err)
	}
	if pg.Price < 0 {
		t.Errorf("deep OTM price: got %v, want ≥ 0", pg.Price)
	}
	if !pg.Greeks.Finite() {
		t.Error("deep OTM greeks should be finite")
	}
}

func TestIntrinsic(t *testing.T) {
	call := models.PricingInput{Spot: 100, Strike: 90, TimeToExpiry: 1, Rate: 0.03, Type: models.Call}
	want := 100 - 90*math.Exp(-0.03)
	if got := Intrinsic(call); math.Abs(got-want) > 1e-9 {
		t.Errorf("call intrinsic: got %v, want %v", got, want)
	}

	put := call
	put.Type = models.Put
	if got := Intrinsic(put); got != 0 {
		t.Errorf("OTM put intrinsic: got %v, want 0", got)
	}
}
