package x402

import "testing"

func TestNetworkParse(t *testing.T) {
	tests := []struct {
		network   Network
		namespace string
		reference string
		wantErr   bool
	}{
		{"eip155:8453", "eip155", "8453", false},
		{"eip155:*", "eip155", "*", false},
		{"solana:mainnet", "solana", "mainnet", false},
		{"base", "", "", true},
		{"eip155:8453:extra", "", "", true},
	}

	for _, tt := range tests {
		namespace, reference, err := tt.network.Parse()
		if tt.wantErr {
			if err == nil {
				t.Errorf("Parse(%q): expected error", tt.network)
			}
			continue
		}
		if err != nil {
			t.Errorf("Parse(%q): unexpected error %v", tt.network, err)
			continue
		}
		if namespace != tt.namespace || reference != tt.reference {
			t.Errorf("Parse(%q) = (%q, %q), want (%q, %q)",
				tt.network, namespace, reference, tt.namespace, tt.reference)
		}
	}
}

func TestNetworkMatch(t *testing.T) {
	tests := []struct {
		network Network
		pattern Network
		want    bool
	}{
		{"eip155:8453", "eip155:8453", true},
		{"eip155:8453", "eip155:*", true},
		{"eip155:*", "eip155:8453", true},
		{"eip155:8453", "eip155:84532", false},
		{"eip155:8453", "solana:*", false},
		{"solana:mainnet", "eip155:*", false},
	}

	for _, tt := range tests {
		if got := tt.network.Match(tt.pattern); got != tt.want {
			t.Errorf("%q.Match(%q) = %v, want %v", tt.network, tt.pattern, got, tt.want)
		}
	}
}

func TestPaymentPayloadIdentifiers(t *testing.T) {
	t.Run("v1 uses top-level scheme and network", func(t *testing.T) {
		p := PaymentPayload{
			X402Version: 1,
			Scheme:      "exact",
			Network:     "eip155:84532",
		}
		if p.SchemeID() != "exact" {
			t.Errorf("SchemeID = %q", p.SchemeID())
		}
		if p.NetworkID() != "eip155:84532" {
			t.Errorf("NetworkID = %q", p.NetworkID())
		}
	})

	t.Run("v2 uses accepted requirement", func(t *testing.T) {
		p := PaymentPayload{
			X402Version: 2,
			Accepted: PaymentRequirements{
				Scheme:  "exact",
				Network: "eip155:8453",
			},
		}
		if p.SchemeID() != "exact" {
			t.Errorf("SchemeID = %q", p.SchemeID())
		}
		if p.NetworkID() != "eip155:8453" {
			t.Errorf("NetworkID = %q", p.NetworkID())
		}
	})
}

func TestRequiredAmount(t *testing.T) {
	r := PaymentRequirements{Amount: "10000"}
	if r.RequiredAmount() != "10000" {
		t.Errorf("RequiredAmount = %q", r.RequiredAmount())
	}

	legacy := PaymentRequirements{MaxAmountRequired: "5000"}
	if legacy.RequiredAmount() != "5000" {
		t.Errorf("RequiredAmount = %q", legacy.RequiredAmount())
	}

	both := PaymentRequirements{Amount: "10000", MaxAmountRequired: "5000"}
	if both.RequiredAmount() != "10000" {
		t.Errorf("v2 amount should win, got %q", both.RequiredAmount())
	}
}

func baseRequirements() PaymentRequirements {
	return PaymentRequirements{
		Scheme:            "exact",
		Network:           "eip155:8453",
		Asset:             "0x833589fCD6eDb6E08f4c7C32D4f71b54bdA02913",
		Amount:            "10000",
		PayTo:             "0x1111111111111111111111111111111111111111",
		MaxTimeoutSeconds: 300,
	}
}

func TestDeepEqual(t *testing.T) {
	t.Run("identical requirements are equal", func(t *testing.T) {
		if !DeepEqual(baseRequirements(), baseRequirements()) {
			t.Error("expected identical requirements to be equal")
		}
	})

	t.Run("single field difference is rejected", func(t *testing.T) {
		tampered := baseRequirements()
		tampered.Amount = "9999"
		if DeepEqual(baseRequirements(), tampered) {
			t.Error("lowered amount must not compare equal")
		}

		tampered = baseRequirements()
		tampered.PayTo = "0x2222222222222222222222222222222222222222"
		if DeepEqual(baseRequirements(), tampered) {
			t.Error("changed payTo must not compare equal")
		}
	})

	t.Run("extra map differences are detected", func(t *testing.T) {
		a := baseRequirements()
		b := baseRequirements()
		b.Extra = map[string]interface{}{"name": "USDC"}
		if DeepEqual(a, b) {
			t.Error("added extra field must not compare equal")
		}
	})
}

func TestAcceptedMatchesOffer(t *testing.T) {
	offered := []PaymentRequirements{baseRequirements()}

	if !AcceptedMatchesOffer(baseRequirements(), offered) {
		t.Error("expected verbatim accepted requirement to match")
	}

	downgraded := baseRequirements()
	downgraded.Amount = "1"
	if AcceptedMatchesOffer(downgraded, offered) {
		t.Error("downgraded amount must not match any offer")
	}

	if AcceptedMatchesOffer(baseRequirements(), nil) {
		t.Error("empty offer list matches nothing")
	}
}
