package domain

import (
	"math/big"
	"testing"
)

func TestOrderStatus(t *testing.T) {
	tests := []struct {
		name        string
		fillability FillabilityStatus
		approval    ApprovalStatus
		want        OrderReadStatus
	}{
		{"fillable approved", FillabilityFillable, ApprovalApproved, OrderStatusActive},
		{"fillable unapproved", FillabilityFillable, ApprovalNoApproval, OrderStatusInactive},
		{"no balance", FillabilityNoBalance, ApprovalApproved, OrderStatusInactive},
		{"expired", FillabilityExpired, ApprovalApproved, OrderStatusExpired},
		{"filled", FillabilityFilled, ApprovalApproved, OrderStatusFilled},
		{"cancelled", FillabilityCancelled, ApprovalApproved, OrderStatusCancelled},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			o := Order{FillabilityStatus: tt.fillability, ApprovalStatus: tt.approval}
			if got := o.Status(); got != tt.want {
				t.Errorf("Status() = %s, want %s", got, tt.want)
			}
		})
	}
}

func TestFillabilityTerminal(t *testing.T) {
	for _, s := range []FillabilityStatus{FillabilityExpired, FillabilityFilled, FillabilityCancelled} {
		if !s.Terminal() {
			t.Errorf("%s should be terminal", s)
		}
	}
	for _, s := range []FillabilityStatus{FillabilityFillable, FillabilityNoBalance} {
		if s.Terminal() {
			t.Errorf("%s should not be terminal", s)
		}
	}
}

func TestOrderPublic(t *testing.T) {
	if !(Order{}).Public() {
		t.Error("empty taker should be public")
	}
	if !(Order{Taker: ZeroAddress}).Public() {
		t.Error("zero-address taker should be public")
	}
	if (Order{Taker: "0x2222222222222222222222222222222222222222"}).Public() {
		t.Error("named taker should be private")
	}
}

func TestTokenSetIDs(t *testing.T) {
	contract := "0x1111111111111111111111111111111111111111"

	if got := SingleTokenSetID(contract, big.NewInt(42)); got != "token:"+contract+":42" {
		t.Errorf("single = %s", got)
	}
	if got := ContractWideTokenSetID(contract); got != "contract:"+contract {
		t.Errorf("contract-wide = %s", got)
	}
	if got := TokenListSetID(contract, "0xroot"); got != "list:"+contract+":0xroot" {
		t.Errorf("list = %s", got)
	}
	if got := DynamicTokenSetID(contract, "0xcriteria"); got != "dynamic:"+contract+":0xcriteria" {
		t.Errorf("dynamic = %s", got)
	}
}
