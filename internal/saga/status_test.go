package saga

import "testing"

func TestCanTransition(t *testing.T) {
	cases := []struct {
		from, to Status
		want     bool
	}{
		{StatusStarted, StatusStockReserved, true},
		{StatusStarted, StatusFailed, true},
		{StatusStarted, StatusPaymentTaken, false},
		{StatusStockReserved, StatusPaymentTaken, true},
		{StatusStockReserved, StatusFailed, false},
		{StatusPaymentTaken, StatusOrderCreated, true},
		{StatusPaymentTaken, StatusCompensating, true},
		{StatusCompensating, StatusFailed, true},
		{StatusCompensating, StatusCancelled, true},
		{StatusCompensating, StatusStarted, false},
		{StatusOrderCreated, StatusCompensating, false},
		{StatusFailed, StatusCompensating, false},
		{StatusCancelled, StatusFailed, false},
		{Status("BOGUS"), StatusFailed, false},
	}
	for _, tc := range cases {
		if got := CanTransition(tc.from, tc.to); got != tc.want {
			t.Errorf("CanTransition(%s, %s) = %v, want %v", tc.from, tc.to, got, tc.want)
		}
	}
}

func TestIsTerminal(t *testing.T) {
	for _, s := range []Status{StatusOrderCreated, StatusFailed, StatusCancelled} {
		if !s.IsTerminal() {
			t.Errorf("%s should be terminal", s)
		}
	}
	for _, s := range []Status{StatusStarted, StatusStockReserved, StatusPaymentTaken, StatusCompensating} {
		if s.IsTerminal() {
			t.Errorf("%s should not be terminal", s)
		}
	}
}
