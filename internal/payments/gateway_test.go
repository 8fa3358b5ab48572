package payments

import (
	"context"
	"errors"
	"testing"
)

func TestGatewayError_Unwrap(t *testing.T) {
	inner := errors.New("connection reset")
	ge := &GatewayError{Op: "transfer", Reason: ReasonUnavailable, Err: inner}

	if !errors.Is(ge, inner) {
		t.Error("expected GatewayError to unwrap to inner error")
	}

	got, ok := IsGatewayError(ge)
	if !ok || got.Reason != ReasonUnavailable {
		t.Errorf("IsGatewayError = %v, %v", got, ok)
	}

	if _, ok := IsGatewayError(inner); ok {
		t.Error("plain error should not be a GatewayError")
	}
}

func TestFakeGateway_RecordsCalls(t *testing.T) {
	fake := NewFakeGateway()
	ctx := context.Background()

	hold, err := fake.AuthorizeHold(ctx, HoldRequest{AmountMinor: 10000, Currency: "usd", BookingID: "bk_1"})
	if err != nil {
		t.Fatalf("AuthorizeHold failed: %v", err)
	}
	if hold.IntentID == "" || hold.AmountMinor != 10000 {
		t.Errorf("unexpected hold: %+v", hold)
	}

	tr, err := fake.TransferFunds(ctx, TransferRequest{AmountMinor: 10000, Currency: "usd", Destination: "acct_1", BookingID: "bk_1"})
	if err != nil {
		t.Fatalf("TransferFunds failed: %v", err)
	}
	if tr.Destination != "acct_1" {
		t.Errorf("expected destination acct_1, got %s", tr.Destination)
	}
	if fake.TransferCount() != 1 {
		t.Errorf("expected 1 transfer, got %d", fake.TransferCount())
	}
}

func TestFakeGateway_PrimedFailure(t *testing.T) {
	fake := NewFakeGateway()
	fake.FailNext("transfer", ReasonInvalidDestination)

	_, err := fake.TransferFunds(context.Background(), TransferRequest{AmountMinor: 100, Currency: "usd", Destination: "acct_bad"})
	ge, ok := IsGatewayError(err)
	if !ok {
		t.Fatalf("expected GatewayError, got %v", err)
	}
	if ge.Reason != ReasonInvalidDestination {
		t.Errorf("expected invalid_destination, got %s", ge.Reason)
	}
	if fake.TransferCount() != 0 {
		t.Error("failed transfer must not be recorded")
	}

	fake.Succeed("transfer")
	if _, err := fake.TransferFunds(context.Background(), TransferRequest{AmountMinor: 100, Currency: "usd", Destination: "acct_1"}); err != nil {
		t.Errorf("expected success after Succeed, got %v", err)
	}
}
