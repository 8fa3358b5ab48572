// Package payments adapts the payment gateway (Stripe) behind a narrow
// interface so the booking lifecycle can be tested without network calls.
//
// The gateway model is escrow-style: funds are authorized with manual
// capture at checkout, held at the processor, and later either
// transferred to the provider's connected account or refunded to the
// client. No money is moved by the lifecycle controller directly.
package payments

import (
	"context"
	"errors"
	"fmt"
)

// Machine-readable failure reasons carried by GatewayError.
const (
	ReasonTimeout            = "timeout"
	ReasonDeclined           = "declined"
	ReasonInvalidDestination = "invalid_destination"
	ReasonUnavailable        = "unavailable"
	ReasonUnknown            = "unknown"
)

// GatewayError wraps a processor failure with a machine-readable reason.
// The raw processor error is preserved for diagnostics but must never be
// shown verbatim to end users.
type GatewayError struct {
	Op     string // "authorize", "capture", "transfer", "refund"
	Reason string
	Err    error
}

func (e *GatewayError) Error() string {
	return fmt.Sprintf("gateway %s failed (%s): %v", e.Op, e.Reason, e.Err)
}

func (e *GatewayError) Unwrap() error {
	return e.Err
}

// IsGatewayError reports whether err is a gateway failure and returns it.
func IsGatewayError(err error) (*GatewayError, bool) {
	var ge *GatewayError
	ok := errors.As(err, &ge)
	return ge, ok
}

// HoldRequest asks the processor to authorize funds without capturing.
type HoldRequest struct {
	AmountMinor int64  // minor currency units, e.g. cents
	Currency    string // ISO 4217, lowercase
	CustomerRef string // processor-side customer, optional
	BookingID   string // carried in processor metadata for webhook correlation
}

// Hold is the processor's record of authorized-but-uncaptured funds.
type Hold struct {
	IntentID    string // processor payment intent ID
	AmountMinor int64
	Status      string // processor-side status, informational
}

// TransferRequest moves captured funds to a connected account.
type TransferRequest struct {
	AmountMinor int64
	Currency    string
	Destination string // connected account, e.g. acct_1...
	BookingID   string
}

// Transfer is the processor's record of a completed transfer.
type Transfer struct {
	TransferID  string
	AmountMinor int64
	Destination string
}

// RefundRequest returns held or captured funds to the client.
type RefundRequest struct {
	IntentID  string
	BookingID string
}

// Refund is the processor's record of a completed refund.
type Refund struct {
	RefundID    string
	AmountMinor int64
}

// Gateway is the escrow-capable payment processor surface used by the
// booking lifecycle. Implementations must be safe for concurrent use.
type Gateway interface {
	// AuthorizeHold places a manual-capture authorization for the amount.
	AuthorizeHold(ctx context.Context, req HoldRequest) (*Hold, error)
	// CaptureHold captures a previously authorized intent.
	CaptureHold(ctx context.Context, intentID string) error
	// TransferFunds moves funds to the provider's connected account.
	TransferFunds(ctx context.Context, req TransferRequest) (*Transfer, error)
	// RefundHold refunds the intent back to the client.
	RefundHold(ctx context.Context, req RefundRequest) (*Refund, error)
}
