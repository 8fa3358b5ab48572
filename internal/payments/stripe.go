package payments

import (
	"context"
	"errors"
	"time"

	"github.com/stripe/stripe-go/v81"
	"github.com/stripe/stripe-go/v81/client"

	"github.com/auditoryx/booking-core/internal/circuitbreaker"
	"github.com/auditoryx/booking-core/internal/metrics"
	"github.com/auditoryx/booking-core/internal/retry"
)

// StripeGateway implements Gateway against the Stripe API.
//
// Every call runs under a bounded timeout with retries on transient
// failures. A per-operation circuit breaker sheds calls during a Stripe
// outage so request handlers fail fast instead of stacking up.
type StripeGateway struct {
	sc          *client.API
	timeout     time.Duration
	maxAttempts int
	breaker     *circuitbreaker.Breaker
}

// NewStripeGateway creates a gateway using the given secret key.
func NewStripeGateway(secretKey string, timeout time.Duration, maxAttempts int) *StripeGateway {
	sc := &client.API{}
	sc.Init(secretKey, nil)

	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	if maxAttempts <= 0 {
		maxAttempts = 3
	}

	return &StripeGateway{
		sc:          sc,
		timeout:     timeout,
		maxAttempts: maxAttempts,
		breaker:     circuitbreaker.New(5, 30*time.Second),
	}
}

func (g *StripeGateway) AuthorizeHold(ctx context.Context, req HoldRequest) (*Hold, error) {
	var hold *Hold
	err := g.call(ctx, "authorize", func(ctx context.Context) error {
		params := &stripe.PaymentIntentParams{
			Params:        stripe.Params{Context: ctx},
			Amount:        stripe.Int64(req.AmountMinor),
			Currency:      stripe.String(req.Currency),
			CaptureMethod: stripe.String(string(stripe.PaymentIntentCaptureMethodManual)),
		}
		if req.CustomerRef != "" {
			params.Customer = stripe.String(req.CustomerRef)
		}
		params.AddMetadata("booking_id", req.BookingID)

		pi, err := g.sc.PaymentIntents.New(params)
		if err != nil {
			return err
		}
		hold = &Hold{
			IntentID:    pi.ID,
			AmountMinor: pi.Amount,
			Status:      string(pi.Status),
		}
		return nil
	})
	return hold, err
}

func (g *StripeGateway) CaptureHold(ctx context.Context, intentID string) error {
	return g.call(ctx, "capture", func(ctx context.Context) error {
		params := &stripe.PaymentIntentCaptureParams{
			Params: stripe.Params{Context: ctx},
		}
		_, err := g.sc.PaymentIntents.Capture(intentID, params)
		return err
	})
}

func (g *StripeGateway) TransferFunds(ctx context.Context, req TransferRequest) (*Transfer, error) {
	var tr *Transfer
	err := g.call(ctx, "transfer", func(ctx context.Context) error {
		params := &stripe.TransferParams{
			Params:      stripe.Params{Context: ctx},
			Amount:      stripe.Int64(req.AmountMinor),
			Currency:    stripe.String(req.Currency),
			Destination: stripe.String(req.Destination),
		}
		params.AddMetadata("booking_id", req.BookingID)

		st, err := g.sc.Transfers.New(params)
		if err != nil {
			return err
		}
		tr = &Transfer{
			TransferID:  st.ID,
			AmountMinor: st.Amount,
			Destination: req.Destination,
		}
		return nil
	})
	return tr, err
}

func (g *StripeGateway) RefundHold(ctx context.Context, req RefundRequest) (*Refund, error) {
	var rf *Refund
	err := g.call(ctx, "refund", func(ctx context.Context) error {
		params := &stripe.RefundParams{
			Params:        stripe.Params{Context: ctx},
			PaymentIntent: stripe.String(req.IntentID),
		}
		params.AddMetadata("booking_id", req.BookingID)

		sr, err := g.sc.Refunds.New(params)
		if err != nil {
			return err
		}
		rf = &Refund{
			RefundID:    sr.ID,
			AmountMinor: sr.Amount,
		}
		return nil
	})
	return rf, err
}

// call wraps a Stripe operation with circuit breaking, timeout, retries,
// metrics, and error classification.
func (g *StripeGateway) call(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	if !g.breaker.Allow(op) {
		metrics.GatewayCallsTotal.WithLabelValues(op, "shed").Inc()
		return &GatewayError{Op: op, Reason: ReasonUnavailable, Err: errors.New("circuit open")}
	}

	err := retry.Do(ctx, g.maxAttempts, 200*time.Millisecond, func() error {
		callCtx, cancel := context.WithTimeout(ctx, g.timeout)
		defer cancel()

		err := fn(callCtx)
		if err == nil {
			return nil
		}
		if isPermanentStripeErr(err) {
			return retry.Permanent(err)
		}
		return err
	})

	if err != nil {
		g.breaker.RecordFailure(op)
		metrics.GatewayCallsTotal.WithLabelValues(op, "error").Inc()
		return &GatewayError{Op: op, Reason: classifyStripeErr(err), Err: err}
	}

	g.breaker.RecordSuccess(op)
	metrics.GatewayCallsTotal.WithLabelValues(op, "ok").Inc()
	return nil
}

// isPermanentStripeErr reports whether retrying cannot succeed.
func isPermanentStripeErr(err error) bool {
	var sErr *stripe.Error
	if !errors.As(err, &sErr) {
		return false
	}
	switch sErr.Type {
	case stripe.ErrorTypeCard, stripe.ErrorTypeInvalidRequest:
		return true
	}
	return false
}

// classifyStripeErr maps a processor error to a GatewayError reason.
func classifyStripeErr(err error) string {
	if errors.Is(err, context.DeadlineExceeded) {
		return ReasonTimeout
	}

	var sErr *stripe.Error
	if errors.As(err, &sErr) {
		switch sErr.Type {
		case stripe.ErrorTypeCard:
			return ReasonDeclined
		case stripe.ErrorTypeInvalidRequest:
			return ReasonInvalidDestination
		case stripe.ErrorTypeAPI:
			return ReasonUnavailable
		}
	}
	return ReasonUnknown
}

var _ Gateway = (*StripeGateway)(nil)
