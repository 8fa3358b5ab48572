package payments

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
)

// FakeGateway is an in-memory Gateway for demo mode and tests. It records
// every call and can be primed to fail specific operations.
type FakeGateway struct {
	mu      sync.Mutex
	seq     atomic.Int64
	failOps map[string]string // op -> reason

	Holds     []HoldRequest
	Captures  []string
	Transfers []TransferRequest
	Refunds   []RefundRequest
}

// NewFakeGateway creates a fake gateway that succeeds on every call.
func NewFakeGateway() *FakeGateway {
	return &FakeGateway{failOps: make(map[string]string)}
}

// FailNext makes the named operation fail with the given reason until cleared.
func (f *FakeGateway) FailNext(op, reason string) {
	f.mu.Lock()
	f.failOps[op] = reason
	f.mu.Unlock()
}

// Succeed clears a primed failure.
func (f *FakeGateway) Succeed(op string) {
	f.mu.Lock()
	delete(f.failOps, op)
	f.mu.Unlock()
}

func (f *FakeGateway) failure(op string) error {
	f.mu.Lock()
	reason, ok := f.failOps[op]
	f.mu.Unlock()
	if !ok {
		return nil
	}
	return &GatewayError{Op: op, Reason: reason, Err: errors.New("simulated gateway failure")}
}

func (f *FakeGateway) AuthorizeHold(ctx context.Context, req HoldRequest) (*Hold, error) {
	if err := f.failure("authorize"); err != nil {
		return nil, err
	}
	f.mu.Lock()
	f.Holds = append(f.Holds, req)
	f.mu.Unlock()
	return &Hold{
		IntentID:    fmt.Sprintf("pi_fake_%d", f.seq.Add(1)),
		AmountMinor: req.AmountMinor,
		Status:      "requires_capture",
	}, nil
}

func (f *FakeGateway) CaptureHold(ctx context.Context, intentID string) error {
	if err := f.failure("capture"); err != nil {
		return err
	}
	f.mu.Lock()
	f.Captures = append(f.Captures, intentID)
	f.mu.Unlock()
	return nil
}

func (f *FakeGateway) TransferFunds(ctx context.Context, req TransferRequest) (*Transfer, error) {
	if err := f.failure("transfer"); err != nil {
		return nil, err
	}
	f.mu.Lock()
	f.Transfers = append(f.Transfers, req)
	f.mu.Unlock()
	return &Transfer{
		TransferID:  fmt.Sprintf("tr_fake_%d", f.seq.Add(1)),
		AmountMinor: req.AmountMinor,
		Destination: req.Destination,
	}, nil
}

func (f *FakeGateway) RefundHold(ctx context.Context, req RefundRequest) (*Refund, error) {
	if err := f.failure("refund"); err != nil {
		return nil, err
	}
	f.mu.Lock()
	f.Refunds = append(f.Refunds, req)
	f.mu.Unlock()
	return &Refund{
		RefundID: fmt.Sprintf("re_fake_%d", f.seq.Add(1)),
	}, nil
}

// TransferCount returns the number of transfer calls recorded.
func (f *FakeGateway) TransferCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.Transfers)
}

var _ Gateway = (*FakeGateway)(nil)
