package relay

import (
	"context"
	"fmt"
	"math"
	"strings"
	"time"

	"gasless-agent/internal/account"
	xerrors "gasless-agent/internal/errors"

	"github.com/google/uuid"
)

// ActionRequest is a single sponsored swap to be submitted on behalf of the
// smart account. Requests are built once per acting cycle and never mutated.
type ActionRequest struct {
	ID      uuid.UUID
	From    string
	To      string
	Amount  float64
	Account account.Handle
}

// NewActionRequest assigns a fresh identifier to the given swap.
func NewActionRequest(from, to string, amount float64, handle account.Handle) ActionRequest {
	return ActionRequest{
		ID:      uuid.New(),
		From:    strings.TrimSpace(from),
		To:      strings.TrimSpace(to),
		Amount:  amount,
		Account: handle,
	}
}

// Validate checks the request before anything is sent.
func (r ActionRequest) Validate() error {
	if !r.Account.Valid() {
		return xerrors.New(xerrors.CodeDispatchFailure, "action request carries no usable account")
	}
	if math.IsNaN(r.Amount) || math.IsInf(r.Amount, 0) || r.Amount <= 0 {
		return xerrors.New(xerrors.CodeDispatchFailure, fmt.Sprintf("invalid swap amount %v", r.Amount))
	}
	if r.From == "" || r.To == "" {
		return xerrors.New(xerrors.CodeDispatchFailure, "swap assets must not be empty")
	}
	return nil
}

// String renders the request for logs.
func (r ActionRequest) String() string {
	return fmt.Sprintf("swap %v %s -> %s from %s", r.Amount, r.From, r.To, r.Account.Address.Hex())
}

// Receipt acknowledges that the relay accepted a request.
type Receipt struct {
	ID          string
	RequestID   uuid.UUID
	SubmittedAt time.Time
}

// Dispatcher submits a request for sponsored execution. Callers invoke Submit
// at most once per request; implementations must not retry internally once
// the request may have reached the relay.
type Dispatcher interface {
	Submit(ctx context.Context, req ActionRequest) (Receipt, error)
}

// DispatcherFunc adapts a function to the Dispatcher interface.
type DispatcherFunc func(ctx context.Context, req ActionRequest) (Receipt, error)

// Submit implements Dispatcher.
func (f DispatcherFunc) Submit(ctx context.Context, req ActionRequest) (Receipt, error) {
	return f(ctx, req)
}
