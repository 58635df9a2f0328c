package custody

import (
	"context"
	"errors"
	"fmt"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/octopus-network/omnity-interoperability-sub003/common"
	"github.com/octopus-network/omnity-interoperability-sub003/guard"
)

// validation
var (
	ErrAmountTooLow     = errors.New("amount too low")
	ErrInvalidAddress   = errors.New("invalid address")
	ErrUnknownToken     = errors.New("unknown token")
	ErrUnknownChain     = errors.New("unknown chain")
	ErrInvalidAmount    = common.ErrInvalidAmount
	ErrInvalidTxId      = errors.New("invalid tx id")
	ErrInvalidDirective = errors.New("invalid directive")
	ErrChainDeactivated = errors.New("chain deactivated")
	ErrNoNewUtxos       = errors.New("no new utxos")
)

// conflict
var (
	ErrAlreadyProcessing      = errors.New("already processing")
	ErrTemporarilyUnavailable = errors.New("temporarily unavailable")
	ErrAlreadySubmitted       = errors.New("already submitted")
)

// ledger
var (
	ErrUtxoNotFound           = errors.New("utxo not found")
	ErrMismatchWithPendingReq = errors.New("mismatch with pending request")
	ErrRequestNotFound        = errors.New("request not found")
)

var ErrTaskPanicked = errors.New("task panicked")

type Reason string

const (
	QueueFull      Reason = "queue_full"
	OutOfResources Reason = "out_of_resources"
	Rejected       Reason = "rejected"
	AppError       Reason = "app_error"
)

// CallError is a failed call to the hub, the chain relay or the signing
// service. Every CallError is temporarily unavailable to the caller.
type CallError struct {
	Method string
	Reason Reason
	Err    error
}

func (e *CallError) Error() string {
	return fmt.Sprintf("call %s failed (%s): %v", e.Method, e.Reason, e.Err)
}

func (e *CallError) Unwrap() error {
	return e.Err
}

func (e *CallError) Is(target error) bool {
	return target == ErrTemporarilyUnavailable
}

// wrapCall classifies err from a collaborator. Errors that already carry a
// custody meaning, and nil, pass through.
func wrapCall(method string, err error) error {
	if err == nil {
		return nil
	}
	var ce *CallError
	if errors.As(err, &ce) {
		return err
	}
	return &CallError{Method: method, Reason: reasonOf(err), Err: err}
}

func reasonOf(err error) Reason {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return OutOfResources
	}
	s, ok := status.FromError(err)
	if !ok {
		return AppError
	}
	switch s.Code() {
	case codes.ResourceExhausted:
		return QueueFull
	case codes.Unavailable, codes.DeadlineExceeded, codes.Canceled, codes.Aborted:
		return OutOfResources
	case codes.PermissionDenied, codes.Unauthenticated, codes.InvalidArgument,
		codes.FailedPrecondition, codes.NotFound, codes.Unimplemented, codes.OutOfRange:
		return Rejected
	default:
		return AppError
	}
}

// IsRetryable reports errors a caller may retry later unchanged.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrTemporarilyUnavailable) ||
		errors.Is(err, ErrAlreadyProcessing) ||
		errors.Is(err, guard.ErrAlreadyInProgress)
}

// IsValidation reports errors that can never succeed on retry.
func IsValidation(err error) bool {
	for _, target := range []error{
		ErrAmountTooLow, ErrInvalidAddress, ErrUnknownToken, ErrUnknownChain,
		ErrInvalidAmount, ErrInvalidTxId, ErrInvalidDirective, ErrMismatchWithPendingReq,
	} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}
