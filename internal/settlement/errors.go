package settlement

import (
	xerrors "intent-settlement/internal/errors"
)

const (
	CodeInvalidSignature     xerrors.Code = "INVALID_SIGNATURE"
	CodeIntentExpired        xerrors.Code = "INTENT_EXPIRED"
	CodeIntentAlreadyFilled  xerrors.Code = "INTENT_ALREADY_FILLED"
	CodeIntentCancelled      xerrors.Code = "INTENT_CANCELLED"
	CodeInsufficientOutput   xerrors.Code = "INSUFFICIENT_OUTPUT"
	CodeInvalidSolver        xerrors.Code = "INVALID_SOLVER"
	CodeSolverNotWhitelisted xerrors.Code = "SOLVER_NOT_WHITELISTED"
	CodeInsufficientStake    xerrors.Code = "INSUFFICIENT_STAKE"
	CodeBatchNotReady        xerrors.Code = "BATCH_NOT_READY"
	CodeInvalidBatch         xerrors.Code = "INVALID_BATCH"
	CodeInvalidNonce         xerrors.Code = "INVALID_NONCE"
	CodeInvalidIntent        xerrors.Code = "INVALID_INTENT"
	CodeInvalidParameter     xerrors.Code = "INVALID_PARAMETER"
	CodeTransferFailed       xerrors.Code = "TRANSFER_FAILED"
)

var (
	// ErrInvalidSignature means the signature does not recover to the maker.
	ErrInvalidSignature = xerrors.New(CodeInvalidSignature, "signature does not match maker")
	// ErrIntentExpired means the current time is past the intent deadline.
	ErrIntentExpired = xerrors.New(CodeIntentExpired, "intent expired")
	// ErrIntentAlreadyFilled means the intent was settled before.
	ErrIntentAlreadyFilled = xerrors.New(CodeIntentAlreadyFilled, "intent already filled")
	// ErrIntentCancelled means the maker cancelled the intent.
	ErrIntentCancelled = xerrors.New(CodeIntentCancelled, "intent cancelled")
	// ErrInsufficientOutput means the offered output is below the acceptable minimum.
	ErrInsufficientOutput = xerrors.New(CodeInsufficientOutput, "output below acceptable minimum")
	// ErrInvalidSolver means the solver is unknown or inactive.
	ErrInvalidSolver = xerrors.New(CodeInvalidSolver, "solver is not active")
	// ErrSolverNotWhitelisted is returned in permissioned mode.
	ErrSolverNotWhitelisted = xerrors.New(CodeSolverNotWhitelisted, "solver is not whitelisted")
	// ErrInsufficientStake means the stake is below the configured minimum.
	ErrInsufficientStake = xerrors.New(CodeInsufficientStake, "stake below minimum")
	// ErrBatchNotReady means the batch cannot move yet.
	ErrBatchNotReady = xerrors.New(CodeBatchNotReady, "batch not ready")
	// ErrInvalidBatch covers state, commitment and shape violations.
	ErrInvalidBatch = xerrors.New(CodeInvalidBatch, "invalid batch")
	// ErrUnauthorized means the caller may not perform the operation.
	ErrUnauthorized = xerrors.New(xerrors.CodeUnauthorized, "caller is not authorized")
	// ErrInvalidNonce means the intent nonce differs from the maker's counter.
	ErrInvalidNonce = xerrors.New(CodeInvalidNonce, "nonce mismatch")
	// ErrInvalidIntent covers malformed intents and bad auction parameters.
	ErrInvalidIntent = xerrors.New(CodeInvalidIntent, "invalid intent")
	// ErrInvalidParameter rejects out-of-range protocol parameters.
	ErrInvalidParameter = xerrors.New(CodeInvalidParameter, "invalid protocol parameter")
	// ErrTransferFailed means a transfer leg failed and applied legs were reverted.
	ErrTransferFailed = xerrors.New(CodeTransferFailed, "value transfer failed")
)

func init() {
	client := func(msg string) xerrors.Attributes {
		return xerrors.Attributes{Message: msg, Severity: xerrors.SeverityWarning}
	}
	xerrors.Register(CodeInvalidSignature, client("signature does not match maker"))
	xerrors.Register(CodeIntentExpired, client("intent expired"))
	xerrors.Register(CodeIntentAlreadyFilled, client("intent already filled"))
	xerrors.Register(CodeIntentCancelled, client("intent cancelled"))
	xerrors.Register(CodeInsufficientOutput, client("output below acceptable minimum"))
	xerrors.Register(CodeInvalidSolver, client("solver is not active"))
	xerrors.Register(CodeSolverNotWhitelisted, client("solver is not whitelisted"))
	xerrors.Register(CodeInsufficientStake, client("stake below minimum"))
	xerrors.Register(CodeInvalidBatch, client("invalid batch"))
	xerrors.Register(CodeInvalidNonce, client("nonce mismatch"))
	xerrors.Register(CodeInvalidIntent, client("invalid intent"))
	xerrors.Register(CodeInvalidParameter, client("invalid protocol parameter"))
	xerrors.Register(CodeBatchNotReady, xerrors.Attributes{
		Message:   "batch not ready",
		Severity:  xerrors.SeverityInfo,
		Retryable: true,
	})
	xerrors.Register(CodeTransferFailed, xerrors.Attributes{
		Message:   "value transfer failed",
		Severity:  xerrors.SeverityError,
		Retryable: true,
		Alert:     true,
	})
}
