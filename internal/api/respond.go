package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/go-chi/chi/v5"

	"intent-settlement/internal/auth"
	xerrors "intent-settlement/internal/errors"
	"intent-settlement/internal/intent"
	"intent-settlement/internal/ledger"
	"intent-settlement/internal/settlement"
)

const maxBodyBytes = 1 << 20

// ErrorBody is the JSON shape of every error response.
type ErrorBody struct {
	Code      xerrors.Code      `json:"code"`
	Message   string            `json:"message"`
	Detail    string            `json:"detail,omitempty"`
	Retryable bool              `json:"retryable"`
	Metadata  map[string]string `json:"metadata,omitempty"`
}

var statusByCode = map[xerrors.Code]int{
	xerrors.CodeInvalidArgument:       http.StatusBadRequest,
	intent.CodeMalformed:              http.StatusBadRequest,
	settlement.CodeInvalidIntent:      http.StatusBadRequest,
	settlement.CodeInvalidParameter:   http.StatusBadRequest,
	settlement.CodeInvalidSignature:   http.StatusBadRequest,
	settlement.CodeInsufficientOutput: http.StatusBadRequest,
	settlement.CodeInvalidBatch:       http.StatusBadRequest,

	auth.CodeMissingToken: http.StatusUnauthorized,
	auth.CodeInvalidToken: http.StatusUnauthorized,
	auth.CodeInvalidLogin: http.StatusUnauthorized,

	xerrors.CodeUnauthorized:            http.StatusForbidden,
	settlement.CodeInvalidSolver:        http.StatusForbidden,
	settlement.CodeSolverNotWhitelisted: http.StatusForbidden,
	settlement.CodeInsufficientStake:    http.StatusForbidden,

	xerrors.CodeNotFound: http.StatusNotFound,

	xerrors.CodeConflict:               http.StatusConflict,
	settlement.CodeInvalidNonce:        http.StatusConflict,
	settlement.CodeIntentAlreadyFilled: http.StatusConflict,
	settlement.CodeIntentCancelled:     http.StatusConflict,
	settlement.CodeBatchNotReady:       http.StatusConflict,

	settlement.CodeIntentExpired: http.StatusGone,

	ledger.CodeInsufficientBalance: http.StatusUnprocessableEntity,

	settlement.CodeTransferFailed:     http.StatusBadGateway,
	xerrors.CodeStorageFailure:        http.StatusServiceUnavailable,
	xerrors.CodeInitializationFailure: http.StatusServiceUnavailable,
	xerrors.CodeTimeout:               http.StatusGatewayTimeout,
}

// StatusOf maps an error code to an HTTP status.
func StatusOf(err error) int {
	if status, ok := statusByCode[xerrors.CodeOf(err)]; ok {
		return status
	}
	return http.StatusInternalServerError
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := StatusOf(err)
	body := ErrorBody{Code: xerrors.CodeOf(err), Message: err.Error()}
	if e, ok := xerrors.From(err); ok {
		body.Message = e.Message()
		body.Retryable = e.Retryable()
		body.Metadata = e.Metadata()
		if cause := errors.Unwrap(e); cause != nil {
			body.Detail = cause.Error()
		}
	}
	if status >= http.StatusInternalServerError {
		s.logger.ErrorContext(r.Context(), "request failed",
			"method", r.Method,
			"path", r.URL.Path,
			"code", body.Code,
			"error", err,
		)
	}
	writeJSON(w, status, map[string]ErrorBody{"error": body})
}

func badRequest(format string, args ...any) error {
	return xerrors.New(xerrors.CodeInvalidArgument, fmt.Sprintf(format, args...))
}

func decodeBody(r *http.Request, v any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return xerrors.Wrap(xerrors.CodeInvalidArgument, err, "decode request body")
	}
	return nil
}

func addressParam(r *http.Request, name string) (common.Address, error) {
	raw := chi.URLParam(r, name)
	if !common.IsHexAddress(raw) {
		return common.Address{}, badRequest("%s %q is not an address", name, raw)
	}
	return common.HexToAddress(raw), nil
}

func hashParam(r *http.Request, name string) (common.Hash, error) {
	raw := strings.TrimPrefix(strings.TrimPrefix(chi.URLParam(r, name), "0x"), "0X")
	b, err := hexutil.Decode("0x" + raw)
	if err != nil || len(b) != common.HashLength {
		return common.Hash{}, badRequest("%s must be a 32-byte hex hash", name)
	}
	return common.BytesToHash(b), nil
}

func parseAmount(field, raw string) (*big.Int, error) {
	v, err := intent.ParseAmount(raw)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeInvalidArgument, err, field)
	}
	return v, nil
}

// caller is the authenticated address. Routes using it sit behind the auth
// middleware, so absence is a wiring fault.
func caller(r *http.Request) (common.Address, error) {
	addr, ok := auth.CallerFromContext(r.Context())
	if !ok {
		return common.Address{}, auth.ErrMissingToken
	}
	return addr, nil
}
