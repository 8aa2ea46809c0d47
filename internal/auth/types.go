package auth

import (
	"time"

	"github.com/ethereum/go-ethereum/common"

	xerrors "intent-settlement/internal/errors"
)

const (
	CodeMissingToken xerrors.Code = "AUTH_MISSING_TOKEN"
	CodeInvalidToken xerrors.Code = "AUTH_INVALID_TOKEN"
	CodeInvalidLogin xerrors.Code = "AUTH_INVALID_LOGIN"
)

// Errors returned by the authentication subsystem.
var (
	ErrMissingToken = xerrors.New(CodeMissingToken, "missing bearer token")
	ErrInvalidToken = xerrors.New(CodeInvalidToken, "invalid token")
	ErrInvalidLogin = xerrors.New(CodeInvalidLogin, "login signature rejected")
	ErrLoginExpired = xerrors.New(CodeInvalidLogin, "login timestamp outside accepted window")
)

func init() {
	for code, msg := range map[xerrors.Code]string{
		CodeMissingToken: "missing bearer token",
		CodeInvalidToken: "invalid token",
		CodeInvalidLogin: "login rejected",
	} {
		xerrors.Register(code, xerrors.Attributes{Message: msg, Severity: xerrors.SeverityWarning})
	}
}

// Config controls token issuance.
type Config struct {
	Secret string
	Issuer string
	// TokenTTL bounds the lifetime of issued tokens.
	TokenTTL time.Duration
	// LoginSkew is how far a login timestamp may drift from the server clock.
	LoginSkew time.Duration
}

// LoginRequest proves control of Address by signing LoginMessage(Address, Timestamp).
type LoginRequest struct {
	Address   common.Address `json:"address"`
	Timestamp int64          `json:"timestamp"`
	Signature string         `json:"signature"`
}

// Token is returned by a successful login.
type Token struct {
	AccessToken string         `json:"access_token"`
	TokenType   string         `json:"token_type"`
	ExpiresAt   time.Time      `json:"expires_at"`
	Subject     common.Address `json:"subject"`
}

// Subject is the authenticated caller attached to request contexts.
type Subject struct {
	Address   common.Address
	ExpiresAt time.Time
}
