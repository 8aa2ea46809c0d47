package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"intent-settlement/internal/intent"
	"intent-settlement/pkg/logger"
)

const (
	loginPrefix     = "intent-settlement login"
	defaultTokenTTL = 24 * time.Hour
	defaultSkew     = 5 * time.Minute
)

// Service 为通过签名认证的调用方签发并校验 Bearer 令牌。
type Service struct {
	secret   []byte
	issuer   string
	ttl      time.Duration
	skew     time.Duration
	verifier intent.Verifier
	now      func() time.Time
	audit    *slog.Logger
}

// Option 定义 Service 的可选配置。
type Option func(*Service)

// WithVerifier 指定登录时接受的签名方案。
func WithVerifier(v intent.Verifier) Option {
	return func(s *Service) {
		if v != nil {
			s.verifier = v
		}
	}
}

// WithClock 覆盖时间来源。
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

// WithAuditLogger 将访问记录写入 l，而不是全局审计日志。
func WithAuditLogger(l *slog.Logger) Option {
	return func(s *Service) {
		if l != nil {
			s.audit = l
		}
	}
}

// NewService 构造身份认证服务实例。
func NewService(cfg Config, opts ...Option) (*Service, error) {
	if strings.TrimSpace(cfg.Secret) == "" {
		return nil, errors.New("auth secret must be configured")
	}
	svc := &Service{
		secret:   []byte(cfg.Secret),
		issuer:   cfg.Issuer,
		ttl:      cfg.TokenTTL,
		skew:     cfg.LoginSkew,
		verifier: intent.Secp256k1Verifier{},
		now:      time.Now,
		audit:    logger.Audit(),
	}
	if svc.ttl <= 0 {
		svc.ttl = defaultTokenTTL
	}
	if svc.skew <= 0 {
		svc.skew = defaultSkew
	}
	for _, opt := range opts {
		opt(svc)
	}
	return svc, nil
}

// LoginMessage 是调用方为获取令牌而签名的文本。
func LoginMessage(addr common.Address, timestamp int64) string {
	return fmt.Sprintf("%s %s %d", loginPrefix, addr.Hex(), timestamp)
}

// LoginDigest 返回 LoginMessage 的 EIP-191 个人消息哈希。
func LoginDigest(addr common.Address, timestamp int64) common.Hash {
	return common.BytesToHash(accounts.TextHash([]byte(LoginMessage(addr, timestamp))))
}

// Login 校验已签名的登录消息，并为签名者签发令牌。
func (s *Service) Login(ctx context.Context, req LoginRequest) (*Token, error) {
	now := s.now()
	drift := now.Sub(time.Unix(req.Timestamp, 0))
	if drift < 0 {
		drift = -drift
	}
	if drift > s.skew {
		return nil, ErrLoginExpired
	}
	sig, err := hexutil.Decode(req.Signature)
	if err != nil {
		return nil, ErrInvalidLogin.With(err)
	}
	if !intent.Verify(s.verifier, LoginDigest(req.Address, req.Timestamp), sig, req.Address) {
		s.audit.WarnContext(ctx, "login_rejected", "address", req.Address.Hex())
		return nil, ErrInvalidLogin
	}
	token, err := s.Issue(req.Address)
	if err != nil {
		return nil, err
	}
	s.audit.InfoContext(ctx, "login", "address", req.Address.Hex())
	return token, nil
}

// Issue 无需登录证明直接为 addr 签发令牌。
func (s *Service) Issue(addr common.Address) (*Token, error) {
	now := s.now()
	expires := now.Add(s.ttl)
	claims := jwt.RegisteredClaims{
		ID:        uuid.NewString(),
		Issuer:    s.issuer,
		Subject:   addr.Hex(),
		IssuedAt:  jwt.NewNumericDate(now),
		NotBefore: jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(expires),
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
	if err != nil {
		return nil, fmt.Errorf("sign token: %w", err)
	}
	return &Token{
		AccessToken: signed,
		TokenType:   "Bearer",
		ExpiresAt:   time.Unix(expires.Unix(), 0).UTC(),
		Subject:     addr,
	}, nil
}

// Verify 解析原始令牌并返回其主体。
func (s *Service) Verify(raw string) (*Subject, error) {
	parserOpts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(s.now),
	}
	if s.issuer != "" {
		parserOpts = append(parserOpts, jwt.WithIssuer(s.issuer))
	}
	var claims jwt.RegisteredClaims
	token, err := jwt.ParseWithClaims(raw, &claims, func(*jwt.Token) (any, error) {
		return s.secret, nil
	}, parserOpts...)
	if err != nil || !token.Valid {
		return nil, ErrInvalidToken.With(err)
	}
	if claims.ExpiresAt == nil || !common.IsHexAddress(claims.Subject) {
		return nil, ErrInvalidToken
	}
	return &Subject{
		Address:   common.HexToAddress(claims.Subject),
		ExpiresAt: claims.ExpiresAt.Time,
	}, nil
}

// AuthenticateRequest 验证传入请求的授权头，并返回相应的主体信息。
func (s *Service) AuthenticateRequest(authorization string) (*Subject, error) {
	parts := strings.SplitN(strings.TrimSpace(authorization), " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") {
		return nil, ErrMissingToken
	}
	token := strings.TrimSpace(parts[1])
	if token == "" {
		return nil, ErrMissingToken
	}
	return s.Verify(token)
}
