package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	xerrors "TextRelay/internal/errors"
)

var (
	// ErrMissingToken 表示请求未携带 Bearer 令牌。
	ErrMissingToken = xerrors.New(xerrors.CodeUnauthorized, "缺少访问令牌")
	// ErrInvalidToken 表示令牌格式、签名或签发方不正确。
	ErrInvalidToken = xerrors.New(xerrors.CodeUnauthorized, "访问令牌无效")
	// ErrExpiredToken 表示令牌已过期。
	ErrExpiredToken = xerrors.New(xerrors.CodeUnauthorized, "访问令牌已过期")
)

// Subject 是通过认证的调用方。
type Subject struct {
	ID        string
	Issuer    string
	ExpiresAt time.Time
}

// Verifier 使用 HS256 共享密钥签发与校验 JWT。
type Verifier struct {
	secret    []byte
	issuer    string
	clockSkew time.Duration
	now       func() time.Time
}

// Option 定义可选配置。
type Option func(*Verifier)

// WithClock 替换时间来源，主要用于测试。
func WithClock(now func() time.Time) Option {
	return func(v *Verifier) {
		if now != nil {
			v.now = now
		}
	}
}

// NewVerifier 创建校验器。secret 为空时返回 nil，表示关闭认证。
func NewVerifier(secret, issuer string, opts ...Option) (*Verifier, error) {
	if secret == "" {
		return nil, nil
	}
	if len(secret) < 16 {
		return nil, xerrors.New(xerrors.CodeValidation, "jwt secret 至少需要 16 个字符")
	}
	v := &Verifier{
		secret:    []byte(secret),
		issuer:    issuer,
		clockSkew: 30 * time.Second,
		now:       time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(v)
		}
	}
	return v, nil
}

// Issue 为指定主体签发令牌。
func (v *Verifier) Issue(subject string, ttl time.Duration) (string, error) {
	if strings.TrimSpace(subject) == "" {
		return "", xerrors.New(xerrors.CodeValidation, "subject 不能为空")
	}
	if ttl <= 0 {
		ttl = time.Hour
	}
	now := v.now()
	claims := jwt.RegisteredClaims{
		Subject:   subject,
		Issuer:    v.issuer,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		ID:        uuid.NewString(),
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(v.secret)
	if err != nil {
		return "", fmt.Errorf("签发令牌失败: %w", err)
	}
	return signed, nil
}

// Verify 校验令牌并返回主体。
func (v *Verifier) Verify(_ context.Context, token string) (*Subject, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, ErrMissingToken
	}
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Name}),
		jwt.WithLeeway(v.clockSkew),
		jwt.WithTimeFunc(v.now),
		jwt.WithExpirationRequired(),
	}
	if v.issuer != "" {
		opts = append(opts, jwt.WithIssuer(v.issuer))
	}
	claims := &jwt.RegisteredClaims{}
	_, err := jwt.ParseWithClaims(token, claims, func(*jwt.Token) (any, error) {
		return v.secret, nil
	}, opts...)
	switch {
	case errors.Is(err, jwt.ErrTokenExpired):
		return nil, ErrExpiredToken
	case err != nil:
		return nil, xerrors.Wrap(xerrors.CodeUnauthorized, err, ErrInvalidToken.Message())
	case claims.Subject == "":
		return nil, ErrInvalidToken
	}
	subject := &Subject{ID: claims.Subject, Issuer: claims.Issuer}
	if claims.ExpiresAt != nil {
		subject.ExpiresAt = claims.ExpiresAt.Time
	}
	return subject, nil
}

// BearerToken 从 Authorization 头中提取令牌。
func BearerToken(header string) string {
	scheme, token, ok := strings.Cut(strings.TrimSpace(header), " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return ""
	}
	return strings.TrimSpace(token)
}
