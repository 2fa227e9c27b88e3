package auth

import (
	"encoding/json"
	"net/http"

	xerrors "TextRelay/internal/errors"
	loggerpkg "TextRelay/pkg/logger"
)

// Middleware 返回校验 Bearer 令牌的 HTTP 中间件。Verifier 为 nil 时直接放行。
func (v *Verifier) Middleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if v == nil {
				next.ServeHTTP(w, r)
				return
			}
			subject, err := v.Verify(r.Context(), BearerToken(r.Header.Get("Authorization")))
			if err != nil {
				loggerpkg.Audit().Warn("access_denied",
					"path", r.URL.Path,
					"method", r.Method,
					"error", err.Error(),
				)
				w.Header().Set("Content-Type", "application/json; charset=utf-8")
				w.Header().Set("WWW-Authenticate", `Bearer realm="textrelay"`)
				w.WriteHeader(http.StatusUnauthorized)
				_ = json.NewEncoder(w).Encode(map[string]any{
					"success": false,
					"code":    xerrors.CodeOf(err),
					"message": messageOf(err),
				})
				return
			}
			next.ServeHTTP(w, r.WithContext(WithSubject(r.Context(), subject)))
		})
	}
}

func messageOf(err error) string {
	if typed, ok := xerrors.From(err); ok {
		return typed.Message()
	}
	return err.Error()
}
