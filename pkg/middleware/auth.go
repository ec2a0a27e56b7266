package middleware

import (
	"net/http"

	"github.com/pesio-ai/be-erp-approvals/pkg/auth"
)

// TokenParser is implemented by *auth.Manager.
type TokenParser interface {
	ParseToken(token string) (*auth.Claims, error)
}

// Auth verifies the bearer token and stores the caller on the request
// context. Paths in public are served without a token. Failures are handed to
// onFail so the transport can render its own error envelope.
func Auth(parser TokenParser, onFail func(w http.ResponseWriter, r *http.Request, err error), public ...string) Middleware {
	skip := make(map[string]struct{}, len(public))
	for _, p := range public {
		skip[p] = struct{}{}
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if _, ok := skip[r.URL.Path]; ok {
				next.ServeHTTP(w, r)
				return
			}

			claims, err := parser.ParseToken(auth.BearerToken(r.Header.Get("Authorization")))
			if err != nil {
				onFail(w, r, err)
				return
			}

			ctx := auth.WithUser(r.Context(), auth.UserContext{
				UserID:     claims.UserID,
				Role:       claims.Role,
				Department: claims.Department,
			})
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
