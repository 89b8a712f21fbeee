package admin

import (
	"crypto/subtle"
	"encoding/hex"
	"net/http"
	"strings"

	"github.com/gorilla/mux"
	"golang.org/x/crypto/argon2"

	"otahub/internal/models"
)

// TokenVerifier проверяет админский Bearer-токен.
// Если задан HashHex (argon2id, hex), сравниваем хэши; иначе — сам токен.
type TokenVerifier struct {
	Token   string
	HashHex string
}

func (v TokenVerifier) OK(candidate string) bool {
	if candidate == "" {
		return false
	}
	if v.HashHex != "" {
		want, err := hex.DecodeString(v.HashHex)
		if err != nil {
			return false
		}
		got := argon2.IDKey([]byte(candidate), []byte("otahub-admin"), 1, 64*1024, 1, 32)
		return subtle.ConstantTimeCompare(got, want) == 1
	}
	return subtle.ConstantTimeCompare([]byte(candidate), []byte(v.Token)) == 1
}

// HashToken — argon2id-хэш токена (hex) для ota.admin_token_hash.
func HashToken(token string) string {
	return hex.EncodeToString(argon2.IDKey([]byte(token), []byte("otahub-admin"), 1, 64*1024, 1, 32))
}

// RequestOK — токен из Authorization: Bearer <...>.
func (v TokenVerifier) RequestOK(r *http.Request) bool {
	const p = "Bearer "
	auth := r.Header.Get("Authorization")
	return strings.HasPrefix(auth, p) && v.OK(strings.TrimPrefix(auth, p))
}

// Middleware закрывает админские маршруты Bearer-токеном.
func (v TokenVerifier) Middleware() mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !v.RequestOK(r) {
				models.WriteProblem(w, http.StatusUnauthorized, "Unauthorized", "admin token required", nil)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// actor — имя администратора для журнала; сессий нет, берём заголовок.
func actor(r *http.Request) string {
	if a := r.Header.Get("X-Admin-User"); a != "" {
		return a
	}
	return "admin"
}
