// Package middleware содержит HTTP middleware платформы лояльности.
package middleware

import (
	"context"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/mmeshcher/loyalty-platform/internal/model"
)

type contextKey string

const identityKey contextKey = "identity"

const (
	authCookieName = "auth_token"
	authCookieTTL  = 365 * 24 * time.Hour

	payloadSeparator = "|"
)

// Identity описывает аутентифицированного пользователя запроса.
type Identity struct {
	UserID   uuid.UUID
	Role     model.Role
	TenantID *uuid.UUID
}

// IsPlatformAdmin сообщает, является ли пользователь администратором платформы.
func (i Identity) IsPlatformAdmin() bool {
	return i.Role == model.RolePlatformAdmin
}

// IsAdminOf сообщает, администрирует ли пользователь указанный бизнес.
func (i Identity) IsAdminOf(businessID uuid.UUID) bool {
	return i.Role == model.RoleBusinessAdmin && i.TenantID != nil && *i.TenantID == businessID
}

// AuthMiddleware выполняет проверку аутентификации по подписанному cookie.
// В cookie переносятся идентификатор пользователя, его роль и тенант.
type AuthMiddleware struct {
	secretKey []byte
}

// NewAuthMiddleware создаёт новый экземпляр AuthMiddleware с указанным секретным ключом.
func NewAuthMiddleware(secret string) *AuthMiddleware {
	key := []byte(secret)
	if len(key) == 0 {
		randomKey := make([]byte, 32)
		if _, err := rand.Read(randomKey); err == nil {
			key = randomKey
		} else {
			key = []byte("default-secret-key")
		}
	}

	return &AuthMiddleware{
		secretKey: key,
	}
}

// Middleware проверяет cookie авторизации и добавляет Identity в контекст запроса.
func (a *AuthMiddleware) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		cookie, err := r.Cookie(authCookieName)
		if err != nil {
			http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
			return
		}

		identity, ok := a.parseCookie(cookie.Value)
		if !ok {
			http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
			return
		}

		ctx := context.WithValue(r.Context(), identityKey, identity)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// SetAuthCookie устанавливает cookie авторизации для указанного пользователя.
func (a *AuthMiddleware) SetAuthCookie(w http.ResponseWriter, identity Identity) {
	payload := encodePayload(identity)
	value := payload + "." + a.sign(payload)

	cookie := &http.Cookie{
		Name:     authCookieName,
		Value:    value,
		Path:     "/",
		Expires:  time.Now().Add(authCookieTTL),
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	}

	http.SetCookie(w, cookie)
}

func encodePayload(identity Identity) string {
	tenant := ""
	if identity.TenantID != nil {
		tenant = identity.TenantID.String()
	}
	return strings.Join([]string{identity.UserID.String(), string(identity.Role), tenant}, payloadSeparator)
}

func (a *AuthMiddleware) sign(payload string) string {
	mac := hmac.New(sha256.New, a.secretKey)
	mac.Write([]byte(payload))
	return hex.EncodeToString(mac.Sum(nil))
}

func (a *AuthMiddleware) parseCookie(cookieValue string) (Identity, bool) {
	parts := strings.Split(cookieValue, ".")
	if len(parts) != 2 {
		return Identity{}, false
	}

	payload := parts[0]
	signature := parts[1]

	if !hmac.Equal([]byte(signature), []byte(a.sign(payload))) {
		return Identity{}, false
	}

	fields := strings.Split(payload, payloadSeparator)
	if len(fields) != 3 {
		return Identity{}, false
	}

	userID, err := uuid.Parse(fields[0])
	if err != nil {
		return Identity{}, false
	}

	role := model.Role(fields[1])
	switch role {
	case model.RoleCustomer, model.RoleBusinessAdmin, model.RolePlatformAdmin:
	default:
		return Identity{}, false
	}

	identity := Identity{UserID: userID, Role: role}

	if fields[2] != "" {
		tenantID, err := uuid.Parse(fields[2])
		if err != nil {
			return Identity{}, false
		}
		identity.TenantID = &tenantID
	}

	return identity, true
}

// GetIdentityFromContext извлекает Identity из контекста запроса.
func GetIdentityFromContext(ctx context.Context) (Identity, bool) {
	identity, ok := ctx.Value(identityKey).(Identity)
	return identity, ok
}
