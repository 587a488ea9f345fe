package middleware

import (
	"context"
	"net/http"
	"strings"

	"fieldsync/internal/domain"
	"fieldsync/pkg/jwt"
	"fieldsync/pkg/response"
)

type contextKey string

const (
	UserIDKey       contextKey = "userID"
	OrganisationKey contextKey = "organisation"
	VerifiedKey     contextKey = "verified"
	DeviceIDKey     contextKey = "deviceID"
)

// DeviceIDHeader identifies the pushing device so its own pushes are not
// echoed back over the websocket.
const DeviceIDHeader = "X-Device-ID"

func AuthMiddleware(jwtSecret string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authHeader := r.Header.Get("Authorization")
			if authHeader == "" {
				response.Unauthorized(w, "Missing authorization header")
				return
			}

			parts := strings.Split(authHeader, " ")
			if len(parts) != 2 || parts[0] != "Bearer" {
				response.Unauthorized(w, "Invalid authorization header format")
				return
			}

			token := parts[1]
			claims, err := jwt.ValidateToken(token, jwtSecret)
			if err != nil {
				response.Unauthorized(w, "Invalid or expired token")
				return
			}

			ctx := context.WithValue(r.Context(), UserIDKey, claims.UserID)
			ctx = context.WithValue(ctx, OrganisationKey, claims.Organisation)
			ctx = context.WithValue(ctx, VerifiedKey, claims.Verified)
			ctx = context.WithValue(ctx, DeviceIDKey, r.Header.Get(DeviceIDHeader))
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func GetUserID(r *http.Request) string {
	userID, ok := r.Context().Value(UserIDKey).(string)
	if !ok {
		return ""
	}
	return userID
}

// Caller rebuilds the authenticated user from the request context.
func Caller(r *http.Request) domain.UserContext {
	ctx := r.Context()
	organisation, _ := ctx.Value(OrganisationKey).(string)
	verified, _ := ctx.Value(VerifiedKey).(bool)
	deviceID, _ := ctx.Value(DeviceIDKey).(string)
	return domain.UserContext{
		UserName:     GetUserID(r),
		Organisation: organisation,
		Verified:     verified,
		DeviceID:     deviceID,
	}
}
