package auth

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
)

type contextKey string

const ViewerContextKey contextKey = "viewer"

// Middleware requires a view token in the Authorization header or, for
// browser WebSocket clients that cannot set headers, the token query parameter.
func Middleware(svc *Service) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			tokenString := r.URL.Query().Get("token")
			if authHeader := r.Header.Get("Authorization"); authHeader != "" {
				parts := strings.SplitN(authHeader, " ", 2)
				if len(parts) != 2 || strings.ToLower(parts[0]) != "bearer" {
					http.Error(w, `{"code":"UNAUTHORIZED","message":"invalid authorization header format"}`, http.StatusUnauthorized)
					return
				}
				tokenString = parts[1]
			}
			if tokenString == "" {
				http.Error(w, `{"code":"UNAUTHORIZED","message":"missing token"}`, http.StatusUnauthorized)
				return
			}

			claims, err := svc.ValidateViewToken(tokenString)
			if err != nil {
				if err == ErrTokenExpired {
					http.Error(w, `{"code":"TOKEN_EXPIRED","message":"access token has expired"}`, http.StatusUnauthorized)
					return
				}
				http.Error(w, `{"code":"UNAUTHORIZED","message":"invalid access token"}`, http.StatusUnauthorized)
				return
			}

			ctx := context.WithValue(r.Context(), ViewerContextKey, claims.ViewerID)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// GetViewerFromContext returns the viewer id set by Middleware
func GetViewerFromContext(ctx context.Context) string {
	viewer, _ := ctx.Value(ViewerContextKey).(string)
	return viewer
}

type tokenRequest struct {
	Passphrase string `json:"passphrase"`
}

// TokenHandler exchanges a passphrase for a view token
func TokenHandler(svc *Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req tokenRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, `{"code":"INVALID_REQUEST","message":"invalid request body"}`, http.StatusBadRequest)
			return
		}

		resp, err := svc.Exchange(req.Passphrase)
		if err != nil {
			if err == ErrInvalidCredentials {
				http.Error(w, `{"code":"UNAUTHORIZED","message":"invalid passphrase"}`, http.StatusUnauthorized)
				return
			}
			http.Error(w, `{"code":"INTERNAL_ERROR","message":"failed to issue token"}`, http.StatusInternalServerError)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(resp)
	}
}
