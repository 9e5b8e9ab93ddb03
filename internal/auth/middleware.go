// Hivemux - Per-Entity Realtime Fan-Out Service
// Copyright 2026 Hivemux Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/hivemux/hivemux

package auth

import (
	"context"
	"net/http"
	"strings"

	"github.com/hivemux/hivemux/internal/logging"
)

type contextKey string

// ClaimsContextKey locates validated JWT claims in a request context.
const ClaimsContextKey contextKey = "claims"

// RequireJWT enforces a valid Bearer token on operational endpoints. When
// manager is nil (no JWT secret configured) every request is rejected with
// 500 rather than silently opening the endpoint.
func RequireJWT(manager *JWTManager) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if manager == nil {
				logging.Error().Str("path", r.URL.Path).
					Msg("jwt-guarded endpoint hit without a configured secret")
				http.Error(w, "Server configuration error", http.StatusInternalServerError)
				return
			}

			header := r.Header.Get("Authorization")
			if header == "" {
				http.Error(w, "Authorization required", http.StatusUnauthorized)
				return
			}
			token, ok := strings.CutPrefix(header, "Bearer ")
			if !ok || token == "" {
				http.Error(w, "Invalid authorization header", http.StatusUnauthorized)
				return
			}

			claims, err := manager.ValidateToken(token)
			if err != nil {
				logging.Debug().Err(err).Str("path", r.URL.Path).Msg("jwt validation failed")
				http.Error(w, "Invalid or expired token", http.StatusUnauthorized)
				return
			}

			ctx := context.WithValue(r.Context(), ClaimsContextKey, claims)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// ClaimsFromContext returns the claims stored by RequireJWT, if any.
func ClaimsFromContext(ctx context.Context) (*Claims, bool) {
	claims, ok := ctx.Value(ClaimsContextKey).(*Claims)
	return claims, ok
}
