package api

import (
	"context"
	"net/http"
	"strings"

	"github.com/warp/points-engine/loyalty"
)

// Identity arrives already authenticated from the gateway in front of
// this service. Users and operators use separate headers.
const (
	HeaderUserID     = "X-User-ID"
	HeaderOperatorID = "X-Operator-ID"
)

type callerKey struct{}

// RequireUser rejects requests without a user identity.
func RequireUser(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := strings.TrimSpace(r.Header.Get(HeaderUserID))
		if id == "" {
			writeError(w, http.StatusUnauthorized, "Missing "+HeaderUserID+" header", nil)
			return
		}
		caller := loyalty.Caller{UserID: loyalty.UserID(id)}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), callerKey{}, caller)))
	})
}

// RequireOperator rejects requests without an operator identity.
func RequireOperator(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.TrimSpace(r.Header.Get(HeaderOperatorID)) == "" {
			writeError(w, http.StatusUnauthorized, "Missing "+HeaderOperatorID+" header", nil)
			return
		}
		caller := loyalty.Caller{Operator: true}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), callerKey{}, caller)))
	})
}

func callerFrom(r *http.Request) loyalty.Caller {
	c, _ := r.Context().Value(callerKey{}).(loyalty.Caller)
	return c
}

func userFrom(r *http.Request) loyalty.UserID {
	return callerFrom(r).UserID
}
