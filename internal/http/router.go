package httpserver

import (
	"net/http"

	"github.com/septivank/conservation-rewards-worker/internal/http/handlers"
	"github.com/septivank/conservation-rewards-worker/internal/http/middleware"
)

// Routes groups handlers.
type Routes struct {
	Ledger  *handlers.LedgerHandlers
	Health  http.HandlerFunc
	Metrics http.Handler
}

// NewRouter wires HTTP routes. Ledger routes require a bearer token.
func NewRouter(routes Routes, authMiddleware func(http.Handler) http.Handler) http.Handler {
	mux := http.NewServeMux()

	if routes.Health != nil {
		mux.Handle("/health", method(http.MethodGet, routes.Health))
	}
	if routes.Metrics != nil {
		mux.Handle("/metrics", method(http.MethodGet, routes.Metrics))
	}

	if routes.Ledger == nil {
		return mux
	}
	authenticated := func(handler http.HandlerFunc) http.Handler {
		return middleware.Chain(handler, authMiddleware)
	}

	mux.Handle("/register", method(http.MethodPost, authenticated(routes.Ledger.Register)))
	mux.Handle("/meters", methods(map[string]http.Handler{
		http.MethodGet:  authenticated(routes.Ledger.Meter),
		http.MethodPost: authenticated(routes.Ledger.AddMeter),
	}))
	mux.Handle("/participants/me", method(http.MethodGet, authenticated(routes.Ledger.ParticipantMe)))
	mux.Handle("/rewards/me", method(http.MethodGet, authenticated(routes.Ledger.RewardsMe)))
	mux.Handle("/rewards/redeem", method(http.MethodPost, authenticated(routes.Ledger.Redeem)))

	return mux
}

func method(expected string, handler http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != expected {
			w.Header().Set("Allow", expected)
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		handler.ServeHTTP(w, r)
	})
}

func methods(byMethod map[string]http.Handler) http.Handler {
	allow := ""
	for _, m := range []string{http.MethodGet, http.MethodPost} {
		if _, ok := byMethod[m]; ok {
			if allow != "" {
				allow += ", "
			}
			allow += m
		}
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		handler, ok := byMethod[r.Method]
		if !ok {
			w.Header().Set("Allow", allow)
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		handler.ServeHTTP(w, r)
	})
}
