package middleware

import (
	"encoding/json"
	"net/http"
	"runtime/debug"

	"go.uber.org/zap"

	"github.com/neko-do/engine/internal/api/types"
	"github.com/neko-do/engine/pkg/logger"
)

// Recovery logs panics with a stack trace and answers 500 in the standard
// envelope.
func Recovery(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				logger.L().Error("panic recovered",
					zap.Any("panic", rec),
					zap.String("path", r.URL.Path),
					zap.ByteString("stack", debug.Stack()),
				)
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusInternalServerError)
				_ = json.NewEncoder(w).Encode(types.APIResponse{
					Success: false,
					Error:   &types.APIError{Code: "internal", Message: "internal server error"},
				})
			}
		}()
		next.ServeHTTP(w, r)
	})
}
