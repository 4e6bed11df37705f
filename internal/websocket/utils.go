package websocket

import (
	"crypto/rand"
	"encoding/hex"
	"net/http"
	"slices"

	"codeberg.org/recipechat/server/internal/config"
	"codeberg.org/recipechat/server/internal/logger"
)

// returns the origin check used for websocket upgrades. development
// accepts anything; production requires a configured allowed origin.
func CheckOrigin(cfg *config.Config) func(r *http.Request) bool {
	return func(r *http.Request) bool {
		if cfg.Environment != "production" {
			return true
		}

		origin := r.Header.Get("Origin")
		if origin == "" {
			logger.Warn("websocket connection with no origin header")
			return false
		}

		if len(cfg.AllowedOrigins) == 0 {
			logger.Warn("websocket origin rejected - ALLOWED_ORIGINS not configured",
				"origin", origin,
			)
			return false
		}

		if slices.Contains(cfg.AllowedOrigins, origin) {
			return true
		}

		logger.Warn("websocket origin rejected - not in allowed origins",
			"origin", origin,
			"allowed_origins", cfg.AllowedOrigins,
		)

		return false
	}
}

func GenerateClientID() (string, error) {
	bytes := make([]byte, 16)

	if _, err := rand.Read(bytes); err != nil {
		return "", err
	}

	return hex.EncodeToString(bytes), nil
}
