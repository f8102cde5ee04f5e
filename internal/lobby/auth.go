package lobby

import (
	"errors"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	apperrors "github.com/louisbranch/arbiter.games/internal/platform/errors"
)

// joinTokenClaims is the claims shape of a join token: standard registered
// claims with the player name as subject.
type joinTokenClaims struct {
	jwt.RegisteredClaims
}

// validateJoinToken verifies an HMAC-signed join token and checks that its
// subject matches the joining player's name. A nil key disables auth.
func validateJoinToken(key []byte, token, playerName string, now func() time.Time) error {
	if len(key) == 0 {
		return nil
	}
	token = strings.TrimSpace(token)
	if token == "" {
		return apperrors.New(apperrors.CodeLobbyAuthFailed, "a join token is required")
	}
	if now == nil {
		now = time.Now
	}

	var parsed joinTokenClaims
	_, err := jwt.ParseWithClaims(token, &parsed, func(t *jwt.Token) (any, error) {
		return key, nil
	},
		jwt.WithValidMethods([]string{"HS256"}),
		jwt.WithTimeFunc(now),
	)
	if err != nil {
		return mapJWTError(err)
	}

	subject := strings.TrimSpace(parsed.Subject)
	if subject == "" || subject != playerName {
		return apperrors.WithMetadata(
			apperrors.CodeLobbyAuthFailed,
			"join token subject does not match player name",
			map[string]string{"Field": "sub"},
		)
	}
	return nil
}

// mapJWTError translates jwt library errors to application errors.
func mapJWTError(err error) error {
	if errors.Is(err, jwt.ErrTokenSignatureInvalid) {
		return apperrors.New(apperrors.CodeLobbyAuthFailed, "join token signature is invalid")
	}
	if errors.Is(err, jwt.ErrTokenExpired) {
		return apperrors.New(apperrors.CodeLobbyAuthFailed, "join token is expired")
	}
	if errors.Is(err, jwt.ErrTokenUnverifiable) {
		return apperrors.New(apperrors.CodeLobbyAuthFailed, "join token alg is invalid")
	}
	return apperrors.New(apperrors.CodeLobbyAuthFailed, "join token is invalid")
}
