package service

import (
	"errors"
	"log/slog"
	"strings"

	"golang.org/x/crypto/bcrypt"

	"github.com/planloop/schedule-hub/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// TOKEN IDENTITY
// ══════════════════════════════════════════════════════════════════════════════

// ErrInvalidToken is returned when no configured token matches.
var ErrInvalidToken = errors.New("invalid API token")

// TokenIdentity resolves bearer tokens to elevated actors for the HTTP
// API. Configured values are bcrypt hashes; a plain token (useful in
// development) is hashed at startup so the comparison path is uniform
// and the plain value never sits in memory longer than loading takes.
type TokenIdentity struct {
	hashes [][]byte
	logger *slog.Logger
}

// NewTokenIdentity creates a TokenIdentity from the configured tokens.
func NewTokenIdentity(tokens []string, logger *slog.Logger) (*TokenIdentity, error) {
	if logger == nil {
		logger = slog.Default()
	}

	hashes := make([][]byte, 0, len(tokens))
	for _, t := range tokens {
		t = strings.TrimSpace(t)
		if t == "" {
			continue
		}

		if isBcryptHash(t) {
			hashes = append(hashes, []byte(t))
			continue
		}

		hash, err := bcrypt.GenerateFromPassword([]byte(t), bcrypt.DefaultCost)
		if err != nil {
			return nil, err
		}
		hashes = append(hashes, hash)
	}

	return &TokenIdentity{
		hashes: hashes,
		logger: logger.With("service", "identity"),
	}, nil
}

// Authenticate resolves a bearer token to an actor. A matching token
// grants the coordinator role; the API has no student-scoped tokens.
func (s *TokenIdentity) Authenticate(token string) (shared.Actor, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return shared.Actor{}, ErrInvalidToken
	}

	for _, hash := range s.hashes {
		if bcrypt.CompareHashAndPassword(hash, []byte(token)) == nil {
			return shared.Actor{ID: "api", Role: shared.RoleCoordinator}, nil
		}
	}

	s.logger.Warn("rejected API token")
	return shared.Actor{}, ErrInvalidToken
}

// isBcryptHash reports whether s looks like a bcrypt hash.
func isBcryptHash(s string) bool {
	return strings.HasPrefix(s, "$2a$") ||
		strings.HasPrefix(s, "$2b$") ||
		strings.HasPrefix(s, "$2y$")
}
