package service

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/planloop/schedule-hub/internal/domain/shared"
)

func TestTokenIdentity_PlainToken(t *testing.T) {
	identity, err := NewTokenIdentity([]string{"dev-token"}, nil)
	require.NoError(t, err)

	actor, err := identity.Authenticate("dev-token")
	require.NoError(t, err)
	assert.Equal(t, shared.RoleCoordinator, actor.Role)
	assert.True(t, actor.Role.IsElevated())
}

func TestTokenIdentity_BcryptHash(t *testing.T) {
	hash, err := bcrypt.GenerateFromPassword([]byte("prod-token"), bcrypt.MinCost)
	require.NoError(t, err)

	identity, err := NewTokenIdentity([]string{string(hash)}, nil)
	require.NoError(t, err)

	_, err = identity.Authenticate("prod-token")
	assert.NoError(t, err)

	_, err = identity.Authenticate("wrong-token")
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestTokenIdentity_RejectsUnknownAndEmpty(t *testing.T) {
	identity, err := NewTokenIdentity([]string{"a", "", "  "}, nil)
	require.NoError(t, err)

	_, err = identity.Authenticate("b")
	assert.ErrorIs(t, err, ErrInvalidToken)

	_, err = identity.Authenticate("")
	assert.ErrorIs(t, err, ErrInvalidToken)

	// Blank entries must not become valid tokens.
	_, err = identity.Authenticate("  ")
	assert.ErrorIs(t, err, ErrInvalidToken)
}
