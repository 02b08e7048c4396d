// Package auth verifies caller identity and patient access for the
// reminiscence backend. Tokens are HS256-signed JWTs whose subject is the
// user ID; patient access is resolved through the store's
// caregiver/supporter relationships.
package auth

import (
	"context"
	"errors"
	"fmt"

	"github.com/golang-jwt/jwt/v5"

	"github.com/Zachwitte21/reminisce-poc/internal/relay"
	"github.com/Zachwitte21/reminisce-poc/internal/store"
)

// ErrInvalidToken is returned for malformed, expired, or mis-signed tokens.
var ErrInvalidToken = errors.New("auth: invalid token")

// ErrForbidden is returned when the token is valid but the user has no
// relationship with the requested patient.
var ErrForbidden = errors.New("auth: access denied")

// Verifier validates HS256 JWTs and extracts the user ID.
type Verifier struct {
	secret []byte
	parser *jwt.Parser
}

// NewVerifier creates a Verifier for tokens signed with secret.
func NewVerifier(secret string) *Verifier {
	return &Verifier{
		secret: []byte(secret),
		parser: jwt.NewParser(
			jwt.WithValidMethods([]string{"HS256"}),
			jwt.WithExpirationRequired(),
		),
	}
}

// Verify parses and validates token, returning the user ID from the subject
// claim.
func (v *Verifier) Verify(token string) (string, error) {
	if token == "" {
		return "", ErrInvalidToken
	}

	claims := &jwt.RegisteredClaims{}
	_, err := v.parser.ParseWithClaims(token, claims, func(*jwt.Token) (any, error) {
		return v.secret, nil
	})
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrInvalidToken, err)
	}
	if claims.Subject == "" {
		return "", fmt.Errorf("%w: missing subject", ErrInvalidToken)
	}
	return claims.Subject, nil
}

// AccessStore resolves a user's relationship to a patient.
type AccessStore interface {
	VerifyAccess(ctx context.Context, userID, patientID string) (store.PatientAccess, error)
}

// Authorizer combines token verification with patient access checks. It
// implements [relay.Authorizer].
type Authorizer struct {
	verifier *Verifier
	access   AccessStore
}

// NewAuthorizer creates an Authorizer using the given verifier and store.
func NewAuthorizer(verifier *Verifier, access AccessStore) *Authorizer {
	return &Authorizer{verifier: verifier, access: access}
}

var _ relay.Authorizer = (*Authorizer)(nil)

// Authorize validates the token and the caller's relationship to the
// patient. Unknown patients and missing relationships both map to
// [ErrForbidden] so the caller learns nothing about patient existence.
func (a *Authorizer) Authorize(ctx context.Context, token, patientID string) (relay.Access, error) {
	userID, err := a.verifier.Verify(token)
	if err != nil {
		return relay.Access{}, err
	}

	pa, err := a.access.VerifyAccess(ctx, userID, patientID)
	if errors.Is(err, store.ErrNotFound) || errors.Is(err, store.ErrNoAccess) {
		return relay.Access{}, ErrForbidden
	}
	if err != nil {
		return relay.Access{}, fmt.Errorf("auth: verify access: %w", err)
	}

	return relay.Access{
		UserID:      userID,
		PatientID:   patientID,
		PatientName: pa.PatientName,
		Role:        pa.Role,
	}, nil
}
