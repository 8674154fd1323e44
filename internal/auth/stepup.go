// Package auth issues and verifies step-up approval tokens.
//
// A step-up token is a short-lived Ed25519-signed JWT proving a human
// approved a specific mutating step. Uses EdDSA; keys load from PEM files
// or are auto-generated for development.
package auth

import (
	"bytes"
	"crypto/ed25519"
	"crypto/rand"
	"crypto/x509"
	"encoding/pem"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// MaxStepUpTTL is the maximum lifetime of a step-up token. Approval is a
// point-in-time human action; a long-lived grant defeats its purpose.
const MaxStepUpTTL = 15 * time.Minute

const issuer = "sentia"

// StepUpClaims extends jwt.RegisteredClaims with the approval binding.
type StepUpClaims struct {
	jwt.RegisteredClaims
	ApproverID string `json:"approver_id"`
	Purpose    string `json:"purpose"`
}

// StepUpManager signs and validates step-up tokens using Ed25519.
type StepUpManager struct {
	privateKey ed25519.PrivateKey
	publicKey  ed25519.PublicKey
}

// NewStepUpManager creates a StepUpManager from PEM key files.
// If paths are empty, generates an ephemeral key pair (for development).
func NewStepUpManager(privateKeyPath, publicKeyPath string) (*StepUpManager, error) {
	if privateKeyPath == "" || publicKeyPath == "" {
		slog.Warn("auth: no step-up key files configured, generating ephemeral key pair (not for production)")
		pub, priv, err := ed25519.GenerateKey(rand.Reader)
		if err != nil {
			return nil, fmt.Errorf("auth: generate key pair: %w", err)
		}
		return &StepUpManager{privateKey: priv, publicKey: pub}, nil
	}

	privPEM, err := os.ReadFile(privateKeyPath) //nolint:gosec // paths come from validated config, not user input
	if err != nil {
		return nil, fmt.Errorf("auth: read private key: %w", err)
	}
	block, _ := pem.Decode(privPEM)
	if block == nil {
		return nil, fmt.Errorf("auth: decode private key PEM")
	}
	privKey, err := x509.ParsePKCS8PrivateKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("auth: parse private key: %w", err)
	}
	edPriv, ok := privKey.(ed25519.PrivateKey)
	if !ok {
		return nil, fmt.Errorf("auth: private key is not Ed25519")
	}

	pubPEM, err := os.ReadFile(publicKeyPath) //nolint:gosec // paths come from validated config, not user input
	if err != nil {
		return nil, fmt.Errorf("auth: read public key: %w", err)
	}
	pubBlock, _ := pem.Decode(pubPEM)
	if pubBlock == nil {
		return nil, fmt.Errorf("auth: decode public key PEM")
	}
	pubKey, err := x509.ParsePKIXPublicKey(pubBlock.Bytes)
	if err != nil {
		return nil, fmt.Errorf("auth: parse public key: %w", err)
	}
	edPub, ok := pubKey.(ed25519.PublicKey)
	if !ok {
		return nil, fmt.Errorf("auth: public key is not Ed25519")
	}

	// Catch a private key from one environment paired with a public key
	// from another.
	derivedPub := edPriv.Public().(ed25519.PublicKey)
	if !bytes.Equal(derivedPub, edPub) {
		return nil, fmt.Errorf("auth: public key does not match private key")
	}

	return &StepUpManager{privateKey: edPriv, publicKey: edPub}, nil
}

// IssueToken creates a signed step-up token for the approver.
// TTL is capped at MaxStepUpTTL regardless of the requested value.
func (m *StepUpManager) IssueToken(approverID string, ttl time.Duration) (string, time.Time, error) {
	if approverID == "" {
		return "", time.Time{}, fmt.Errorf("auth: approver id must not be empty")
	}
	if ttl <= 0 || ttl > MaxStepUpTTL {
		ttl = MaxStepUpTTL
	}

	now := time.Now().UTC()
	exp := now.Add(ttl)

	claims := StepUpClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   approverID,
			Issuer:    issuer,
			Audience:  jwt.ClaimStrings{issuer},
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(exp),
			ID:        uuid.New().String(),
		},
		ApproverID: approverID,
		Purpose:    "step-up",
	}

	token := jwt.NewWithClaims(jwt.SigningMethodEdDSA, claims)
	signed, err := token.SignedString(m.privateKey)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("auth: sign step-up token: %w", err)
	}
	return signed, exp, nil
}

// Verify parses and validates a step-up token, returning its claims.
func (m *StepUpManager) Verify(tokenStr string) (*StepUpClaims, error) {
	token, err := jwt.ParseWithClaims(
		tokenStr,
		&StepUpClaims{},
		func(token *jwt.Token) (any, error) {
			if _, ok := token.Method.(*jwt.SigningMethodEd25519); !ok {
				return nil, fmt.Errorf("auth: unexpected signing method: %v", token.Header["alg"])
			}
			return m.publicKey, nil
		},
		jwt.WithAudience(issuer),
	)
	if err != nil {
		return nil, fmt.Errorf("auth: validate step-up token: %w", err)
	}

	claims, ok := token.Claims.(*StepUpClaims)
	if !ok || !token.Valid {
		return nil, fmt.Errorf("auth: invalid step-up token claims")
	}
	if claims.Issuer != issuer {
		return nil, fmt.Errorf("auth: invalid issuer: %s", claims.Issuer)
	}
	if claims.Purpose != "step-up" {
		return nil, fmt.Errorf("auth: token is not a step-up token")
	}

	return claims, nil
}
