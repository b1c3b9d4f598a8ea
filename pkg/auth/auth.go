// Package auth issues and verifies the bearer tokens a probe agent
// presents to the control plane (spec.md §4.9), adapted from the
// teacher's SSO JWT issuance/validation pattern: same HS256-signed
// jwt/v5 claims shape, narrowed from user sessions to one probe identity
// per token.
package auth

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/nightwatch/nightwatch/pkg/config"
)

// Auth issues and verifies probe-agent bearer tokens.
type Auth struct {
	jwtSecret []byte
}

// ProbeClaims identifies a registered probe within one organization.
type ProbeClaims struct {
	ProbeID string `json:"probe_id"`
	OrgID   string `json:"org_id"`
	Region  string `json:"region"`
	jwt.RegisteredClaims
}

// New constructs an Auth from the core config's probe-agent secret,
// generating a random one if none is configured — same fallback the
// teacher's NewAuth uses for its JWT secret.
func New(cfg *config.Config) (*Auth, error) {
	secret := cfg.Core.ProbeTokenSecret
	if secret == "" {
		randomSecret := make([]byte, 32)
		if _, err := rand.Read(randomSecret); err != nil {
			return nil, fmt.Errorf("failed to generate probe token secret: %w", err)
		}
		secret = hex.EncodeToString(randomSecret)
	}
	return &Auth{jwtSecret: []byte(secret)}, nil
}

// IssueProbeToken mints a long-lived bearer token for one probe.
// Probe tokens don't expire on a fixed schedule — a probe is
// deauthorized by revoking it server-side (ProbeRepository), not by
// token lifetime — so ExpiresAt is set far in the future rather than
// omitted, keeping the claim shape consistent with jwt/v5's validator.
func (a *Auth) IssueProbeToken(probeID, orgID, region string) (string, error) {
	claims := &ProbeClaims{
		ProbeID: probeID,
		OrgID:   orgID,
		Region:  region,
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(time.Now()),
			ExpiresAt: jwt.NewNumericDate(time.Now().AddDate(10, 0, 0)),
			Issuer:    "nightwatch-core",
			Subject:   fmt.Sprintf("probe:%s", probeID),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(a.jwtSecret)
}

// VerifyProbeToken validates a bearer token and returns its claims.
func (a *Auth) VerifyProbeToken(tokenString string) (*ProbeClaims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &ProbeClaims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return a.jwtSecret, nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to parse probe token: %w", err)
	}

	if claims, ok := token.Claims.(*ProbeClaims); ok && token.Valid {
		return claims, nil
	}
	return nil, errors.New("invalid probe token")
}
