// Package token issues and verifies the signed, time-limited invitation
// tokens that admit an account into a game room. Tokens are HMAC-signed
// JWTs carrying the account, the issuing server and the target room, so
// a presented invitation is rejected unless it was minted by this
// server for this account and this room.
package token

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// Verification failures, mapped by the gateway onto the typed
// room-join failure bytes.
var (
	ErrExpired         = errors.New("token: invitation expired")
	ErrAccountMismatch = errors.New("token: account mismatch")
	ErrServerMismatch  = errors.New("token: server mismatch")
	ErrMalformed       = errors.New("token: malformed invitation")
)

// Config holds the signing parameters. Algorithm is the JWT signing
// method name; only HMAC variants are accepted.
type Config struct {
	Secret    string        `yaml:"secret"`
	Algorithm string        `yaml:"algorithm"`
	Issuer    string        `yaml:"issuer"`
	Audience  string        `yaml:"audience"`
	TTL       time.Duration `yaml:"ttl"`
}

// Invitation is the verified content of a token.
type Invitation struct {
	AccountID uuid.UUID
	ServerID  uuid.UUID
	GameID    uuid.UUID
	Observer  bool
}

type claims struct {
	jwt.RegisteredClaims
	UserID   string `json:"user_id"`
	ServerID string `json:"server_id"`
	GameID   string `json:"game_id"`
	Observer bool   `json:"observer,omitempty"`
}

// Issuer signs and verifies invitations for one server identity.
type Issuer struct {
	config   Config
	method   jwt.SigningMethod
	serverID uuid.UUID
}

// NewIssuer builds an issuer from config. The configured algorithm must
// be an HMAC method (HS256/HS384/HS512); HS256 when unset.
func NewIssuer(cfg Config, serverID uuid.UUID) (*Issuer, error) {
	if cfg.Secret == "" {
		return nil, errors.New("token: empty signing secret")
	}
	name := cfg.Algorithm
	if name == "" {
		name = "HS256"
	}
	method := jwt.GetSigningMethod(name)
	if _, ok := method.(*jwt.SigningMethodHMAC); !ok {
		return nil, fmt.Errorf("token: unsupported signing algorithm %q", name)
	}
	return &Issuer{config: cfg, method: method, serverID: serverID}, nil
}

// Sign mints an invitation for accountID into room gameID, valid for
// the configured TTL.
func (i *Issuer) Sign(accountID, gameID uuid.UUID, observer bool, now time.Time) (string, error) {
	c := claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    i.config.Issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(i.config.TTL)),
		},
		UserID:   accountID.String(),
		ServerID: i.serverID.String(),
		GameID:   gameID.String(),
		Observer: observer,
	}
	if i.config.Audience != "" {
		c.Audience = jwt.ClaimStrings{i.config.Audience}
	}
	signed, err := jwt.NewWithClaims(i.method, c).SignedString([]byte(i.config.Secret))
	if err != nil {
		return "", fmt.Errorf("token: signing failed: %w", err)
	}
	return signed, nil
}

// Verify checks signature, expiry, issuer and audience, then binds the
// token to the presenting account and the local server. presenter is
// the identity established during the connection handshake.
func (i *Issuer) Verify(signed string, presenter uuid.UUID) (Invitation, error) {
	opts := []jwt.ParserOption{jwt.WithValidMethods([]string{i.method.Alg()})}
	if i.config.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(i.config.Issuer))
	}
	if i.config.Audience != "" {
		opts = append(opts, jwt.WithAudience(i.config.Audience))
	}

	var c claims
	_, err := jwt.ParseWithClaims(signed, &c, func(*jwt.Token) (any, error) {
		return []byte(i.config.Secret), nil
	}, opts...)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return Invitation{}, ErrExpired
		}
		return Invitation{}, ErrMalformed
	}

	accountID, err := uuid.Parse(c.UserID)
	if err != nil {
		return Invitation{}, ErrMalformed
	}
	serverID, err := uuid.Parse(c.ServerID)
	if err != nil {
		return Invitation{}, ErrMalformed
	}
	gameID, err := uuid.Parse(c.GameID)
	if err != nil {
		return Invitation{}, ErrMalformed
	}

	if accountID != presenter {
		return Invitation{}, ErrAccountMismatch
	}
	if serverID != i.serverID {
		return Invitation{}, ErrServerMismatch
	}

	return Invitation{
		AccountID: accountID,
		ServerID:  serverID,
		GameID:    gameID,
		Observer:  c.Observer,
	}, nil
}
