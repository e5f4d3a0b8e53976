package session

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/saiset-co/sai-pipeline/types"
)

// Claims is the payload of a session token.
type Claims struct {
	SessionID string `json:"session_id"`
	UserID    string `json:"user_id"`
	Username  string `json:"username"`
	jwt.RegisteredClaims
}

type TokenCodec struct {
	secret []byte
	method jwt.SigningMethod
	ttl    time.Duration
	now    func() time.Time
}

func NewTokenCodec(settings types.JWTSettings) (*TokenCodec, error) {
	if settings.Secret == "" {
		return nil, types.Errorf(types.ErrConfiguration, "jwt secret is empty")
	}

	method := jwt.GetSigningMethod(settings.Algorithm)
	if _, ok := method.(*jwt.SigningMethodHMAC); !ok {
		return nil, types.Errorf(types.ErrConfiguration, "unsupported jwt algorithm %q", settings.Algorithm)
	}

	ttl := settings.TTL()
	if ttl <= 0 {
		return nil, types.Errorf(types.ErrConfiguration, "jwt expiry must be positive")
	}

	return &TokenCodec{
		secret: []byte(settings.Secret),
		method: method,
		ttl:    ttl,
		now:    time.Now,
	}, nil
}

func (c *TokenCodec) TTL() time.Duration {
	return c.ttl
}

func (c *TokenCodec) Generate(sessionID, userID, username string) (string, time.Time, error) {
	issuedAt := c.now()
	expiresAt := issuedAt.Add(c.ttl)

	claims := &Claims{
		SessionID: sessionID,
		UserID:    userID,
		Username:  username,
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(issuedAt),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
	}

	signed, err := jwt.NewWithClaims(c.method, claims).SignedString(c.secret)
	if err != nil {
		return "", time.Time{}, types.WrapError(err, "failed to sign token")
	}

	return signed, expiresAt, nil
}

// Decode verifies the token and returns its payload. Expired tokens report
// ErrTokenExpired, every other failure ErrTokenInvalid; both are
// authentication errors.
func (c *TokenCodec) Decode(token string) (types.Record, error) {
	if token == "" {
		return nil, fmt.Errorf("%w: %w", types.ErrAuthentication, types.ErrTokenMissing)
	}

	claims := jwt.MapClaims{}
	parsed, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (interface{}, error) {
		if t.Method.Alg() != c.method.Alg() {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return c.secret, nil
	}, jwt.WithTimeFunc(c.now))

	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, fmt.Errorf("%w: %w", types.ErrAuthentication, types.ErrTokenExpired)
		}
		return nil, fmt.Errorf("%w: %w: %v", types.ErrAuthentication, types.ErrTokenInvalid, err)
	}

	if !parsed.Valid {
		return nil, fmt.Errorf("%w: %w", types.ErrAuthentication, types.ErrTokenInvalid)
	}

	return types.Record(claims), nil
}
