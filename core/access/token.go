package access

import (
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/golang-jwt/jwt/v4"
)

// DefaultSecret is the development signing key. Deployments must override
// it; the service logs a warning when it is still in use.
const DefaultSecret = "dev-secret-change-me"

// DefaultTTL is the default token lifetime of one week.
const DefaultTTL = 168 * time.Hour

// token verification failures
var (
	ErrTokenInvalid = errors.New("invalid bearer token")
	ErrTokenExpired = errors.New("bearer token expired")
)

type sessionClaims struct {
	Email       string `json:"email"`
	DisplayName string `json:"display_name"`
	Role        string `json:"role"`
	jwt.RegisteredClaims
}

// TokenService issues and verifies signed bearer tokens.
//
// Tokens are stateless: validity is determined by signature and expiry
// alone, there is no server-side session store and hence no revocation
// before expiry. This is a deliberate simplicity trade-off.
type TokenService struct {
	secret []byte
	ttl    time.Duration
}

// NewTokenService creates a token service for the given signing secret and
// token lifetime. Empty or zero arguments fall back to the insecure
// development defaults.
func NewTokenService(secret string, ttl time.Duration) *TokenService {
	if secret == "" {
		secret = DefaultSecret
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &TokenService{secret: []byte(secret), ttl: ttl}
}

// Issue creates a signed bearer token carrying the session's id, role and
// display attributes.
func (t *TokenService) Issue(session *Session) (string, error) {
	now := time.Now()
	claims := sessionClaims{
		Email:       session.Email,
		DisplayName: session.DisplayName,
		Role:        session.Role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   strconv.FormatInt(session.UserID, 10),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(t.ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(t.secret)
}

// Verify parses and validates a bearer token and returns the session it
// carries. It returns ErrTokenExpired for a well-signed token past its
// expiry and ErrTokenInvalid for everything else.
func (t *TokenService) Verify(tokenString string) (*Session, error) {
	claims := sessionClaims{}
	token, err := jwt.ParseWithClaims(tokenString, &claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", token.Header["alg"])
		}
		return t.secret, nil
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrTokenExpired
		}
		return nil, ErrTokenInvalid
	}
	if !token.Valid {
		return nil, ErrTokenInvalid
	}
	userID, err := strconv.ParseInt(claims.Subject, 10, 64)
	if err != nil {
		return nil, ErrTokenInvalid
	}
	return &Session{
		UserID:      userID,
		Email:       claims.Email,
		DisplayName: claims.DisplayName,
		Role:        claims.Role,
	}, nil
}
