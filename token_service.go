package connect

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/goliatone/go-errors"
	"github.com/goliatone/hashid/pkg/hashid"
)

const (
	DefaultUserTTL       = 8 * time.Hour
	DefaultCustomerQRTTL = 20 * time.Minute
	DefaultStaffQRTTL    = 90 * time.Second

	// each token kind carries its own audience so one cannot be replayed as another
	userAudience  = "connect:user"
	grantAudience = "connect:qr-grant"
)

// UserClaims carries the staff session in the signed user cookie
type UserClaims struct {
	jwt.RegisteredClaims
	User UserData `json:"user"`
}

// GrantClaims carries a QR display grant
type GrantClaims struct {
	jwt.RegisteredClaims
	Identifier  string `json:"identifier"`
	URL         string `json:"url,omitempty"`
	CustomerKey string `json:"customer_key,omitempty"`
}

// QRGrant allows rendering a QR code until ExpiresAt
type QRGrant struct {
	Identifier  string    `json:"identifier"`
	URL         string    `json:"url,omitempty"`
	CustomerKey string    `json:"customer_key,omitempty"`
	IssuedAt    time.Time `json:"issued_at"`
	ExpiresAt   time.Time `json:"expires_at"`
}

// Remaining is the display time left at now
func (g QRGrant) Remaining(now time.Time) time.Duration {
	d := g.ExpiresAt.Sub(now)
	if d < 0 {
		return 0
	}
	return d
}

// TokenServiceOption customizes the token service
type TokenServiceOption func(*TokenService)

// WithTokenClock injects a custom clock (useful for tests).
func WithTokenClock(clock func() time.Time) TokenServiceOption {
	return func(ts *TokenService) {
		if clock != nil {
			ts.now = clock
		}
	}
}

// WithUserTTL overrides the staff session lifetime
func WithUserTTL(ttl time.Duration) TokenServiceOption {
	return func(ts *TokenService) {
		if ttl > 0 {
			ts.userTTL = ttl
		}
	}
}

// WithTokenLogger overrides the logger
func WithTokenLogger(logger Logger) TokenServiceOption {
	return func(ts *TokenService) {
		if logger != nil {
			ts.logger = logger
		}
	}
}

// TokenService signs and verifies the cookies this portal issues
type TokenService struct {
	signingKey []byte
	issuer     string
	userTTL    time.Duration
	now        func() time.Time
	logger     Logger
}

// NewTokenService creates a new TokenService instance
func NewTokenService(signingKey []byte, issuer string, opts ...TokenServiceOption) *TokenService {
	ts := &TokenService{
		signingKey: signingKey,
		issuer:     issuer,
		userTTL:    DefaultUserTTL,
		now:        time.Now,
		logger:     defLogger{},
	}
	for _, opt := range opts {
		if opt != nil {
			opt(ts)
		}
	}
	return ts
}

// UserTTL is the lifetime of the staff session cookie
func (ts *TokenService) UserTTL() time.Duration {
	return ts.userTTL
}

// SignUser encodes a staff session
func (ts *TokenService) SignUser(user UserData) (string, error) {
	now := ts.now()
	claims := &UserClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    ts.issuer,
			Subject:   user.UserCode,
			Audience:  jwt.ClaimStrings{userAudience},
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ts.userTTL)),
		},
		User: user,
	}
	return ts.sign(claims)
}

// ParseUser verifies a staff session cookie
func (ts *TokenService) ParseUser(token string) (UserData, error) {
	if token == "" {
		return UserData{}, ErrUnableToFindSession
	}

	claims := &UserClaims{}
	if err := ts.parse(token, userAudience, claims); err != nil {
		return UserData{}, err
	}
	if claims.User.UserCode == "" || claims.User.UserRole == "" {
		ts.logger.Error("session token without user code or role, subject=%q", claims.Subject)
		return UserData{}, ErrUnableToDecodeSession
	}
	return claims.User, nil
}

// IssueGrant creates a QR grant for identifier valid for ttl
func (ts *TokenService) IssueGrant(identifier, link string, ttl time.Duration) (QRGrant, string, error) {
	now := ts.now()
	grant := QRGrant{
		Identifier: identifier,
		URL:        link,
		IssuedAt:   now,
		ExpiresAt:  now.Add(ttl),
	}

	if id, err := hashid.NewUUID(identifier); err == nil {
		grant.CustomerKey = id.String()
	} else {
		ts.logger.Error("customer key derivation failed: %v", err)
	}

	claims := &GrantClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    ts.issuer,
			Subject:   identifier,
			Audience:  jwt.ClaimStrings{grantAudience},
			IssuedAt:  jwt.NewNumericDate(grant.IssuedAt),
			ExpiresAt: jwt.NewNumericDate(grant.ExpiresAt),
		},
		Identifier:  grant.Identifier,
		URL:         grant.URL,
		CustomerKey: grant.CustomerKey,
	}

	signed, err := ts.sign(claims)
	if err != nil {
		return QRGrant{}, "", err
	}
	return grant, signed, nil
}

// ParseGrant verifies a QR grant cookie
func (ts *TokenService) ParseGrant(token string) (QRGrant, error) {
	claims := &GrantClaims{}
	if err := ts.parse(token, grantAudience, claims); err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return QRGrant{}, ErrGrantExpired
		}
		return QRGrant{}, err
	}

	grant := QRGrant{
		Identifier:  claims.Identifier,
		URL:         claims.URL,
		CustomerKey: claims.CustomerKey,
	}
	if claims.IssuedAt != nil {
		grant.IssuedAt = claims.IssuedAt.Time
	}
	if claims.ExpiresAt != nil {
		grant.ExpiresAt = claims.ExpiresAt.Time
	}
	return grant, nil
}

func (ts *TokenService) sign(claims jwt.Claims) (string, error) {
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)

	signedString, err := token.SignedString(ts.signingKey)
	if err != nil {
		return "", errors.Wrap(err, errors.CategoryInternal, "failed to sign JWT")
	}
	return signedString, nil
}

func (ts *TokenService) parse(tokenString, audience string, claims jwt.Claims) error {
	parserOptions := []jwt.ParserOption{
		jwt.WithTimeFunc(ts.now),
		jwt.WithAudience(audience),
	}
	if ts.issuer != "" {
		parserOptions = append(parserOptions, jwt.WithIssuer(ts.issuer))
	}

	token, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			ts.logger.Error("token parse encountered unexpected signing method %v", t.Header["alg"])
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return ts.signingKey, nil
	}, parserOptions...)

	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return err
		}
		return errors.Wrap(err, ErrUnableToDecodeSession.Category, ErrUnableToDecodeSession.Message).
			WithTextCode(ErrUnableToDecodeSession.TextCode).
			WithCode(errors.CodeUnauthorized)
	}

	if !token.Valid {
		return ErrUnableToDecodeSession
	}
	return nil
}
