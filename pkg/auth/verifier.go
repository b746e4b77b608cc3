package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/coreos/go-oidc/v3/oidc"
	"github.com/golang-jwt/jwt/v5"

	"github.com/platinummonkey/shopadmin/pkg/apperr"
)

// ErrInvalidToken is returned for any token that fails verification
var ErrInvalidToken = &apperr.Error{Kind: apperr.KindUnauthorized, Code: "invalid_token", Message: "invalid or expired token"}

func invalidToken(message string, err error) *apperr.Error {
	return &apperr.Error{Kind: apperr.KindUnauthorized, Code: ErrInvalidToken.Code, Message: message, Err: err}
}

// Verifier turns a raw bearer token into an AuthContext
type Verifier interface {
	Verify(ctx context.Context, rawToken string) (*AuthContext, error)
}

// Claims is the token payload shared by the OIDC and HMAC verifiers
type Claims struct {
	PreferredUsername string   `json:"preferred_username,omitempty"`
	Email             string   `json:"email,omitempty"`
	Roles             []string `json:"roles,omitempty"`
	jwt.RegisteredClaims
}

func (c *Claims) toAuthContext() *AuthContext {
	ac := &AuthContext{
		Subject:  c.Subject,
		Username: c.PreferredUsername,
		Email:    c.Email,
		Roles:    c.Roles,
		Issuer:   c.Issuer,
	}
	if ac.Username == "" {
		ac.Username = c.Subject
	}
	if c.ExpiresAt != nil {
		ac.ExpiresAt = c.ExpiresAt.Time
	}
	return ac
}

// OIDCVerifier verifies ID tokens issued by an external OpenID Connect provider
type OIDCVerifier struct {
	verifier *oidc.IDTokenVerifier
}

// NewOIDCVerifier discovers the provider at issuerURL. clientID is the
// expected audience.
func NewOIDCVerifier(ctx context.Context, issuerURL, clientID string) (*OIDCVerifier, error) {
	provider, err := oidc.NewProvider(ctx, issuerURL)
	if err != nil {
		return nil, fmt.Errorf("failed to create OIDC provider: %w", err)
	}
	return &OIDCVerifier{
		verifier: provider.Verifier(&oidc.Config{ClientID: clientID}),
	}, nil
}

// NewOIDCVerifierWithKeySet builds a verifier from a fixed key set, for
// providers without discovery.
func NewOIDCVerifierWithKeySet(issuerURL, clientID string, keySet oidc.KeySet) *OIDCVerifier {
	return &OIDCVerifier{
		verifier: oidc.NewVerifier(issuerURL, keySet, &oidc.Config{ClientID: clientID}),
	}
}

func (v *OIDCVerifier) Verify(ctx context.Context, rawToken string) (*AuthContext, error) {
	idToken, err := v.verifier.Verify(ctx, rawToken)
	if err != nil {
		return nil, invalidToken(ErrInvalidToken.Message, err)
	}

	var claims Claims
	if err := idToken.Claims(&claims); err != nil {
		return nil, invalidToken("failed to parse claims", err)
	}
	claims.Subject = idToken.Subject
	claims.Issuer = idToken.Issuer
	claims.ExpiresAt = jwt.NewNumericDate(idToken.Expiry)
	return claims.toAuthContext(), nil
}

// HMACVerifier verifies HS256 tokens signed with a shared secret. It is
// meant for local development and tests.
type HMACVerifier struct {
	secret []byte
	issuer string
}

// NewHMACVerifier creates a verifier for tokens signed with secret. When
// issuer is non-empty the iss claim must match it.
func NewHMACVerifier(secret, issuer string) (*HMACVerifier, error) {
	if len(secret) < 16 {
		return nil, fmt.Errorf("hmac secret must be at least 16 bytes")
	}
	return &HMACVerifier{secret: []byte(secret), issuer: issuer}, nil
}

func (v *HMACVerifier) Verify(_ context.Context, rawToken string) (*AuthContext, error) {
	opts := []jwt.ParserOption{jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithExpirationRequired()}
	if v.issuer != "" {
		opts = append(opts, jwt.WithIssuer(v.issuer))
	}

	token, err := jwt.ParseWithClaims(rawToken, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		return v.secret, nil
	}, opts...)
	if err != nil || !token.Valid {
		return nil, invalidToken(ErrInvalidToken.Message, err)
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || claims.Subject == "" {
		return nil, ErrInvalidToken
	}
	return claims.toAuthContext(), nil
}

// Mint signs a token for subject valid for ttl
func (v *HMACVerifier) Mint(subject, username string, roles []string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := Claims{
		PreferredUsername: username,
		Roles:             roles,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			Issuer:    v.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(v.secret)
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}
	return signed, nil
}

// ChainVerifier tries each verifier in order and returns the first success
type ChainVerifier []Verifier

func (c ChainVerifier) Verify(ctx context.Context, rawToken string) (*AuthContext, error) {
	var errs []error
	for _, v := range c {
		ac, err := v.Verify(ctx, rawToken)
		if err == nil {
			return ac, nil
		}
		errs = append(errs, err)
	}
	if len(errs) == 0 {
		return nil, ErrInvalidToken
	}
	return nil, invalidToken(ErrInvalidToken.Message, errors.Join(errs...))
}

// BearerToken extracts the token from an Authorization header value
func BearerToken(header string) (string, bool) {
	scheme, token, ok := strings.Cut(strings.TrimSpace(header), " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}
