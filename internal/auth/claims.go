// Package auth issues and validates the JSON Web Tokens used across the
// control plane: first-party access/refresh tokens for admin users, and
// optional JWKS-backed validation for single-sign-on deployments.
package auth

import (
	"context"
	"net/url"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/lestrrat-go/jwx/v2/jwk"
	"github.com/ovmeet/control-plane/internal/apierror"
	"github.com/ovmeet/control-plane/internal/persistence"
)

// CustomClaims carries the control plane's principal identity alongside
// the standard registered claims.
type CustomClaims struct {
	Name               string           `json:"name,omitempty"`
	Role               persistence.Role `json:"role,omitempty"`
	MustChangePassword bool             `json:"mustChangePassword,omitempty"`
	jwt.RegisteredClaims
}

const tokenIssuer = "ovmeet-control-plane"

// Issuer mints first-party tokens signed with the deployment's JWT secret.
type Issuer struct {
	secret                 []byte
	accessTokenExpiration  time.Duration
	refreshTokenExpiration time.Duration
}

// NewIssuer constructs an Issuer from the validated environment secret.
func NewIssuer(secret string, accessExpiration, refreshExpiration time.Duration) *Issuer {
	return &Issuer{
		secret:                 []byte(secret),
		accessTokenExpiration:  accessExpiration,
		refreshTokenExpiration: refreshExpiration,
	}
}

// IssueAccessToken mints a short-lived token carrying the user's role.
func (i *Issuer) IssueAccessToken(u *persistence.User) (string, error) {
	return i.sign(u, i.accessTokenExpiration)
}

// IssueRefreshToken mints a longer-lived token used only to obtain a new
// access token; it omits Role/MustChangePassword since it is never used
// for authorization decisions directly.
func (i *Issuer) IssueRefreshToken(u *persistence.User) (string, error) {
	now := time.Now()
	claims := CustomClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   u.UserID,
			Issuer:    tokenIssuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(i.refreshTokenExpiration)),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(i.secret)
}

func (i *Issuer) sign(u *persistence.User, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := CustomClaims{
		Name:               u.Name,
		Role:               u.Role,
		MustChangePassword: u.MustChangePassword,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   u.UserID,
			Issuer:    tokenIssuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(i.secret)
}

// ParseToken validates a first-party token and returns its claims.
func (i *Issuer) ParseToken(tokenString string) (*CustomClaims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &CustomClaims{}, func(*jwt.Token) (any, error) {
		return i.secret, nil
	}, jwt.WithIssuer(tokenIssuer))
	if err != nil {
		return nil, apierror.Wrap(apierror.Unauthenticated, err, "invalid token")
	}
	claims, ok := token.Claims.(*CustomClaims)
	if !ok || !token.Valid {
		return nil, apierror.New(apierror.Unauthenticated, "invalid token")
	}
	return claims, nil
}

// JWKSValidator validates externally-issued tokens (SSO) against a
// remote JWKS endpoint, used only when a deployment enables SSO.
type JWKSValidator struct {
	keyFunc  jwt.Keyfunc
	issuer   string
	audience string
}

// NewJWKSValidator registers the domain's JWKS endpoint with a refreshing
// cache and confirms it is reachable before returning.
func NewJWKSValidator(ctx context.Context, domain, audience string, regOpts ...jwk.RegisterOption) (*JWKSValidator, error) {
	issuerURL, err := url.Parse("https://" + domain + "/")
	if err != nil {
		return nil, apierror.Wrap(apierror.Internal, err, "parse issuer URL")
	}
	jwksURL := issuerURL.JoinPath(".well-known/jwks.json").String()

	cache := jwk.NewCache(ctx)
	opts := append([]jwk.RegisterOption{jwk.WithRefreshInterval(time.Hour)}, regOpts...)
	if err := cache.Register(jwksURL, opts...); err != nil {
		return nil, apierror.Wrap(apierror.DependencyUnavailable, err, "register JWKS cache")
	}
	if _, err := cache.Refresh(ctx, jwksURL); err != nil {
		return nil, apierror.Wrap(apierror.DependencyUnavailable, err, "fetch initial JWKS")
	}

	keyFunc := func(token *jwt.Token) (any, error) {
		kid, ok := token.Header["kid"].(string)
		if !ok {
			return nil, apierror.New(apierror.Unauthenticated, "token missing kid header")
		}
		keys, err := cache.Get(ctx, jwksURL)
		if err != nil {
			return nil, apierror.Wrap(apierror.DependencyUnavailable, err, "fetch JWKS keys")
		}
		key, found := keys.LookupKeyID(kid)
		if !found {
			return nil, apierror.Newf(apierror.Unauthenticated, "key %q not found in JWKS", kid)
		}
		var pubKey any
		if err := key.Raw(&pubKey); err != nil {
			return nil, apierror.Wrap(apierror.Internal, err, "decode JWKS public key")
		}
		return pubKey, nil
	}

	return &JWKSValidator{keyFunc: keyFunc, issuer: issuerURL.String(), audience: audience}, nil
}

// ValidateToken validates an externally-issued token against the cached
// JWKS and the configured issuer/audience.
func (v *JWKSValidator) ValidateToken(tokenString string) (*CustomClaims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &CustomClaims{}, v.keyFunc,
		jwt.WithIssuer(v.issuer), jwt.WithAudience(v.audience))
	if err != nil {
		return nil, apierror.Wrap(apierror.Unauthenticated, err, "invalid SSO token")
	}
	claims, ok := token.Claims.(*CustomClaims)
	if !ok || !token.Valid {
		return nil, apierror.New(apierror.Unauthenticated, "invalid SSO token")
	}
	return claims, nil
}
