// Package middleware implements the boundary-only authentication layer
// in front of the exec-server HTTP surface: bcrypt-hashed API keys for
// service callers, and golang-jwt session tokens for interactive CLI
// use. Grounded on the reference's gateway auth middleware (bearer
// extraction, policy-gated Next()) and its user-service token issuing
// shape (auth_token.go's HS256 claims).
package middleware

import (
	"context"
	stderrors "errors"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"

	appErr "coderunner/pkg/errors"
	"coderunner/pkg/utils/response"
)

// KeyStore resolves an API key's identifier to its bcrypt hash.
type KeyStore interface {
	// LookupHash returns the bcrypt hash stored for keyID, or
	// appErr.APIKeyNotFound if no such key is registered.
	LookupHash(ctx context.Context, keyID string) (hash string, err error)
}

// StaticKeyStore resolves API keys from a fixed keyID-to-bcrypt-hash
// map loaded once from configuration.
type StaticKeyStore struct {
	hashes map[string]string
}

// NewStaticKeyStore builds a StaticKeyStore.
func NewStaticKeyStore(hashes map[string]string) *StaticKeyStore {
	return &StaticKeyStore{hashes: hashes}
}

// LookupHash implements KeyStore.
func (s *StaticKeyStore) LookupHash(_ context.Context, keyID string) (string, error) {
	hash, ok := s.hashes[keyID]
	if !ok {
		return "", appErr.New(appErr.APIKeyNotFound).WithDetail("key_id", keyID)
	}
	return hash, nil
}

// sessionClaims is the payload carried by execli session tokens.
type sessionClaims struct {
	KeyID string `json:"kid"`
	jwt.RegisteredClaims
}

// TokenIssuer signs and verifies execli session tokens.
type TokenIssuer struct {
	secret []byte
	issuer string
	ttl    time.Duration
}

// NewTokenIssuer builds a TokenIssuer.
func NewTokenIssuer(secret []byte, issuer string, ttl time.Duration) *TokenIssuer {
	return &TokenIssuer{secret: secret, issuer: issuer, ttl: ttl}
}

// Issue mints a session token bound to keyID.
func (t *TokenIssuer) Issue(keyID string) (string, time.Time, error) {
	if len(t.secret) == 0 {
		return "", time.Time{}, appErr.New(appErr.TokenGenerationFailed)
	}
	now := time.Now()
	expiresAt := now.Add(t.ttl)
	claims := sessionClaims{
		KeyID: keyID,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   keyID,
			Issuer:    t.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	raw, err := token.SignedString(t.secret)
	if err != nil {
		return "", time.Time{}, appErr.Wrap(err, appErr.TokenGenerationFailed)
	}
	return raw, expiresAt, nil
}

func (t *TokenIssuer) parse(raw string) (*sessionClaims, error) {
	parsed, err := jwt.ParseWithClaims(raw, &sessionClaims{}, func(token *jwt.Token) (interface{}, error) {
		if token.Method != jwt.SigningMethodHS256 {
			return nil, appErr.New(appErr.TokenInvalid)
		}
		return t.secret, nil
	})
	if err != nil {
		if stderrors.Is(err, jwt.ErrTokenExpired) {
			return nil, appErr.New(appErr.TokenExpired)
		}
		return nil, appErr.New(appErr.TokenInvalid)
	}
	claims, ok := parsed.Claims.(*sessionClaims)
	if !ok || !parsed.Valid || claims.Subject == "" {
		return nil, appErr.New(appErr.TokenInvalid)
	}
	if t.issuer != "" && claims.Issuer != t.issuer {
		return nil, appErr.New(appErr.TokenInvalid)
	}
	return claims, nil
}

// APIKey enforces a bcrypt-verified API key on every request, accepted
// either as "Authorization: ApiKey {keyID}.{secret}" or as a bearer
// session token minted by TokenIssuer. A nil KeyStore disables
// enforcement (local/dev use only).
func APIKey(store KeyStore, issuer *TokenIssuer) gin.HandlerFunc {
	return func(c *gin.Context) {
		if store == nil {
			c.Next()
			return
		}
		header := c.GetHeader("Authorization")
		scheme, credential := splitAuthHeader(header)

		var keyID string
		switch strings.ToLower(scheme) {
		case "apikey":
			id, secret, ok := splitCredential(credential)
			if !ok {
				response.AbortWithErrorCode(c, appErr.Unauthorized, "malformed API key")
				return
			}
			hash, err := store.LookupHash(c.Request.Context(), id)
			if err != nil {
				response.AbortWithError(c, err)
				return
			}
			if bcrypt.CompareHashAndPassword([]byte(hash), []byte(secret)) != nil {
				response.AbortWithErrorCode(c, appErr.Unauthorized, "invalid API key")
				return
			}
			keyID = id
		case "bearer":
			if issuer == nil {
				response.AbortWithErrorCode(c, appErr.Unauthorized, "session tokens are not enabled")
				return
			}
			claims, err := issuer.parse(credential)
			if err != nil {
				response.AbortWithError(c, err)
				return
			}
			keyID = claims.KeyID
		default:
			response.AbortWithErrorCode(c, appErr.Unauthorized, "missing credentials")
			return
		}

		c.Set("api_key_id", keyID)
		c.Next()
	}
}

// loginRequest is the POST /auth/login body: a bcrypt-verified API key
// exchanged for a short-lived bearer session token.
type loginRequest struct {
	KeyID  string `json:"keyId" binding:"required"`
	Secret string `json:"secret" binding:"required"`
}

type loginResponse struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expiresAt"`
}

// LoginHandler exchanges a caller's API key for a bearer session token,
// for use by cmd/execli's interactive session.
func LoginHandler(store KeyStore, issuer *TokenIssuer) gin.HandlerFunc {
	return func(c *gin.Context) {
		if store == nil || issuer == nil {
			response.AbortWithErrorCode(c, appErr.Unauthorized, "session tokens are not enabled")
			return
		}
		var req loginRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			response.AbortWithErrorCode(c, appErr.Unauthorized, "keyId and secret are required")
			return
		}
		hash, err := store.LookupHash(c.Request.Context(), req.KeyID)
		if err != nil {
			response.AbortWithError(c, err)
			return
		}
		if bcrypt.CompareHashAndPassword([]byte(hash), []byte(req.Secret)) != nil {
			response.AbortWithErrorCode(c, appErr.Unauthorized, "invalid API key")
			return
		}
		token, expiresAt, err := issuer.Issue(req.KeyID)
		if err != nil {
			response.AbortWithError(c, err)
			return
		}
		c.JSON(200, loginResponse{Token: token, ExpiresAt: expiresAt})
	}
}

func splitAuthHeader(header string) (scheme, credential string) {
	parts := strings.SplitN(strings.TrimSpace(header), " ", 2)
	if len(parts) != 2 {
		return "", ""
	}
	return parts[0], strings.TrimSpace(parts[1])
}

func splitCredential(credential string) (id, secret string, ok bool) {
	parts := strings.SplitN(credential, ".", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", false
	}
	return parts[0], parts[1], true
}
