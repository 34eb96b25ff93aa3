// Package auth verifies bearer credentials issued by the external
// account service. The chat core never signs tokens; it only checks
// them and extracts the caller identity.
package auth

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"

	"github.com/uaroundserver/chatcore/internal/chaterr"
)

// contextKey is a custom type for context keys.
type contextKey string

const identityContextKey contextKey = "identity"

// Identity is the verified caller extracted from a token.
type Identity struct {
	UserID string
	Email  string
}

// DisplayName derives the default display name the way the account
// service does: the local part of the email, or a generic fallback.
func (id Identity) DisplayName() string {
	if at := strings.Index(id.Email, "@"); at > 0 {
		return id.Email[:at]
	}
	return "user"
}

// Verifier checks bearer tokens against the shared signing secret.
type Verifier struct {
	secret []byte
}

// NewVerifier creates a verifier for tokens signed with secret.
func NewVerifier(secret string) *Verifier {
	return &Verifier{secret: []byte(secret)}
}

// Verify parses and validates a raw token. A leading "Bearer " prefix
// is tolerated, matching what clients put in the handshake.
func (v *Verifier) Verify(raw string) (*Identity, error) {
	raw = strings.TrimSpace(raw)
	if after, ok := strings.CutPrefix(raw, "Bearer "); ok {
		raw = after
	}
	if raw == "" {
		return nil, chaterr.New(chaterr.KindUnauthenticated, "no token")
	}

	token, err := jwt.Parse(raw, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return v.secret, nil
	})
	if err != nil || !token.Valid {
		return nil, chaterr.Wrap(chaterr.KindUnauthenticated, "invalid token", err)
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return nil, chaterr.New(chaterr.KindUnauthenticated, "invalid token")
	}

	// Tokens carry the user id either as a userId claim or as sub,
	// depending on which issuer version minted them.
	id := &Identity{}
	if v, ok := claims["userId"].(string); ok {
		id.UserID = v
	} else if v, ok := claims["sub"].(string); ok {
		id.UserID = v
	}
	if v, ok := claims["email"].(string); ok {
		id.Email = v
	}
	if id.UserID == "" {
		return nil, chaterr.New(chaterr.KindUnauthenticated, "invalid token")
	}
	return id, nil
}

// FromRequest extracts and verifies the credential on an HTTP request.
// The token may arrive in the Authorization header or, for websocket
// handshakes where headers are awkward, a token query parameter.
func (v *Verifier) FromRequest(r *http.Request) (*Identity, error) {
	raw := r.Header.Get("Authorization")
	if raw == "" {
		raw = r.URL.Query().Get("token")
	}
	return v.Verify(raw)
}

// Middleware rejects unauthenticated requests and stashes the caller
// identity in the request context.
func (v *Verifier) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id, err := v.FromRequest(r)
		if err != nil {
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}
		ctx := context.WithValue(r.Context(), identityContextKey, id)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// IdentityFromContext retrieves the verified identity from the request
// context.
func IdentityFromContext(ctx context.Context) *Identity {
	id, ok := ctx.Value(identityContextKey).(*Identity)
	if !ok {
		return nil
	}
	return id
}
