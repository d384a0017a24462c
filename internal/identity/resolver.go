package identity

import (
	"fmt"
	"net"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/voxlane/voxlane/internal/abuse"
	"github.com/voxlane/voxlane/internal/usage"
)

// SessionClaims are the claims the session service issues. This engine only
// consumes them; issuing and refresh live elsewhere.
type SessionClaims struct {
	UserID string `json:"uid"`
	Tier   string `json:"tier"`
	jwt.RegisteredClaims
}

// Caller is the resolved identity of one request. Anonymous callers have no
// UserID and key rate limiting off IP plus device fingerprint.
type Caller struct {
	UserID      *uuid.UUID
	Tier        usage.Tier
	IP          string
	UserAgent   string
	Fingerprint string
}

// Anonymous reports whether the caller carries no authenticated user.
func (c Caller) Anonymous() bool {
	return c.UserID == nil
}

// Key is the identity key used by the rate limiter and abuse detector.
func (c Caller) Key() string {
	if c.UserID != nil {
		return "user:" + c.UserID.String()
	}
	return "anon:" + c.IP + ":" + c.Fingerprint
}

// Resolver turns an HTTP request into a Caller by validating the session
// token when one is present.
type Resolver struct {
	secret []byte
}

// NewResolver creates a Resolver. An empty secret disables token validation,
// making every caller anonymous.
func NewResolver(secret string) *Resolver {
	return &Resolver{secret: []byte(secret)}
}

// Resolve never fails: an invalid or absent token yields an anonymous caller.
func (r *Resolver) Resolve(req *http.Request) Caller {
	caller := Caller{
		IP:        clientIP(req),
		UserAgent: req.Header.Get("User-Agent"),
		Fingerprint: abuse.Fingerprint(
			req.Header.Get("User-Agent"),
			req.Header.Get("Accept-Language"),
			req.Header.Get("Accept-Encoding"),
		),
		Tier: usage.TierFree,
	}

	token := bearerToken(req)
	if token == "" || len(r.secret) == 0 {
		return caller
	}

	claims, err := r.validate(token)
	if err != nil {
		return caller
	}
	userID, err := uuid.Parse(claims.UserID)
	if err != nil {
		return caller
	}

	caller.UserID = &userID
	caller.Tier = usage.ParseTier(claims.Tier)
	return caller
}

func (r *Resolver) validate(tokenStr string) (*SessionClaims, error) {
	token, err := jwt.ParseWithClaims(tokenStr, &SessionClaims{}, func(token *jwt.Token) (any, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return r.secret, nil
	})
	if err != nil {
		return nil, fmt.Errorf("parsing session token: %w", err)
	}
	claims, ok := token.Claims.(*SessionClaims)
	if !ok || !token.Valid {
		return nil, fmt.Errorf("invalid session token")
	}
	return claims, nil
}

func bearerToken(req *http.Request) string {
	header := req.Header.Get("Authorization")
	if strings.HasPrefix(header, "Bearer ") {
		return strings.TrimPrefix(header, "Bearer ")
	}
	return ""
}

func clientIP(r *http.Request) string {
	// X-Forwarded-For is set by the trusted reverse proxy; take the first hop.
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		if i := strings.IndexByte(xff, ','); i >= 0 {
			return strings.TrimSpace(xff[:i])
		}
		return xff
	}
	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		return xri
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
