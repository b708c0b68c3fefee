package identity

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"fulfillment-service/internal/models"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

var signingMethod = jwt.SigningMethodHS256

var (
	ErrMissingToken = errors.New("bearer token is required")
	ErrInvalidToken = errors.New("bearer token is invalid")
)

// Claims is the access token payload: the actor id travels as the subject.
type Claims struct {
	Role models.Role `json:"role"`
	jwt.RegisteredClaims
}

// Config holds the shared HS256 secret and expected issuer.
type Config struct {
	Secret string
	Issuer string
	TTL    time.Duration
}

// Resolver turns bearer tokens into actors.
type Resolver struct {
	secret []byte
	issuer string
	ttl    time.Duration
	parser *jwt.Parser
}

func NewResolver(cfg Config) (*Resolver, error) {
	if strings.TrimSpace(cfg.Secret) == "" {
		return nil, fmt.Errorf("jwt secret is required")
	}
	if cfg.TTL <= 0 {
		cfg.TTL = time.Hour
	}

	opts := []jwt.ParserOption{jwt.WithValidMethods([]string{signingMethod.Alg()})}
	if cfg.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(cfg.Issuer))
	}

	return &Resolver{
		secret: []byte(cfg.Secret),
		issuer: cfg.Issuer,
		ttl:    cfg.TTL,
		parser: jwt.NewParser(opts...),
	}, nil
}

// Mint issues a token for actor. Used by tooling and tests; production tokens
// come from the identity service with the same secret.
func (r *Resolver) Mint(actor models.Actor, now time.Time) (string, error) {
	if strings.TrimSpace(actor.ID) == "" {
		return "", fmt.Errorf("actor id is required")
	}
	if !actor.Role.Valid() {
		return "", fmt.Errorf("invalid role %q", actor.Role)
	}

	claims := Claims{
		Role: actor.Role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   actor.ID,
			Issuer:    r.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(r.ttl)),
			ID:        uuid.NewString(),
		},
	}

	signed, err := jwt.NewWithClaims(signingMethod, claims).SignedString(r.secret)
	if err != nil {
		return "", fmt.Errorf("signing jwt: %w", err)
	}
	return signed, nil
}

// Resolve validates tokenString and returns the actor it names.
func (r *Resolver) Resolve(tokenString string) (models.Actor, error) {
	tokenString = strings.TrimSpace(tokenString)
	if tokenString == "" {
		return models.Actor{}, ErrMissingToken
	}

	claims := &Claims{}
	_, err := r.parser.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		if token.Method != signingMethod {
			return nil, fmt.Errorf("unexpected signing method %s", token.Header["alg"])
		}
		return r.secret, nil
	})
	if err != nil {
		return models.Actor{}, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	if strings.TrimSpace(claims.Subject) == "" || !claims.Role.Valid() {
		return models.Actor{}, fmt.Errorf("%w: subject and a known role are required", ErrInvalidToken)
	}
	return models.Actor{ID: claims.Subject, Role: claims.Role}, nil
}

// FromAuthorizationHeader extracts the token from a "Bearer <token>" header value.
func FromAuthorizationHeader(header string) string {
	parts := strings.SplitN(strings.TrimSpace(header), " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}
