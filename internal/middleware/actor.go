package middleware

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"

	"cargorapido/internal/domain"
)

const (
	actorContextKey = "actor"

	authHeader      = "Authorization"
	bearerPrefix    = "Bearer "
	actorIDHeader   = "X-Actor-ID"
	actorRoleHeader = "X-Actor-Role"
)

var (
	errMissingIdentity = errors.New("missing actor identity")
	errInvalidToken    = errors.New("invalid token")
	errInvalidRole     = errors.New("invalid actor role")
)

// ActorConfig configures how the caller's identity is established.
type ActorConfig struct {
	// JWTSecret enables HS256 bearer tokens. When empty the X-Actor-ID and
	// X-Actor-Role headers are trusted, which is only meant for development.
	JWTSecret string
	SkipPaths []string
}

// ActorMiddleware resolves the calling actor and stores it in the gin context.
func ActorMiddleware(cfg ActorConfig) gin.HandlerFunc {
	secret := []byte(cfg.JWTSecret)

	return func(c *gin.Context) {
		for _, p := range cfg.SkipPaths {
			if c.Request.URL.Path == p {
				c.Next()
				return
			}
		}

		var (
			actor domain.Actor
			err   error
		)
		if len(secret) > 0 {
			actor, err = actorFromToken(c.GetHeader(authHeader), secret)
		} else {
			actor, err = actorFromHeaders(c)
		}
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": err.Error()})
			return
		}

		c.Set(actorContextKey, actor)
		c.Next()
	}
}

// ActorFromContext returns the actor resolved by ActorMiddleware.
func ActorFromContext(c *gin.Context) (domain.Actor, bool) {
	v, ok := c.Get(actorContextKey)
	if !ok {
		return domain.Actor{}, false
	}
	actor, ok := v.(domain.Actor)
	return actor, ok
}

// IssueToken signs a token for the actor. Used by operators and tests.
func IssueToken(secret string, actor domain.Actor, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := jwt.MapClaims{
		"sub":  actor.ID,
		"role": string(actor.Role),
		"iat":  now.Unix(),
		"exp":  now.Add(ttl).Unix(),
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
}

func actorFromToken(header string, secret []byte) (domain.Actor, error) {
	if header == "" {
		return domain.Actor{}, errMissingIdentity
	}
	if !strings.HasPrefix(header, bearerPrefix) {
		return domain.Actor{}, errInvalidToken
	}

	token, err := jwt.Parse(strings.TrimPrefix(header, bearerPrefix), func(*jwt.Token) (any, error) {
		return secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithExpirationRequired())
	if err != nil || !token.Valid {
		return domain.Actor{}, errInvalidToken
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return domain.Actor{}, errInvalidToken
	}
	sub, err := claims.GetSubject()
	if err != nil || sub == "" {
		return domain.Actor{}, errInvalidToken
	}
	roleClaim, _ := claims["role"].(string)
	role, ok := domain.ParseRole(roleClaim)
	if !ok {
		return domain.Actor{}, errInvalidRole
	}
	return domain.Actor{ID: sub, Role: role}, nil
}

func actorFromHeaders(c *gin.Context) (domain.Actor, error) {
	id := strings.TrimSpace(c.GetHeader(actorIDHeader))
	if id == "" {
		return domain.Actor{}, errMissingIdentity
	}
	role, ok := domain.ParseRole(c.GetHeader(actorRoleHeader))
	if !ok {
		return domain.Actor{}, errInvalidRole
	}
	return domain.Actor{ID: id, Role: role}, nil
}
