package middleware

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/golang-jwt/jwt/v5"
	"github.com/redis/go-redis/v9"

	"spamfilter/pkg/apperr"
	"spamfilter/pkg/logger"
)

// TokenBlacklist holds revoked token ids (jti) in Redis.
type TokenBlacklist struct {
	redis  redis.Cmdable
	prefix string
}

// NewTokenBlacklist returns nil when client is nil.
func NewTokenBlacklist(client *redis.Client) *TokenBlacklist {
	if client == nil {
		return nil
	}
	return newTokenBlacklist(client)
}

func newTokenBlacklist(store redis.Cmdable) *TokenBlacklist {
	return &TokenBlacklist{redis: store, prefix: "spamfilter:token:revoked:"}
}

// Revoke blacklists tokenID until expiry.
func (b *TokenBlacklist) Revoke(ctx context.Context, tokenID string, expiry time.Duration) error {
	if b == nil {
		return nil
	}
	return b.redis.Set(ctx, b.prefix+tokenID, "1", expiry).Err()
}

// IsRevoked fails open when Redis is unreachable.
func (b *TokenBlacklist) IsRevoked(ctx context.Context, tokenID string) bool {
	if b == nil || tokenID == "" {
		return false
	}
	n, err := b.redis.Exists(ctx, b.prefix+tokenID).Result()
	if err != nil {
		logger.WithError(err).Warn("token blacklist lookup failed")
		return false
	}
	return n > 0
}

// JWTAuth verifies an HS256 bearer token signed with secret. An empty
// secret disables authentication.
func JWTAuth(secret string, blacklist *TokenBlacklist) fiber.Handler {
	if secret == "" {
		return func(c *fiber.Ctx) error { return c.Next() }
	}
	key := []byte(secret)
	parser := jwt.NewParser(jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))

	return func(c *fiber.Ctx) error {
		if c.Method() == fiber.MethodOptions {
			return c.Next()
		}

		tokenString, ok := bearerToken(c.Get(fiber.HeaderAuthorization))
		if !ok {
			return apperr.Unauthorized("missing authorization")
		}

		claims := jwt.MapClaims{}
		token, err := parser.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (interface{}, error) {
			if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, fmt.Errorf("unsupported signing method: %v", t.Header["alg"])
			}
			return key, nil
		})
		if err != nil || !token.Valid {
			logger.WithContext(c.UserContext()).WithError(err).Warn("JWT validation failed")
			return apperr.InvalidToken("invalid token")
		}

		if jti, _ := claims["jti"].(string); blacklist.IsRevoked(c.UserContext(), jti) {
			return apperr.InvalidToken("token has been revoked")
		}

		if sub, err := claims.GetSubject(); err == nil {
			c.Locals("subject", sub)
		}
		c.Locals("claims", claims)
		return c.Next()
	}
}

// defaultRevokeTTL covers tokens issued without an exp claim.
const defaultRevokeTTL = 24 * time.Hour

// RevokeToken blacklists the caller's own token until it expires. It must
// run behind JWTAuth.
func RevokeToken(blacklist *TokenBlacklist) fiber.Handler {
	return func(c *fiber.Ctx) error {
		if blacklist == nil {
			return apperr.ResourceNotLoaded("token blacklist")
		}
		claims, ok := c.Locals("claims").(jwt.MapClaims)
		if !ok {
			return apperr.Unauthorized("no token to revoke")
		}
		jti, _ := claims["jti"].(string)
		if jti == "" {
			return apperr.MissingField("jti")
		}

		ttl := defaultRevokeTTL
		if exp, err := claims.GetExpirationTime(); err == nil && exp != nil {
			ttl = time.Until(exp.Time)
		}
		if ttl <= 0 {
			return c.JSON(fiber.Map{"revoked": jti})
		}

		if err := blacklist.Revoke(c.UserContext(), jti, ttl); err != nil {
			return apperr.Wrap(err, apperr.CodeExternalError, "failed to revoke token", fiber.StatusBadGateway)
		}
		logger.WithContext(c.UserContext()).WithField("jti", jti).Info("Token revoked")
		return c.JSON(fiber.Map{"revoked": jti})
	}
}

func bearerToken(header string) (string, bool) {
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") || strings.TrimSpace(parts[1]) == "" {
		return "", false
	}
	return strings.TrimSpace(parts[1]), true
}
