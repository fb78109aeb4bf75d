package users

import (
	"strings"

	"github.com/gofiber/fiber/v2"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

const (
	LocalsUserID   = "user_id"
	LocalsUserName = "user_name"

	tokenQueryParam = "token"
)

// AuthMiddleware rejects requests without a valid bearer token.
func AuthMiddleware(jwtService *JWTService) fiber.Handler {
	return func(c *fiber.Ctx) error {
		authHeader := c.Get(fiber.HeaderAuthorization)
		if authHeader == "" {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
				"error": "Authorization header required",
			})
		}

		if !strings.HasPrefix(authHeader, "Bearer ") {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
				"error": "Invalid authorization header format",
			})
		}

		claims, err := jwtService.VerifyToken(strings.TrimPrefix(authHeader, "Bearer "))
		if err != nil {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
				"error": "Invalid token",
			})
		}

		setClaims(c, claims)
		return c.Next()
	}
}

// OptionalAuth attaches the caller's claims when a valid token is present, in
// the Authorization header or the "token" query parameter (browsers cannot set
// headers on a websocket upgrade). Requests without a usable token pass through
// anonymously.
func OptionalAuth(jwtService *JWTService) fiber.Handler {
	return func(c *fiber.Ctx) error {
		token := strings.TrimPrefix(c.Get(fiber.HeaderAuthorization), "Bearer ")
		if token == "" {
			token = c.Query(tokenQueryParam)
		}
		if token == "" {
			return c.Next()
		}

		if claims, err := jwtService.VerifyToken(token); err == nil {
			setClaims(c, claims)
		}
		return c.Next()
	}
}

func setClaims(c *fiber.Ctx, claims *JWTClaims) {
	// VerifyToken already checked the hex form.
	userID, _ := primitive.ObjectIDFromHex(claims.UserID)
	c.Locals(LocalsUserID, userID)
	c.Locals(LocalsUserName, claims.Name)
}

// UserIDFromLocals returns the authenticated user id set by the middleware.
func UserIDFromLocals(c *fiber.Ctx) (primitive.ObjectID, bool) {
	id, ok := c.Locals(LocalsUserID).(primitive.ObjectID)
	return id, ok && !id.IsZero()
}
