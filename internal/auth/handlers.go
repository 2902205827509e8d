package auth

import "github.com/gofiber/fiber/v2"

// RegisterRoutes exposes token verification for devices and backends sharing the secret.
func RegisterRoutes(r fiber.Router, secret string) {
	r.Get("/jwt/verify", JWTMiddleware(secret), func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"user_id": c.Locals("user_id")})
	})
}
