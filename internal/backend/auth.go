package backend

import (
	"errors"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/golang-jwt/jwt/v5"
)

// GenerateToken mints an HS256 bearer token for a user. The dev server
// prints these so a client can be pointed at the backend without a real
// identity provider; clients themselves treat the value as opaque.
func GenerateToken(secret string, u User, ttl time.Duration) (string, error) {
	claims := jwt.MapClaims{
		"user_id":   u.ID,
		"user_name": u.Name,
		"user_role": u.Role,
		"exp":       time.Now().Add(ttl).Unix(),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(secret))
}

// ValidateToken verifies a bearer token and extracts the user it names.
func ValidateToken(secret, tokenString string) (User, error) {
	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return []byte(secret), nil
	})
	if err != nil {
		return User{}, err
	}
	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok || !token.Valid {
		return User{}, errors.New("invalid token")
	}

	var u User
	if id, ok := claims["user_id"].(string); ok {
		u.ID = id
	}
	if u.ID == "" {
		return User{}, errors.New("invalid token claims")
	}
	if name, ok := claims["user_name"].(string); ok {
		u.Name = name
	}
	if role, ok := claims["user_role"].(string); ok {
		u.Role = role
	}
	return u, nil
}

// AuthMiddleware verifies the bearer token before a request proceeds.
// Tokens arrive either as the `access_token` query param (the form the
// WebSocket handshake uses) or an Authorization header.
func AuthMiddleware(secret string) fiber.Handler {
	return func(c *fiber.Ctx) error {
		token := c.Query("access_token")
		if token == "" {
			authHeader := c.Get("Authorization")
			if len(authHeader) > 7 && authHeader[:7] == "Bearer " {
				token = authHeader[7:]
			}
		}
		if token == "" {
			return fiber.NewError(fiber.StatusUnauthorized, "Missing token")
		}

		u, err := ValidateToken(secret, token)
		if err != nil {
			return fiber.NewError(fiber.StatusUnauthorized, "Invalid token")
		}

		c.Locals("user_id", u.ID)
		c.Locals("user_name", u.Name)
		c.Locals("user_role", u.Role)
		return c.Next()
	}
}
