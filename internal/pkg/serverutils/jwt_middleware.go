package serverutils

import (
	"strings"

	"mindmate-be/pkg/token"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
)

const userIdLocal = "user_id"

// JwtMiddleware validates the bearer token and stores the subject in Locals.
// Tokens are stateless; the user row is not consulted.
func JwtMiddleware(tokens token.IService) fiber.Handler {
	return func(ctx *fiber.Ctx) error {
		authHeader := ctx.Get(fiber.HeaderAuthorization)
		scheme, tokenStr, found := strings.Cut(authHeader, " ")
		if !found || !strings.EqualFold(scheme, "Bearer") || tokenStr == "" {
			return token.ErrUnauthenticated
		}

		subject, err := tokens.Validate(strings.TrimSpace(tokenStr))
		if err != nil {
			return token.ErrUnauthenticated
		}
		userId, err := uuid.Parse(subject)
		if err != nil {
			return token.ErrUnauthenticated
		}

		ctx.Locals(userIdLocal, userId)
		return ctx.Next()
	}
}

// GetUserId returns the authenticated user set by JwtMiddleware.
func GetUserId(ctx *fiber.Ctx) (uuid.UUID, error) {
	userId, ok := ctx.Locals(userIdLocal).(uuid.UUID)
	if !ok {
		return uuid.Nil, token.ErrUnauthenticated
	}
	return userId, nil
}
