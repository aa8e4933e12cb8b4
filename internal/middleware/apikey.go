package middleware

import (
	"net/http"
	"strings"

	"github.com/gofiber/fiber/v2"

	"github.com/congo-pay/tipvault/internal/auth"
)

// APIKey rejects requests without a bearer key accepted by verifier. An
// unconfigured verifier lets every request through, which is only allowed in
// development.
func APIKey(verifier *auth.Verifier) fiber.Handler {
	return func(c *fiber.Ctx) error {
		if !verifier.Configured() {
			return c.Next()
		}
		authz := c.Get(fiber.HeaderAuthorization)
		if !strings.HasPrefix(strings.ToLower(authz), "bearer ") {
			return fiber.NewError(http.StatusUnauthorized, "missing bearer token")
		}
		if err := verifier.Verify(strings.TrimSpace(authz[len("Bearer "):])); err != nil {
			return fiber.NewError(http.StatusUnauthorized, "invalid api key")
		}
		return c.Next()
	}
}
