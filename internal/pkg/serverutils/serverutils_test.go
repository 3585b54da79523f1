package serverutils

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http/httptest"
	"strings"
	"testing"

	"mindmate-be/internal/pkg/logger"
	"mindmate-be/internal/pkg/ratelimit"
	"mindmate-be/internal/service"
	"mindmate-be/pkg/token"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStatusFor(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
		wantDetail string
	}{
		{"unauthenticated", token.ErrUnauthenticated, 401, "Could not validate credentials"},
		{"invalid credentials", service.ErrInvalidCredentials, 401, "Invalid credentials"},
		{"not found", service.ErrNotFound, 404, "Session not found"},
		{"wrapped not found", fmt.Errorf("load: %w", service.ErrNotFound), 404, "Session not found"},
		{"conflict", service.ErrConflict, 400, "Email already registered"},
		{"rate limited", ratelimit.ErrRateLimited, 429, "Too many requests"},
		{"validation", &ValidationError{Message: "email is required"}, 422, "email is required"},
		{"provider", &service.ProviderError{Detail: "GROQ_API_KEY not set"}, 500, "GROQ_API_KEY not set"},
		{"fiber", fiber.ErrMethodNotAllowed, 405, "Method Not Allowed"},
		{"unknown", errors.New("disk on fire"), 500, "Internal server error"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			status, detail := StatusFor(tt.err)
			assert.Equal(t, tt.wantStatus, status)
			assert.Equal(t, tt.wantDetail, detail)
		})
	}
}

type stubTokens struct {
	subject string
	err     error
}

func (s stubTokens) Issue(string) (string, error) { return "", nil }

func (s stubTokens) Validate(string) (string, error) { return s.subject, s.err }

func newProtectedApp(tokens token.IService) *fiber.App {
	app := fiber.New()
	app.Use(ErrorHandlerMiddleware(logger.NewNopLogger()))
	app.Get("/me", JwtMiddleware(tokens), func(c *fiber.Ctx) error {
		userId, err := GetUserId(c)
		if err != nil {
			return err
		}
		return c.SendString(userId.String())
	})
	return app
}

func TestJwtMiddleware(t *testing.T) {
	userId := uuid.New()

	tests := []struct {
		name       string
		tokens     token.IService
		header     string
		wantStatus int
	}{
		{"valid", stubTokens{subject: userId.String()}, "Bearer abc", 200},
		{"lowercase scheme", stubTokens{subject: userId.String()}, "bearer abc", 200},
		{"missing header", stubTokens{subject: userId.String()}, "", 401},
		{"wrong scheme", stubTokens{subject: userId.String()}, "Basic abc", 401},
		{"empty token", stubTokens{subject: userId.String()}, "Bearer ", 401},
		{"rejected token", stubTokens{err: token.ErrUnauthenticated}, "Bearer abc", 401},
		{"non-uuid subject", stubTokens{subject: "42"}, "Bearer abc", 401},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest("GET", "/me", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			resp, err := newProtectedApp(tt.tokens).Test(req)
			require.NoError(t, err)
			assert.Equal(t, tt.wantStatus, resp.StatusCode)

			body, _ := io.ReadAll(resp.Body)
			if tt.wantStatus == 200 {
				assert.Equal(t, userId.String(), string(body))
				return
			}
			var errBody ErrorResponse
			require.NoError(t, json.Unmarshal(body, &errBody))
			assert.Equal(t, "Could not validate credentials", errBody.Detail)
			assert.Equal(t, "Bearer", resp.Header.Get("WWW-Authenticate"))
		})
	}
}

type sample struct {
	Email     string `json:"email" validate:"required,email"`
	SessionId string `json:"session_id" validate:"required,uuid"`
}

func TestValidateRequest(t *testing.T) {
	assert.NoError(t, ValidateRequest(&sample{Email: "a@b.co", SessionId: uuid.NewString()}))

	err := ValidateRequest(&sample{Email: "nope", SessionId: "123"})
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "email must be a valid email address; session_id must be a valid UUID", verr.Message)

	err = ValidateRequest(&sample{})
	require.ErrorAs(t, err, &verr)
	assert.True(t, strings.HasPrefix(verr.Message, "email is required"))
}

func TestParseAndValidate_BadJSON(t *testing.T) {
	app := fiber.New()
	app.Use(ErrorHandlerMiddleware(logger.NewNopLogger()))
	app.Post("/x", func(c *fiber.Ctx) error {
		var s sample
		return ParseAndValidate(c, &s)
	})

	req := httptest.NewRequest("POST", "/x", strings.NewReader("{"))
	req.Header.Set("Content-Type", "application/json")
	resp, err := app.Test(req)
	require.NoError(t, err)
	assert.Equal(t, 422, resp.StatusCode)
}
