package middleware

import (
	"context"
	"errors"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/contractear/contractear-api/internal/config"
	"github.com/contractear/contractear-api/internal/identity"
	"github.com/contractear/contractear-api/internal/models"
	"github.com/gofiber/fiber/v2"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const secret = "test-secret"

type ensurerFunc func(ctx context.Context, userID uuid.UUID, email string) (*models.Profile, error)

func (f ensurerFunc) EnsureProfile(ctx context.Context, userID uuid.UUID, email string) (*models.Profile, error) {
	return f(ctx, userID, email)
}

func sign(t *testing.T, claims jwt.MapClaims, key string) string {
	t.Helper()
	s, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(key))
	require.NoError(t, err)
	return s
}

func newApp(ensurer ProfileEnsurer) *fiber.App {
	app := fiber.New()
	cfg := &config.Config{JWTSecret: secret}
	app.Get("/me", JWTProtected(cfg), EnsureProfile(ensurer), func(c *fiber.Ctx) error {
		id, err := identity.GetUserID(c)
		if err != nil {
			return err
		}
		return c.SendString(id.String())
	})
	return app
}

func TestJWTProtected(t *testing.T) {
	userID := uuid.New()
	var seen []string
	app := newApp(ensurerFunc(func(_ context.Context, id uuid.UUID, email string) (*models.Profile, error) {
		seen = append(seen, id.String()+"|"+email)
		return &models.Profile{ID: id}, nil
	}))

	cases := []struct {
		name  string
		token string
		want  int
	}{
		{"valid", sign(t, jwt.MapClaims{"sub": userID.String(), "email": "a@b.co", "exp": time.Now().Add(time.Hour).Unix()}, secret), fiber.StatusOK},
		{"wrong key", sign(t, jwt.MapClaims{"sub": userID.String()}, "other"), fiber.StatusUnauthorized},
		{"expired", sign(t, jwt.MapClaims{"sub": userID.String(), "exp": time.Now().Add(-time.Hour).Unix()}, secret), fiber.StatusUnauthorized},
		{"missing", "", fiber.StatusUnauthorized},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest("GET", "/me", nil)
			if tc.token != "" {
				req.Header.Set("Authorization", "Bearer "+tc.token)
			}
			resp, err := app.Test(req)
			require.NoError(t, err)
			assert.Equal(t, tc.want, resp.StatusCode)
		})
	}
	assert.Equal(t, []string{userID.String() + "|a@b.co"}, seen)
}

func TestEnsureProfile_StoreFailure(t *testing.T) {
	app := newApp(ensurerFunc(func(context.Context, uuid.UUID, string) (*models.Profile, error) {
		return nil, errors.New("db down")
	}))
	req := httptest.NewRequest("GET", "/me", nil)
	req.Header.Set("Authorization", "Bearer "+sign(t, jwt.MapClaims{"sub": uuid.NewString()}, secret))

	resp, err := app.Test(req)

	require.NoError(t, err)
	assert.Equal(t, fiber.StatusInternalServerError, resp.StatusCode)
}
