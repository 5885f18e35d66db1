package identity

import (
	"net/http/httptest"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetUserID(t *testing.T) {
	id := uuid.New()
	cases := []struct {
		name    string
		token   interface{}
		wantErr bool
		email   string
	}{
		{"valid", jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{"sub": id.String(), "email": "a@b.co"}), false, "a@b.co"},
		{"missing sub", jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{"email": "a@b.co"}), true, "a@b.co"},
		{"bad uuid", jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{"sub": "nope"}), true, ""},
		{"no token", nil, true, ""},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			app := fiber.New()
			app.Get("/", func(c *fiber.Ctx) error {
				if tc.token != nil {
					c.Locals(LocalsKey, tc.token)
				}
				got, err := GetUserID(c)
				if tc.wantErr {
					assert.Error(t, err)
				} else {
					assert.NoError(t, err)
					assert.Equal(t, id, got)
				}
				assert.Equal(t, tc.email, GetEmail(c))
				return c.SendStatus(fiber.StatusNoContent)
			})

			resp, err := app.Test(httptest.NewRequest("GET", "/", nil))
			require.NoError(t, err)
			assert.Equal(t, fiber.StatusNoContent, resp.StatusCode)
		})
	}
}
