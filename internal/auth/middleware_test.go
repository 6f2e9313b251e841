package auth

import (
	"encoding/json"
	"io"
	"net/http/httptest"
	"testing"

	"github.com/gofiber/fiber/v2"

	"serialspec/internal/engine"
	"serialspec/internal/metadata"
)

const testSecret = "test-secret"

func newApp() *fiber.App {
	app := fiber.New(fiber.Config{ErrorHandler: engine.ErrorHandler(nil)})
	app.Use(Middleware(testSecret))
	app.Get("/whoami", func(c *fiber.Ctx) error {
		user, _ := c.Locals("user").(*metadata.UserContext)
		if user == nil {
			return c.JSON(fiber.Map{"anonymous": true})
		}
		return c.JSON(user)
	})
	return app
}

func TestMiddleware_AnonymousRequestPassesThrough(t *testing.T) {
	resp, err := newApp().Test(httptest.NewRequest("GET", "/whoami", nil), -1)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != 200 || string(body) != `{"anonymous":true}` {
		t.Fatalf("unexpected response %d: %s", resp.StatusCode, body)
	}
}

func TestMiddleware_ValidTokenSetsUser(t *testing.T) {
	token, err := GenerateAccessToken("u1", []string{"staff"}, testSecret)
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	req := httptest.NewRequest("GET", "/whoami", nil)
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := newApp().Test(req, -1)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	var user metadata.UserContext
	if err := json.NewDecoder(resp.Body).Decode(&user); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if user.ID != "u1" || len(user.Roles) != 1 || user.Roles[0] != "staff" {
		t.Fatalf("unexpected user: %+v", user)
	}
}

func TestMiddleware_RejectsBadTokens(t *testing.T) {
	other, err := GenerateAccessToken("u1", nil, "other-secret")
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	for name, header := range map[string]string{
		"wrong scheme": "Basic abc",
		"garbage":      "Bearer not-a-token",
		"wrong secret": "Bearer " + other,
	} {
		req := httptest.NewRequest("GET", "/whoami", nil)
		req.Header.Set("Authorization", header)
		resp, err := newApp().Test(req, -1)
		if err != nil {
			t.Fatalf("%s: request failed: %v", name, err)
		}
		var body engine.ErrorResponse
		if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
			t.Fatalf("%s: decode: %v", name, err)
		}
		if resp.StatusCode != 401 || body.Error.Code != "UNAUTHORIZED" {
			t.Fatalf("%s: expected 401 UNAUTHORIZED, got %d %+v", name, resp.StatusCode, body.Error)
		}
	}
}

func TestParseAccessToken_RoundTrip(t *testing.T) {
	token, err := GenerateAccessToken("u2", []string{"admin"}, testSecret)
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	claims, err := ParseAccessToken(token, testSecret)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if claims.Subject != "u2" || claims.Roles[0] != "admin" {
		t.Fatalf("unexpected claims: %+v", claims)
	}
}
