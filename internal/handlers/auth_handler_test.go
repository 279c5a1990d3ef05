package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/jackc/pgx/v5"
	"github.com/oaa-dev/service-system-sub003/internal/middleware"
	"github.com/oaa-dev/service-system-sub003/internal/models"
	"github.com/oaa-dev/service-system-sub003/internal/repository"
	"github.com/oaa-dev/service-system-sub003/pkg/utils"
	"github.com/rs/zerolog"
)

const authTestSecret = "auth-secret"

type stubUserAccounts struct {
	byEmail map[string]*models.User
	nextID  int64
}

func newStubUserAccounts() *stubUserAccounts {
	return &stubUserAccounts{byEmail: map[string]*models.User{}, nextID: 1}
}

func (s *stubUserAccounts) CreateUser(_ context.Context, user *models.User) error {
	if _, exists := s.byEmail[user.Email]; exists {
		return repository.ErrDuplicate
	}
	user.ID = s.nextID
	s.nextID++
	s.byEmail[user.Email] = user
	return nil
}

func (s *stubUserAccounts) GetByEmail(_ context.Context, email string) (*models.User, error) {
	user, ok := s.byEmail[email]
	if !ok {
		return nil, pgx.ErrNoRows
	}
	return user, nil
}

func (s *stubUserAccounts) GetByID(_ context.Context, id int64) (*models.User, error) {
	for _, user := range s.byEmail {
		if user.ID == id {
			return user, nil
		}
	}
	return nil, pgx.ErrNoRows
}

func newAuthTestApp(users *stubUserAccounts) *fiber.App {
	handler := NewAuthHandler(users, authTestSecret, zerolog.Nop())

	app := fiber.New()
	app.Post("/api/auth/register", handler.Register)
	app.Post("/api/auth/login", handler.Login)
	app.Get("/api/auth/me", middleware.AuthRequired(authTestSecret), handler.Me)
	return app
}

func decodeAuth(t *testing.T, body envelope) authResponse {
	t.Helper()

	var auth authResponse
	if err := json.Unmarshal(body.Data, &auth); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	return auth
}

func TestRegisterCreatesUserAndToken(t *testing.T) {
	users := newStubUserAccounts()
	app := newAuthTestApp(users)

	resp, body := doRequest(t, app, http.MethodPost, "/api/auth/register",
		`{"email":" Alice@Example.com ","password":"password123","name":"Alice"}`)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("expected 201, got %d", resp.StatusCode)
	}

	auth := decodeAuth(t, body)
	if auth.User == nil || auth.User.Email != "alice@example.com" || auth.User.Name != "Alice" {
		t.Fatalf("unexpected user: %+v", auth.User)
	}

	claims, err := utils.ValidateToken(auth.Token, authTestSecret)
	if err != nil {
		t.Fatalf("ValidateToken: %v", err)
	}
	if claims.UserID != auth.User.ID {
		t.Fatalf("expected token for user %d, got %d", auth.User.ID, claims.UserID)
	}
	if users.byEmail["alice@example.com"].PasswordHash == "password123" {
		t.Fatal("password must be hashed")
	}
}

func TestRegisterRejectsInvalidAndDuplicate(t *testing.T) {
	users := newStubUserAccounts()
	app := newAuthTestApp(users)

	resp, body := doRequest(t, app, http.MethodPost, "/api/auth/register",
		`{"email":"not-an-email","password":"short","name":""}`)
	if resp.StatusCode != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422, got %d", resp.StatusCode)
	}
	for _, field := range []string{"email", "password", "name"} {
		if body.Error.Details[field] == "" {
			t.Fatalf("expected detail for %s, got %+v", field, body.Error.Details)
		}
	}

	payload := `{"email":"bob@example.com","password":"password123","name":"Bob"}`
	if resp, _ := doRequest(t, app, http.MethodPost, "/api/auth/register", payload); resp.StatusCode != http.StatusCreated {
		t.Fatalf("expected 201, got %d", resp.StatusCode)
	}
	resp, body = doRequest(t, app, http.MethodPost, "/api/auth/register", payload)
	if resp.StatusCode != http.StatusConflict || body.Error.Code != "email_taken" {
		t.Fatalf("expected 409 email_taken, got %d %+v", resp.StatusCode, body.Error)
	}
}

func TestLoginAndMe(t *testing.T) {
	users := newStubUserAccounts()
	app := newAuthTestApp(users)

	doRequest(t, app, http.MethodPost, "/api/auth/register",
		`{"email":"carol@example.com","password":"password123","name":"Carol"}`)

	resp, _ := doRequest(t, app, http.MethodPost, "/api/auth/login",
		`{"email":"carol@example.com","password":"wrong-password"}`)
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401 for wrong password, got %d", resp.StatusCode)
	}

	resp, _ = doRequest(t, app, http.MethodPost, "/api/auth/login",
		`{"email":"nobody@example.com","password":"password123"}`)
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401 for unknown email, got %d", resp.StatusCode)
	}

	resp, body := doRequest(t, app, http.MethodPost, "/api/auth/login",
		`{"email":"carol@example.com","password":"password123"}`)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	auth := decodeAuth(t, body)

	req, err := http.NewRequest(http.MethodGet, "/api/auth/me", nil)
	if err != nil {
		t.Fatalf("NewRequest: %v", err)
	}
	req.Header.Set("Authorization", "Bearer "+auth.Token)
	meResp, err := app.Test(req)
	if err != nil {
		t.Fatalf("app.Test: %v", err)
	}
	defer meResp.Body.Close()
	if meResp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200 from /me, got %d", meResp.StatusCode)
	}

	var me envelope
	if err := json.NewDecoder(meResp.Body).Decode(&me); err != nil {
		t.Fatalf("Decode: %v", err)
	}
	var user models.User
	if err := json.Unmarshal(me.Data, &user); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if user.Email != "carol@example.com" || user.Role != defaultRole {
		t.Fatalf("unexpected user: %+v", user)
	}
}
