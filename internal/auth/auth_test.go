package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"

	"github.com/tm-acme-shop/acme-shop-marketplace-service/internal/logging"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func TestVerifier_RoundTrip(t *testing.T) {
	v := NewVerifier("secret")
	token, err := v.Issue(Identity{UserID: "u1", Email: "u1@example.com", Role: RoleAdmin}, time.Hour)
	if err != nil {
		t.Fatalf("Issue() error = %v", err)
	}

	id, err := v.Verify(token)
	if err != nil {
		t.Fatalf("Verify() error = %v", err)
	}
	if id.UserID != "u1" || !id.IsAdmin() {
		t.Errorf("Unexpected identity: %+v", id)
	}
}

func TestVerifier_Rejects(t *testing.T) {
	v := NewVerifier("secret")
	expired, _ := v.Issue(Identity{UserID: "u1"}, -time.Minute)
	wrongKey, _ := NewVerifier("other").Issue(Identity{UserID: "u1"}, time.Hour)
	noUser, _ := v.Issue(Identity{}, time.Hour)
	none, _ := jwt.NewWithClaims(jwt.SigningMethodNone, Claims{UserID: "u1"}).SignedString(jwt.UnsafeAllowNoneSignatureType)

	tests := []struct {
		name  string
		token string
	}{
		{"expired", expired},
		{"wrong key", wrongKey},
		{"missing user", noUser},
		{"none algorithm", none},
		{"garbage", "not-a-token"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := v.Verify(tt.token); err == nil {
				t.Error("Expected token to be rejected")
			}
		})
	}
}

func TestVerifier_UnknownRoleIsCustomer(t *testing.T) {
	v := NewVerifier("secret")
	token, _ := v.Issue(Identity{UserID: "u1", Role: "superuser"}, time.Hour)

	id, err := v.Verify(token)
	if err != nil {
		t.Fatalf("Verify() error = %v", err)
	}
	if id.Role != RoleCustomer {
		t.Errorf("Expected customer role, got %s", id.Role)
	}
}

func TestMiddleware(t *testing.T) {
	v := NewVerifier("secret")
	customer, _ := v.Issue(Identity{UserID: "c1", Role: RoleCustomer}, time.Hour)
	admin, _ := v.Issue(Identity{UserID: "a1", Role: RoleAdmin}, time.Hour)

	router := gin.New()
	api := router.Group("/", Middleware(v, logging.Nop()))
	api.GET("/me", func(c *gin.Context) {
		id, _ := FromContext(c.Request.Context())
		c.String(http.StatusOK, id.UserID)
	})
	api.GET("/admin", RequireAdmin(), func(c *gin.Context) {
		c.Status(http.StatusOK)
	})

	tests := []struct {
		name   string
		path   string
		header string
		status int
	}{
		{"no token", "/me", "", http.StatusUnauthorized},
		{"bad token", "/me", "Bearer nope", http.StatusUnauthorized},
		{"customer", "/me", "Bearer " + customer, http.StatusOK},
		{"customer on admin route", "/admin", "Bearer " + customer, http.StatusForbidden},
		{"admin on admin route", "/admin", "Bearer " + admin, http.StatusOK},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, tt.path, nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			w := httptest.NewRecorder()
			router.ServeHTTP(w, req)

			if w.Code != tt.status {
				t.Errorf("Expected status %d, got %d", tt.status, w.Code)
			}
		})
	}
}
