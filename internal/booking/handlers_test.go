package booking

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"

	"github.com/auditoryx/booking-core/internal/accounts"
	"github.com/auditoryx/booking-core/internal/auth"
)

func setupTestRouter() (*gin.Engine, *testEnv) {
	gin.SetMode(gin.TestMode)

	env := newTestEnv()
	handler := NewHandler(env.svc)

	r := gin.New()
	v1 := r.Group("/v1")
	handler.RegisterRoutes(v1)

	// Test stand-in for auth middleware: X-Account-ID / X-Role headers
	authGroup := v1.Group("")
	authGroup.Use(func(c *gin.Context) {
		if id := c.GetHeader("X-Account-ID"); id != "" {
			role := accounts.Role(c.GetHeader("X-Role"))
			if role == "" {
				role = accounts.RoleClient
			}
			c.Set(auth.ContextKeyAPIKey, &auth.APIKey{AccountID: id, Role: role})
			c.Set(auth.ContextKeyAccountID, id)
		}
		c.Next()
	})
	handler.RegisterProtectedRoutes(authGroup)

	return r, env
}

func doJSON(router *gin.Engine, method, path, accountID, role string, body any) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		_ = json.NewEncoder(&buf).Encode(body)
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if accountID != "" {
		req.Header.Set("X-Account-ID", accountID)
		req.Header.Set("X-Role", role)
	}
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func TestHandler_CreateAndGetBooking(t *testing.T) {
	router, _ := setupTestRouter()

	w := doJSON(router, "POST", "/v1/bookings", "usr_client", "client", CreateRequest{
		ClientID:    "usr_client",
		ProviderID:  "usr_provider",
		TotalAmount: "100",
	})
	if w.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", w.Code, w.Body.String())
	}

	var created struct {
		Booking Booking `json:"booking"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &created); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if created.Booking.Status != StatusPending {
		t.Errorf("expected pending, got %s", created.Booking.Status)
	}

	w = doJSON(router, "GET", "/v1/bookings/"+created.Booking.ID, "", "", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
}

func TestHandler_CreateBooking_Validation(t *testing.T) {
	router, _ := setupTestRouter()

	cases := []struct {
		name string
		req  CreateRequest
	}{
		{"bad client id", CreateRequest{ClientID: "nope", ProviderID: "usr_provider", TotalAmount: "100"}},
		{"bad amount", CreateRequest{ClientID: "usr_client", ProviderID: "usr_provider", TotalAmount: "-5"}},
		{"same parties", CreateRequest{ClientID: "usr_client", ProviderID: "usr_client", TotalAmount: "100"}},
	}
	for _, tc := range cases {
		w := doJSON(router, "POST", "/v1/bookings", "usr_client", "client", tc.req)
		if w.Code != http.StatusBadRequest {
			t.Errorf("%s: expected 400, got %d: %s", tc.name, w.Code, w.Body.String())
		}
	}
}

func TestHandler_CreateBooking_ForOtherAccount(t *testing.T) {
	router, _ := setupTestRouter()

	w := doJSON(router, "POST", "/v1/bookings", "usr_other", "client", CreateRequest{
		ClientID:    "usr_client",
		ProviderID:  "usr_provider",
		TotalAmount: "100",
	})
	if w.Code != http.StatusForbidden {
		t.Errorf("expected 403, got %d: %s", w.Code, w.Body.String())
	}

	// Admins may create on behalf of a client
	w = doJSON(router, "POST", "/v1/bookings", "usr_admin", "admin", CreateRequest{
		ClientID:    "usr_client",
		ProviderID:  "usr_provider",
		TotalAmount: "100",
	})
	if w.Code != http.StatusCreated {
		t.Errorf("expected 201 for admin, got %d: %s", w.Code, w.Body.String())
	}
}

func TestHandler_GetBooking_NotFound(t *testing.T) {
	router, _ := setupTestRouter()

	w := doJSON(router, "GET", "/v1/bookings/bk_missing", "", "", nil)
	if w.Code != http.StatusNotFound {
		t.Errorf("expected 404, got %d: %s", w.Code, w.Body.String())
	}
}

func TestHandler_ReleaseFunds(t *testing.T) {
	router, env := setupTestRouter()
	b := env.heldBooking(t, "100")

	w := doJSON(router, "POST", "/v1/bookings/"+b.ID+"/release", "usr_client", "client", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	if env.gateway.TransferCount() != 1 {
		t.Errorf("expected 1 transfer, got %d", env.gateway.TransferCount())
	}

	// Repeating the request is still a success
	w = doJSON(router, "POST", "/v1/bookings/"+b.ID+"/release", "usr_client", "client", nil)
	if w.Code != http.StatusOK {
		t.Errorf("repeat release expected 200, got %d: %s", w.Code, w.Body.String())
	}
	if env.gateway.TransferCount() != 1 {
		t.Errorf("repeat release must not transfer again, got %d", env.gateway.TransferCount())
	}
}

func TestHandler_ReleaseFunds_ErrorMapping(t *testing.T) {
	router, env := setupTestRouter()
	b := env.heldBooking(t, "100")

	// Provider cannot release their own payout
	w := doJSON(router, "POST", "/v1/bookings/"+b.ID+"/release", "usr_provider", "provider", nil)
	if w.Code != http.StatusForbidden {
		t.Errorf("expected 403 for provider, got %d: %s", w.Code, w.Body.String())
	}

	// Open dispute blocks release with a conflict
	env.disputes.set(b.ID, true)
	w = doJSON(router, "POST", "/v1/bookings/"+b.ID+"/release", "usr_client", "client", nil)
	if w.Code != http.StatusConflict {
		t.Errorf("expected 409 while disputed, got %d: %s", w.Code, w.Body.String())
	}
	env.disputes.set(b.ID, false)

	// Unauthenticated callers are rejected outright
	w = doJSON(router, "POST", "/v1/bookings/"+b.ID+"/release", "", "", nil)
	if w.Code != http.StatusUnauthorized {
		t.Errorf("expected 401 without auth, got %d: %s", w.Code, w.Body.String())
	}
}

func TestHandler_ReleaseFunds_GatewayFailure(t *testing.T) {
	router, env := setupTestRouter()
	b := env.heldBooking(t, "100")

	env.gateway.FailNext("transfer", "unavailable")
	w := doJSON(router, "POST", "/v1/bookings/"+b.ID+"/release", "usr_client", "client", nil)
	if w.Code != http.StatusBadGateway {
		t.Fatalf("expected 502, got %d: %s", w.Code, w.Body.String())
	}
	// Processor details never leak into the response body
	if bytes.Contains(w.Body.Bytes(), []byte("simulated")) {
		t.Errorf("response leaked gateway error details: %s", w.Body.String())
	}
}

func TestHandler_RequestRevision_Exhausted(t *testing.T) {
	router, env := setupTestRouter()
	ctx := context.Background()

	b, err := env.svc.Create(ctx, CreateRequest{
		ClientID:    "usr_client",
		ProviderID:  "usr_provider",
		TotalAmount: "100",
		Revisions:   1,
	})
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if err := env.svc.ConfirmPayment(ctx, b.ID, b.PaymentIntentID); err != nil {
		t.Fatalf("ConfirmPayment failed: %v", err)
	}

	w := doJSON(router, "POST", "/v1/bookings/"+b.ID+"/revision", "usr_client", "client", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}

	w = doJSON(router, "POST", "/v1/bookings/"+b.ID+"/revision", "usr_client", "client", nil)
	if w.Code != http.StatusConflict {
		t.Errorf("expected 409 when revisions exhausted, got %d: %s", w.Code, w.Body.String())
	}
}

func TestHandler_ListBookings(t *testing.T) {
	router, env := setupTestRouter()
	env.heldBooking(t, "100")
	env.heldBooking(t, "200")

	w := doJSON(router, "GET", "/v1/accounts/usr_client/bookings", "usr_client", "client", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	var resp struct {
		Count int `json:"count"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.Count != 2 {
		t.Errorf("expected 2 bookings, got %d", resp.Count)
	}

	// Other accounts may not read someone else's list
	w = doJSON(router, "GET", "/v1/accounts/usr_client/bookings", "usr_other", "client", nil)
	if w.Code != http.StatusForbidden {
		t.Errorf("expected 403, got %d: %s", w.Code, w.Body.String())
	}
}

func TestHandler_RefundBooking_AdminOnly(t *testing.T) {
	router, env := setupTestRouter()
	b := env.heldBooking(t, "100")

	w := doJSON(router, "POST", "/v1/bookings/"+b.ID+"/refund", "usr_client", "client", nil)
	if w.Code != http.StatusForbidden {
		t.Errorf("expected 403 for client refund, got %d: %s", w.Code, w.Body.String())
	}

	w = doJSON(router, "POST", "/v1/bookings/"+b.ID+"/refund", "usr_admin", "admin", nil)
	if w.Code != http.StatusOK {
		t.Errorf("expected 200 for admin refund, got %d: %s", w.Code, w.Body.String())
	}
}
