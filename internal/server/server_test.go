package server

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"

	"github.com/trueque-app/trueque/internal/config"
)

func testServer(t *testing.T) *Server {
	t.Helper()
	gin.SetMode(gin.TestMode)

	cfg := &config.Config{
		Port:              "0",
		Env:               "development",
		LogLevel:          "error",
		MembershipEnforce: true,
		RateLimitRPM:      10000,
	}

	s, err := New(cfg)
	if err != nil {
		t.Fatalf("new server: %v", err)
	}
	t.Cleanup(func() {
		if s.rateLimiter != nil {
			s.rateLimiter.Stop()
		}
	})
	return s
}

func doJSON(t *testing.T, s *Server, method, path, token string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}

	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	w := httptest.NewRecorder()
	s.Router().ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var out map[string]interface{}
	if err := json.Unmarshal(w.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode response %q: %v", w.Body.String(), err)
	}
	return out
}

func registerAndLogin(t *testing.T, s *Server, username, email string) string {
	t.Helper()

	w := doJSON(t, s, http.MethodPost, "/v1/auth/register", "", map[string]string{
		"username": username,
		"email":    email,
		"password": "hunter2hunter2",
	})
	if w.Code != http.StatusCreated {
		t.Fatalf("register %s: status %d body %s", username, w.Code, w.Body.String())
	}

	w = doJSON(t, s, http.MethodPost, "/v1/auth/login", "", map[string]string{
		"email":    email,
		"password": "hunter2hunter2",
	})
	if w.Code != http.StatusOK {
		t.Fatalf("login %s: status %d body %s", username, w.Code, w.Body.String())
	}
	token, _ := decode(t, w)["token"].(string)
	if token == "" {
		t.Fatalf("login %s: no token in response", username)
	}
	return token
}

func createListing(t *testing.T, s *Server, token, title string) string {
	t.Helper()
	w := doJSON(t, s, http.MethodPost, "/v1/listings", token, map[string]interface{}{
		"title":    title,
		"category": "tools",
	})
	if w.Code != http.StatusCreated {
		t.Fatalf("create listing: status %d body %s", w.Code, w.Body.String())
	}
	l, _ := decode(t, w)["listing"].(map[string]interface{})
	id, _ := l["id"].(string)
	if id == "" {
		t.Fatal("create listing: no id in response")
	}
	return id
}

func listingStatus(t *testing.T, s *Server, id string) string {
	t.Helper()
	w := doJSON(t, s, http.MethodGet, "/v1/listings/"+id, "", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("get listing: status %d", w.Code)
	}
	l, _ := decode(t, w)["listing"].(map[string]interface{})
	status, _ := l["status"].(string)
	return status
}

func TestHealthEndpoints(t *testing.T) {
	s := testServer(t)

	w := doJSON(t, s, http.MethodGet, "/health", "", nil)
	if w.Code != http.StatusOK {
		t.Errorf("/health status = %d", w.Code)
	}

	w = doJSON(t, s, http.MethodGet, "/health/live", "", nil)
	if w.Code != http.StatusOK {
		t.Errorf("/health/live status = %d", w.Code)
	}

	// Readiness flips on in Run; a freshly built server is not ready.
	w = doJSON(t, s, http.MethodGet, "/health/ready", "", nil)
	if w.Code != http.StatusServiceUnavailable {
		t.Errorf("/health/ready status = %d, want 503", w.Code)
	}
}

func TestMetricsEndpointExposed(t *testing.T) {
	s := testServer(t)

	w := doJSON(t, s, http.MethodGet, "/metrics", "", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("/metrics status = %d", w.Code)
	}
	if !bytes.Contains(w.Body.Bytes(), []byte("trueque_")) {
		t.Error("metrics output missing trueque namespace")
	}
}

func TestProtectedRoutesRequireAuth(t *testing.T) {
	s := testServer(t)

	for _, tc := range []struct {
		method string
		path   string
	}{
		{http.MethodPost, "/v1/listings"},
		{http.MethodGet, "/v1/my/listings"},
		{http.MethodPost, "/v1/negotiations"},
		{http.MethodGet, "/v1/negotiations/sent"},
		{http.MethodGet, "/v1/membership"},
	} {
		w := doJSON(t, s, tc.method, tc.path, "", nil)
		if w.Code != http.StatusUnauthorized {
			t.Errorf("%s %s without token: status %d, want 401", tc.method, tc.path, w.Code)
		}
	}
}

func TestAdminRoutesRequireAdmin(t *testing.T) {
	s := testServer(t)
	token := registerAndLogin(t, s, "alice", "alice@example.com")

	w := doJSON(t, s, http.MethodGet, "/v1/admin/proofs", token, nil)
	if w.Code != http.StatusForbidden {
		t.Errorf("admin route as regular user: status %d, want 403", w.Code)
	}

	w = doJSON(t, s, http.MethodGet, "/v1/admin/stats", "", nil)
	if w.Code != http.StatusUnauthorized {
		t.Errorf("admin route anonymous: status %d, want 401", w.Code)
	}
}

func TestFullExchangeFlow(t *testing.T) {
	s := testServer(t)

	aliceToken := registerAndLogin(t, s, "alice", "alice@example.com")
	bobToken := registerAndLogin(t, s, "bob", "bob@example.com")

	aliceBike := createListing(t, s, aliceToken, "mountain bike")
	bobGuitar := createListing(t, s, bobToken, "acoustic guitar")

	// Browse is public and shows both open listings.
	w := doJSON(t, s, http.MethodGet, "/v1/listings", "", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("browse: status %d", w.Code)
	}

	// Alice proposes her bike for Bob's guitar.
	w = doJSON(t, s, http.MethodPost, "/v1/negotiations", aliceToken, map[string]string{
		"offeredListingId":   aliceBike,
		"requestedListingId": bobGuitar,
		"message":            "swap?",
	})
	if w.Code != http.StatusCreated {
		t.Fatalf("propose: status %d body %s", w.Code, w.Body.String())
	}
	negID, _ := decode(t, w)["id"].(string)

	// Bob sees it in his received queue.
	w = doJSON(t, s, http.MethodGet, "/v1/negotiations/received?status=pending", bobToken, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("received: status %d", w.Code)
	}

	// Bob's notification counter reflects the pending proposal.
	w = doJSON(t, s, http.MethodGet, "/v1/negotiations/notifications", bobToken, nil)
	if got := decode(t, w)["pendingReceived"].(float64); got != 1 {
		t.Errorf("pendingReceived = %v, want 1", got)
	}

	// Alice cannot accept her own proposal.
	w = doJSON(t, s, http.MethodPost, "/v1/negotiations/"+negID+"/accept", aliceToken, nil)
	if w.Code != http.StatusForbidden {
		t.Errorf("self accept: status %d, want 403", w.Code)
	}

	// Bob accepts; both listings become reserved.
	w = doJSON(t, s, http.MethodPost, "/v1/negotiations/"+negID+"/accept", bobToken, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("accept: status %d body %s", w.Code, w.Body.String())
	}

	if got := listingStatus(t, s, aliceBike); got != "reserved" {
		t.Errorf("bike status = %q, want reserved", got)
	}

	// Messaging is open now.
	w = doJSON(t, s, http.MethodPost, "/v1/negotiations/"+negID+"/messages", aliceToken, map[string]string{
		"body": "saturday at the market?",
	})
	if w.Code != http.StatusCreated {
		t.Fatalf("message: status %d body %s", w.Code, w.Body.String())
	}

	// Both confirm completion; listings are consumed.
	for _, token := range []string{aliceToken, bobToken} {
		w = doJSON(t, s, http.MethodPost, "/v1/negotiations/"+negID+"/confirm-completion", token, nil)
		if w.Code != http.StatusOK {
			t.Fatalf("confirm: status %d body %s", w.Code, w.Body.String())
		}
	}

	w = doJSON(t, s, http.MethodGet, "/v1/negotiations/"+negID, aliceToken, nil)
	if got := decode(t, w)["status"].(string); got != "completed" {
		t.Errorf("negotiation status = %q, want completed", got)
	}

	if got := listingStatus(t, s, bobGuitar); got != "consumed" {
		t.Errorf("guitar status = %q, want consumed", got)
	}
}

func TestQuotaEnforcedOverHTTP(t *testing.T) {
	s := testServer(t)

	aliceToken := registerAndLogin(t, s, "alice", "alice@example.com")
	bobToken := registerAndLogin(t, s, "bob", "bob@example.com")

	// Basic plan allows 3 proposals per month.
	for i := 0; i < 3; i++ {
		offered := createListing(t, s, aliceToken, "thing")
		requested := createListing(t, s, bobToken, "other thing")
		w := doJSON(t, s, http.MethodPost, "/v1/negotiations", aliceToken, map[string]string{
			"offeredListingId":   offered,
			"requestedListingId": requested,
		})
		if w.Code != http.StatusCreated {
			t.Fatalf("propose %d: status %d body %s", i, w.Code, w.Body.String())
		}
	}

	offered := createListing(t, s, aliceToken, "one more")
	requested := createListing(t, s, bobToken, "another")
	w := doJSON(t, s, http.MethodPost, "/v1/negotiations", aliceToken, map[string]string{
		"offeredListingId":   offered,
		"requestedListingId": requested,
	})
	if w.Code != http.StatusForbidden {
		t.Fatalf("over-quota propose: status %d, want 403", w.Code)
	}

	// The membership endpoint shows the exhausted quota.
	w = doJSON(t, s, http.MethodGet, "/v1/membership", aliceToken, nil)
	if got := decode(t, w)["remaining"].(float64); got != 0 {
		t.Errorf("remaining = %v, want 0", got)
	}
}

func TestMalformedIDParamRejected(t *testing.T) {
	s := testServer(t)
	token := registerAndLogin(t, s, "alice", "alice@example.com")

	w := doJSON(t, s, http.MethodGet, "/v1/negotiations/DROP%20TABLE", token, nil)
	if w.Code != http.StatusBadRequest {
		t.Errorf("malformed id: status %d, want 400", w.Code)
	}
}

func TestInfoEndpoint(t *testing.T) {
	s := testServer(t)

	w := doJSON(t, s, http.MethodGet, "/api", "", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("/api status = %d", w.Code)
	}
	if got := decode(t, w)["name"].(string); got != "trueque" {
		t.Errorf("name = %q", got)
	}
}
