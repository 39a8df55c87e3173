package identity

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestMiddlewareIssuesAnonymousIdentity(t *testing.T) {
	var gotUserID, gotSessionID string
	handler := Middleware(true)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotUserID = UserIDFromContext(r.Context())
		gotSessionID = SessionIDFromContext(r.Context())
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if !isValidAnonID(gotUserID) {
		t.Errorf("user id = %q, want anon_<32 hex>", gotUserID)
	}
	if gotSessionID != DefaultSessionIDValue {
		t.Errorf("session id = %q, want default", gotSessionID)
	}

	cookies := rec.Result().Cookies()
	found := false
	for _, c := range cookies {
		if c.Name == AnonCookieName && c.Value == gotUserID {
			found = true
			if !c.HttpOnly {
				t.Error("anon cookie must be HttpOnly")
			}
		}
	}
	if !found {
		t.Errorf("anon cookie not set: %+v", cookies)
	}
}

func TestMiddlewareReusesValidCookie(t *testing.T) {
	const id = "anon_0123456789abcdef0123456789abcdef"

	var gotUserID string
	handler := Middleware(true)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotUserID = UserIDFromContext(r.Context())
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.AddCookie(&http.Cookie{Name: AnonCookieName, Value: id})
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if gotUserID != id {
		t.Errorf("user id = %q, want reused cookie value", gotUserID)
	}
}

func TestMiddlewareRejectsMalformedCookie(t *testing.T) {
	var gotUserID string
	handler := Middleware(true)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotUserID = UserIDFromContext(r.Context())
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.AddCookie(&http.Cookie{Name: AnonCookieName, Value: "'; DROP TABLE users"})
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if gotUserID == "'; DROP TABLE users" {
		t.Error("malformed cookie value must not become an identity")
	}
	if !isValidAnonID(gotUserID) {
		t.Errorf("user id = %q, want freshly generated", gotUserID)
	}
}

func TestIPFromRequest(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "203.0.113.7:52114"
	if ip := IPFromRequest(req); ip != "203.0.113.7" {
		t.Errorf("ip = %q, want port stripped", ip)
	}

	req.RemoteAddr = "203.0.113.9"
	if ip := IPFromRequest(req); ip != "203.0.113.9" {
		t.Errorf("ip = %q, want raw address when no port present", ip)
	}
}

func TestSessionIDSources(t *testing.T) {
	var gotSessionID string
	handler := Middleware(true)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotSessionID = SessionIDFromContext(r.Context())
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(SessionHeaderName, "tab-42")
	handler.ServeHTTP(httptest.NewRecorder(), req)
	if gotSessionID != "tab-42" {
		t.Errorf("header session id = %q", gotSessionID)
	}

	req = httptest.NewRequest(http.MethodGet, "/?session_id=tab-7", nil)
	handler.ServeHTTP(httptest.NewRecorder(), req)
	if gotSessionID != "tab-7" {
		t.Errorf("query session id = %q", gotSessionID)
	}

	req = httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(SessionHeaderName, "bad session id with spaces")
	handler.ServeHTTP(httptest.NewRecorder(), req)
	if gotSessionID != DefaultSessionIDValue {
		t.Errorf("invalid session id = %q, want default", gotSessionID)
	}
}
