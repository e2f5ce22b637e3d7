package appd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return New(srv.URL, "beacon-client", "shh-secret", "customer1", nil)
}

func tokenHandler(t *testing.T, calls *atomic.Int64, expiresIn int) http.HandlerFunc {
	t.Helper()
	return func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		if r.URL.Path != "/controller/api/oauth/access_token" {
			t.Errorf("unexpected path: %s", r.URL.Path)
		}
		if err := r.ParseForm(); err != nil {
			t.Fatalf("parse form: %v", err)
		}
		if got := r.PostForm.Get("grant_type"); got != "client_credentials" {
			t.Errorf("grant_type = %q, want client_credentials", got)
		}
		if got := r.PostForm.Get("client_id"); got != "beacon-client@customer1" {
			t.Errorf("client_id = %q, want beacon-client@customer1", got)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = fmt.Fprintf(w, `{"access_token":"tok-%d","expires_in":%d}`, calls.Load(), expiresIn)
	}
}

func TestAccessToken_Exchange(t *testing.T) {
	t.Parallel()

	var calls atomic.Int64
	c := newTestClient(t, tokenHandler(t, &calls, 3600))

	tok, err := c.AccessToken(context.Background())
	if err != nil {
		t.Fatalf("AccessToken: %v", err)
	}
	if tok != "tok-1" {
		t.Errorf("token = %q, want tok-1", tok)
	}
}

func TestAccessToken_Cached(t *testing.T) {
	t.Parallel()

	var calls atomic.Int64
	c := newTestClient(t, tokenHandler(t, &calls, 3600))

	for i := 0; i < 3; i++ {
		if _, err := c.AccessToken(context.Background()); err != nil {
			t.Fatalf("AccessToken call %d: %v", i, err)
		}
	}
	if calls.Load() != 1 {
		t.Errorf("exchange calls = %d, want 1 (token should be cached)", calls.Load())
	}
}

func TestAccessToken_ExpiryMargin(t *testing.T) {
	t.Parallel()

	// A token valid for less than the 5 minute margin is treated as already
	// expired, so each call performs a fresh exchange.
	var calls atomic.Int64
	c := newTestClient(t, tokenHandler(t, &calls, 60))

	if _, err := c.AccessToken(context.Background()); err != nil {
		t.Fatalf("first AccessToken: %v", err)
	}
	tok, err := c.AccessToken(context.Background())
	if err != nil {
		t.Fatalf("second AccessToken: %v", err)
	}
	if calls.Load() != 2 {
		t.Errorf("exchange calls = %d, want 2 (short-lived token must refresh)", calls.Load())
	}
	if tok != "tok-2" {
		t.Errorf("token = %q, want tok-2", tok)
	}
}

func TestAccessToken_APIKeyFallback(t *testing.T) {
	t.Parallel()

	// No secret configured: the client name itself is the bearer value and
	// no HTTP call is made.
	c := New("http://controller.invalid", "my-api-key", "", "", nil)

	tok, err := c.AccessToken(context.Background())
	if err != nil {
		t.Fatalf("AccessToken: %v", err)
	}
	if tok != "my-api-key" {
		t.Errorf("token = %q, want my-api-key", tok)
	}
}

func TestAccessToken_NotConfigured(t *testing.T) {
	t.Parallel()

	c := New("http://controller.invalid", "", "", "", nil)

	_, err := c.AccessToken(context.Background())
	if !errors.Is(err, ErrAuthNotConfigured) {
		t.Fatalf("error = %v, want ErrAuthNotConfigured", err)
	}
}

func TestAccessToken_ExchangeFailure(t *testing.T) {
	t.Parallel()

	c := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = fmt.Fprint(w, `{"error":"invalid_client"}`)
	})

	_, err := c.AccessToken(context.Background())
	if err == nil {
		t.Fatal("expected error for 401 exchange")
	}
	if !strings.Contains(err.Error(), "401") {
		t.Errorf("error = %q, want it to mention status code", err.Error())
	}
}

func TestAccessToken_NoAccountOmitsSuffix(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = r.ParseForm()
		if got := r.PostForm.Get("client_id"); got != "beacon-client" {
			t.Errorf("client_id = %q, want beacon-client", got)
		}
		_, _ = fmt.Fprint(w, `{"access_token":"tok","expires_in":3600}`)
	}))
	t.Cleanup(srv.Close)

	c := New(srv.URL, "beacon-client", "shh-secret", "", nil)
	if _, err := c.AccessToken(context.Background()); err != nil {
		t.Fatalf("AccessToken: %v", err)
	}
}

func TestAccessToken_Concurrent(t *testing.T) {
	t.Parallel()

	// Concurrent first calls must perform a single exchange.
	var calls atomic.Int64
	slow := func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		time.Sleep(20 * time.Millisecond)
		_, _ = fmt.Fprint(w, `{"access_token":"tok","expires_in":3600}`)
	}
	c := newTestClient(t, slow)

	errs := make(chan error, 4)
	for i := 0; i < 4; i++ {
		go func() {
			_, err := c.AccessToken(context.Background())
			errs <- err
		}()
	}
	for i := 0; i < 4; i++ {
		if err := <-errs; err != nil {
			t.Fatalf("concurrent AccessToken: %v", err)
		}
	}
	if calls.Load() != 1 {
		t.Errorf("exchange calls = %d, want 1 (refresh must be single-flight)", calls.Load())
	}
}
