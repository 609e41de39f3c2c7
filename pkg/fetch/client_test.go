package fetch

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/Alwanly/service-source-ingest/pkg/poll"
)

func TestFetch_OK(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			t.Errorf("expected GET, got %s", r.Method)
		}
		w.Header().Set("Content-Type", "text/plain")
		_, _ = w.Write([]byte("hi"))
	}))
	defer ts.Close()

	c := NewClient(time.Second, nil)
	defer c.Close()

	resp, err := c.Fetch(context.Background(), poll.Request{URL: ts.URL + "/ok"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if string(resp.Body) != "hi" {
		t.Fatalf("expected body hi, got %q", resp.Body)
	}
	if resp.ContentType != "text/plain" {
		t.Fatalf("expected content type text/plain, got %s", resp.ContentType)
	}
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
}

func TestFetch_PassesHeadersThrough(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("X-Api-Key") != "secret" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		if r.Header.Get("Accept") != "application/json" {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		_, _ = w.Write([]byte(`{"ok":true}`))
	}))
	defer ts.Close()

	c := NewClient(time.Second, nil)
	_, err := c.Fetch(context.Background(), poll.Request{
		URL:     ts.URL,
		Headers: map[string]string{"X-Api-Key": "secret", "Accept": "application/json"},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestFetch_NonSuccessStatus(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte("down"))
	}))
	defer ts.Close()

	c := NewClient(time.Second, nil)
	_, err := c.Fetch(context.Background(), poll.Request{URL: ts.URL})

	var statusErr *StatusError
	if !errors.As(err, &statusErr) {
		t.Fatalf("expected StatusError, got %v", err)
	}
	if statusErr.StatusCode != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", statusErr.StatusCode)
	}
}

func TestFetch_BodyOverCapIsRejected(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(strings.Repeat("x", 64+10)))
	}))
	defer ts.Close()

	c := NewClient(time.Second, nil)
	defer c.Close()
	c.maxBodySize = 64

	resp, err := c.Fetch(context.Background(), poll.Request{URL: ts.URL})
	if !errors.Is(err, ErrBodyTooLarge) {
		t.Fatalf("expected ErrBodyTooLarge, got resp=%v err=%v", resp, err)
	}
}

func TestFetch_BodyAtCapIsKept(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(strings.Repeat("x", 64)))
	}))
	defer ts.Close()

	c := NewClient(time.Second, nil)
	defer c.Close()
	c.maxBodySize = 64

	resp, err := c.Fetch(context.Background(), poll.Request{URL: ts.URL})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(resp.Body) != 64 {
		t.Fatalf("expected full 64 byte body, got %d", len(resp.Body))
	}
}

func TestFetch_Timeout(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}))
	defer ts.Close()

	c := NewClient(time.Second, nil)
	start := time.Now()
	_, err := c.Fetch(context.Background(), poll.Request{URL: ts.URL, Timeout: 50 * time.Millisecond})
	if err == nil {
		t.Fatal("expected timeout error")
	}
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
	if time.Since(start) > time.Second {
		t.Fatalf("timeout not honoured, took %v", time.Since(start))
	}
}

func TestFetch_CanceledContext(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	}))
	defer ts.Close()

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	c := NewClient(5*time.Second, nil)
	if _, err := c.Fetch(ctx, poll.Request{URL: ts.URL}); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context canceled, got %v", err)
	}
}

func TestParseProxyURL(t *testing.T) {
	cases := []struct {
		in       string
		wantHost string
		wantUser string
	}{
		{in: "10.0.0.1:3128", wantHost: "10.0.0.1:3128"},
		{in: "http://proxy.local:8080", wantHost: "proxy.local:8080"},
		{in: "10.0.0.1:3128:alice:s3cret", wantHost: "10.0.0.1:3128", wantUser: "alice"},
	}
	for _, tc := range cases {
		u, err := ParseProxyURL(tc.in)
		if err != nil {
			t.Fatalf("%s: unexpected error: %v", tc.in, err)
		}
		if u.Host != tc.wantHost {
			t.Fatalf("%s: expected host %s, got %s", tc.in, tc.wantHost, u.Host)
		}
		if tc.wantUser != "" && u.User.Username() != tc.wantUser {
			t.Fatalf("%s: expected user %s, got %s", tc.in, tc.wantUser, u.User.Username())
		}
	}
}
