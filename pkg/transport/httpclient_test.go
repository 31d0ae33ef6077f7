package transport

import (
	"bytes"
	"compress/gzip"
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"

	"github.com/andybalholm/brotli"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestSession(t *testing.T) *Session {
	t.Helper()
	s, err := NewSession(SessionConfig{})
	require.NoError(t, err, "Failed to create session")
	return s
}

func TestSessionDecodesBrotliAndGzip(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var buf bytes.Buffer
		switch r.URL.Path {
		case "/br":
			bw := brotli.NewWriter(&buf)
			io.WriteString(bw, "<html>brotli</html>")
			bw.Close()
			w.Header().Set("Content-Encoding", "br")
		case "/gz":
			gw := gzip.NewWriter(&buf)
			io.WriteString(gw, "<html>gzip</html>")
			gw.Close()
			w.Header().Set("Content-Encoding", "gzip")
		default:
			buf.WriteString("<html>plain</html>")
		}
		w.Write(buf.Bytes())
	}))
	defer srv.Close()

	s := newTestSession(t)
	for path, want := range map[string]string{"/br": "brotli", "/gz": "gzip", "/": "plain"} {
		body, err := s.Fetch(context.Background(), srv.URL+path)
		require.NoError(t, err, path)
		assert.Contains(t, string(body), want, path)
	}
}

func TestSessionKeepsCookiesAndSendsHeaders(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/login":
			http.SetCookie(w, &http.Cookie{Name: "login", Value: "abc", Path: "/"})
			w.Write([]byte("ok"))
		case "/me":
			c, err := r.Cookie("login")
			if err != nil {
				w.WriteHeader(http.StatusForbidden)
				return
			}
			w.Write([]byte(c.Value + "|" + r.Header.Get("Referer") + "|" + r.UserAgent()))
		}
	}))
	defer srv.Close()

	s := newTestSession(t)
	_, err := s.Get(context.Background(), srv.URL+"/login", "")
	require.NoError(t, err)

	resp, err := s.Get(context.Background(), srv.URL+"/me", "http://ref.example/")
	require.NoError(t, err)
	assert.Equal(t, "abc|http://ref.example/|"+DefaultUserAgent, string(resp.Body))
}

func TestSessionSubmitPostAndGet(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		r.ParseForm()
		w.Write([]byte(r.Method + ":" + r.Form.Get("a")))
	}))
	defer srv.Close()

	s := newTestSession(t)
	vals := url.Values{"a": {"2"}}

	resp, err := s.Submit(context.Background(), "post", srv.URL+"/save", vals, "")
	require.NoError(t, err)
	assert.Equal(t, "POST:2", string(resp.Body))

	resp, err = s.Submit(context.Background(), "GET", srv.URL+"/save?x=1", vals, "")
	require.NoError(t, err)
	assert.Equal(t, "GET:2", string(resp.Body))
}

func TestSessionStatusError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	_, err := newTestSession(t).Get(context.Background(), srv.URL, "")
	var se *StatusError
	require.True(t, errors.As(err, &se), "expected a StatusError, got %v", err)
	assert.Equal(t, http.StatusBadGateway, se.StatusCode)
}
