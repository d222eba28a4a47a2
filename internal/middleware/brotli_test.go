package middleware

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/andybalholm/brotli"
	"github.com/gin-gonic/gin"
)

func TestBrotli(t *testing.T) {
	gin.SetMode(gin.TestMode)
	large := strings.Repeat("question ", 400)

	router := gin.New()
	router.Use(Brotli(1024))
	router.GET("/large", func(c *gin.Context) { c.String(http.StatusOK, large) })
	router.GET("/small", func(c *gin.Context) { c.String(http.StatusOK, "ok") })

	tests := []struct {
		name     string
		path     string
		accept   string
		extra    map[string]string
		encoding string
		body     string
	}{
		{name: "large body is encoded", path: "/large", accept: "gzip, br", encoding: "br", body: large},
		{name: "quality value still accepted", path: "/large", accept: "br;q=0.9", encoding: "br", body: large},
		{name: "small body passes through", path: "/small", accept: "br", body: "ok"},
		{name: "client without br", path: "/large", accept: "gzip", body: large},
		{name: "event stream is never buffered", path: "/large", accept: "br", extra: map[string]string{"Accept": "text/event-stream"}, body: large},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, tt.path, nil)
			req.Header.Set("Accept-Encoding", tt.accept)
			for k, v := range tt.extra {
				req.Header.Set(k, v)
			}
			rec := httptest.NewRecorder()
			router.ServeHTTP(rec, req)

			if got := rec.Header().Get("Content-Encoding"); got != tt.encoding {
				t.Fatalf("Content-Encoding = %q, want %q", got, tt.encoding)
			}

			var body []byte
			var err error
			if tt.encoding == "br" {
				body, err = io.ReadAll(brotli.NewReader(rec.Body))
				if err != nil {
					t.Fatalf("decode: %v", err)
				}
				if rec.Body.Len() >= len(large) {
					t.Fatalf("encoded body is not smaller")
				}
			} else {
				body = rec.Body.Bytes()
			}
			if string(body) != tt.body {
				t.Fatalf("body mismatch: got %d bytes, want %d", len(body), len(tt.body))
			}
		})
	}
}

func TestCacheHeaders(t *testing.T) {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.GET("/exams", CacheControl(90*time.Second), func(c *gin.Context) { c.Status(http.StatusOK) })
	router.GET("/sessions", NoStore(), func(c *gin.Context) { c.Status(http.StatusOK) })

	tests := []struct {
		path string
		want string
	}{
		{"/exams", "private, max-age=90"},
		{"/sessions", "no-store"},
	}
	for _, tt := range tests {
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, tt.path, nil))
		if got := rec.Header().Get("Cache-Control"); got != tt.want {
			t.Errorf("%s: Cache-Control = %q, want %q", tt.path, got, tt.want)
		}
	}
}
