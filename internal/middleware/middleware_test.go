package middleware

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/synesthesie/listings/internal/config"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func newRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return mr, client
}

func newRouter(mw ...gin.HandlerFunc) *gin.Engine {
	r := gin.New()
	r.Use(mw...)
	r.Any("/ping", func(c *gin.Context) { c.String(http.StatusOK, "pong") })
	return r
}

func do(r http.Handler, method, ip string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, "/ping", nil)
	req.RemoteAddr = ip + ":5000"
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestRateLimiter(t *testing.T) {
	_, rdb := newRedis(t)
	cfg := &config.Config{RateLimitRequests: 2, RateLimitDuration: time.Minute}
	r := newRouter(RateLimiter(rdb, cfg))

	w := do(r, http.MethodGet, "10.0.0.1")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "2", w.Header().Get("X-RateLimit-Limit"))
	assert.Equal(t, "1", w.Header().Get("X-RateLimit-Remaining"))

	assert.Equal(t, http.StatusOK, do(r, http.MethodGet, "10.0.0.1").Code)

	w = do(r, http.MethodGet, "10.0.0.1")
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Equal(t, "0", w.Header().Get("X-RateLimit-Remaining"))

	assert.Equal(t, http.StatusOK, do(r, http.MethodGet, "10.0.0.2").Code, "limits are per client")
}

func TestRateLimiter_InternalSubmissionsAreNotCounted(t *testing.T) {
	_, rdb := newRedis(t)
	cfg := &config.Config{RateLimitRequests: 1, RateLimitDuration: time.Minute, SubmissionToken: "loopback-secret"}
	r := newRouter(RateLimiter(rdb, cfg))

	send := func(auth string) int {
		req := httptest.NewRequest(http.MethodPost, "/ping", nil)
		req.RemoteAddr = "127.0.0.1:5000"
		if auth != "" {
			req.Header.Set("Authorization", auth)
		}
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)
		return w.Code
	}

	for range 5 {
		assert.Equal(t, http.StatusOK, send("Bearer loopback-secret"))
	}
	assert.Equal(t, http.StatusOK, send(""))
	assert.Equal(t, http.StatusTooManyRequests, send(""))
	assert.Equal(t, http.StatusTooManyRequests, send("Bearer guessed"))
}

func TestRateLimiter_WindowExpires(t *testing.T) {
	mr, rdb := newRedis(t)
	cfg := &config.Config{RateLimitRequests: 1, RateLimitDuration: time.Minute}
	r := newRouter(RateLimiter(rdb, cfg))

	assert.Equal(t, http.StatusOK, do(r, http.MethodGet, "10.0.0.1").Code)
	assert.Equal(t, http.StatusTooManyRequests, do(r, http.MethodGet, "10.0.0.1").Code)

	mr.FastForward(2 * time.Minute)
	assert.Equal(t, http.StatusOK, do(r, http.MethodGet, "10.0.0.1").Code)
}

func TestRateLimiter_RedisDownLetsRequestsThrough(t *testing.T) {
	mr, rdb := newRedis(t)
	mr.Close()
	cfg := &config.Config{RateLimitRequests: 1, RateLimitDuration: time.Minute, UploadRateLimitPerDay: 1}
	r := newRouter(RateLimiter(rdb, cfg), UploadRateLimit(rdb, cfg))

	for range 3 {
		assert.Equal(t, http.StatusOK, do(r, http.MethodPost, "10.0.0.1").Code)
	}
}

func TestUploadRateLimit(t *testing.T) {
	mr, rdb := newRedis(t)
	cfg := &config.Config{UploadRateLimitPerDay: 2}
	r := newRouter(UploadRateLimit(rdb, cfg))

	assert.Equal(t, http.StatusOK, do(r, http.MethodPost, "10.0.0.9").Code)
	assert.Equal(t, http.StatusOK, do(r, http.MethodPost, "10.0.0.9").Code)

	w := do(r, http.MethodPost, "10.0.0.9")
	require.Equal(t, http.StatusTooManyRequests, w.Code)
	var body map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "upload_rate_limit_exceeded", body["error"])
	assert.EqualValues(t, 2, body["max_uploads_per_day"])

	key := "upload_limit:10.0.0.9:" + time.Now().Format("2006-01-02")
	assert.True(t, mr.Exists(key))
	assert.True(t, mr.TTL(key) > 0)
}

func TestUploadRateLimit_Disabled(t *testing.T) {
	_, rdb := newRedis(t)
	r := newRouter(UploadRateLimit(rdb, &config.Config{}))

	for range 5 {
		assert.Equal(t, http.StatusOK, do(r, http.MethodPost, "10.0.0.9").Code)
	}
}

func TestCORS(t *testing.T) {
	cfg := &config.Config{
		Env:            "production",
		AllowedOrigins: []string{"https://app.example/"},
		AllowedMethods: []string{"GET", "POST"},
		AllowedHeaders: []string{"Content-Type"},
	}
	r := newRouter(CORS(cfg))

	req := httptest.NewRequest(http.MethodGet, "/ping", nil)
	req.Header.Set("Origin", "https://app.example")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Equal(t, "https://app.example", w.Header().Get("Access-Control-Allow-Origin"))
	assert.Equal(t, "GET, POST", w.Header().Get("Access-Control-Allow-Methods"))

	req = httptest.NewRequest(http.MethodGet, "/ping", nil)
	req.Header.Set("Origin", "https://evil.example")
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Empty(t, w.Header().Get("Access-Control-Allow-Origin"))

	req = httptest.NewRequest(http.MethodOptions, "/ping", nil)
	req.Header.Set("Origin", "https://app.example")
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusNoContent, w.Code)
}

func TestRequestLogger(t *testing.T) {
	buf := &bytes.Buffer{}
	prev := log.Logger
	log.Logger = zerolog.New(buf)
	t.Cleanup(func() { log.Logger = prev })

	r := gin.New()
	r.Use(RequestLogger())
	r.GET("/ping", func(c *gin.Context) {
		log.Ctx(c.Request.Context()).Info().Msg("inside handler")
		c.Status(http.StatusOK)
	})

	req := httptest.NewRequest(http.MethodGet, "/ping", nil)
	req.Header.Set("X-Request-ID", "req-42")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	assert.Equal(t, "req-42", w.Header().Get("X-Request-ID"))
	lines := bytes.Split(bytes.TrimSpace(buf.Bytes()), []byte("\n"))
	require.Len(t, lines, 2)
	var inner, served map[string]any
	require.NoError(t, json.Unmarshal(lines[0], &inner))
	require.NoError(t, json.Unmarshal(lines[1], &served))
	assert.Equal(t, "req-42", inner["request_id"])
	assert.Equal(t, "http request served", served["message"])
	assert.EqualValues(t, 200, served["status"])

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/ping", nil))
	assert.NotEmpty(t, w.Header().Get("X-Request-ID"))
}
