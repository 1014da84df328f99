package middleware

import (
	"crypto/md5"
	"encoding/hex"
	"encoding/json"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
)

// CacheEntry is one cached JSON response.
type CacheEntry struct {
	Data      interface{}
	ExpiresAt time.Time
}

// ResponseCache memoizes GET responses for a short TTL. The queue stats
// endpoint aggregates over every job and attempt ever recorded, so it
// gets polled through this instead of hitting Postgres each time.
type ResponseCache struct {
	cache map[string]*CacheEntry
	mu    sync.RWMutex
	ttl   time.Duration
}

func NewResponseCache(ttl time.Duration) *ResponseCache {
	rc := &ResponseCache{
		cache: make(map[string]*CacheEntry),
		ttl:   ttl,
	}

	go rc.cleanup()

	return rc
}

// Cache returns a middleware that serves a stored copy of the response
// while it is fresh. Only GET requests are cached.
func (rc *ResponseCache) Cache() gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.Request.Method != "GET" {
			c.Next()
			return
		}

		key := cacheKey(c)

		rc.mu.RLock()
		entry, exists := rc.cache[key]
		rc.mu.RUnlock()

		if exists && time.Now().Before(entry.ExpiresAt) {
			c.JSON(200, entry.Data)
			c.Abort()
			return
		}

		writer := &responseWriter{ResponseWriter: c.Writer}
		c.Writer = writer

		c.Next()

		if c.Writer.Status() == 200 && len(writer.body) > 0 {
			var data interface{}
			if err := json.Unmarshal(writer.body, &data); err == nil {
				rc.mu.Lock()
				rc.cache[key] = &CacheEntry{
					Data:      data,
					ExpiresAt: time.Now().Add(rc.ttl),
				}
				rc.mu.Unlock()
			}
		}
	}
}

func cacheKey(c *gin.Context) string {
	h := md5.New()
	h.Write([]byte(c.Request.Method))
	h.Write([]byte(c.Request.URL.Path))
	h.Write([]byte(c.Request.URL.RawQuery))
	return hex.EncodeToString(h.Sum(nil))
}

// cleanup drops expired entries every few minutes.
func (rc *ResponseCache) cleanup() {
	ticker := time.NewTicker(5 * time.Minute)
	for {
		<-ticker.C
		rc.mu.Lock()
		now := time.Now()
		for key, entry := range rc.cache {
			if now.After(entry.ExpiresAt) {
				delete(rc.cache, key)
			}
		}
		rc.mu.Unlock()
	}
}

// responseWriter captures the body on the way out so a 200 can be
// stored.
type responseWriter struct {
	gin.ResponseWriter
	body []byte
}

func (w *responseWriter) Write(b []byte) (int, error) {
	w.body = append(w.body, b...)
	return w.ResponseWriter.Write(b)
}
