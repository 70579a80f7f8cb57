package security

import (
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"
)

// 未配置时的默认放行集合，覆盖题库前端与上传脚本用到的头和方法
var (
	defaultAllowedHeaders = []string{
		"Content-Type", "Content-Length", "Accept-Encoding",
		"Authorization", "Accept", "Origin", "Cache-Control", "X-Requested-With",
	}
	defaultAllowedMethods = []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"}
)

// CORSOptions 跨域策略，Origins为空表示全部拒绝，"*"表示放行任意来源
type CORSOptions struct {
	AllowedOrigins []string
	AllowedHeaders []string
	AllowedMethods []string
}

// CORS 中间件 仅允许白名单中的Origin，支持Credentials
func CORS(opts CORSOptions) gin.HandlerFunc {
	allowAll := false
	originSet := make(map[string]bool, len(opts.AllowedOrigins))
	for _, o := range opts.AllowedOrigins {
		if o == "*" {
			allowAll = true
			continue
		}
		originSet[o] = true
	}

	headers := opts.AllowedHeaders
	if len(headers) == 0 {
		headers = defaultAllowedHeaders
	}
	methods := opts.AllowedMethods
	if len(methods) == 0 {
		methods = defaultAllowedMethods
	}
	allowHeaders := strings.Join(headers, ", ")
	allowMethods := strings.Join(methods, ", ")

	return func(c *gin.Context) {
		origin := c.Request.Header.Get("Origin")

		if origin != "" && (allowAll || originSet[origin]) {
			c.Writer.Header().Set("Access-Control-Allow-Origin", origin)
			c.Writer.Header().Set("Access-Control-Allow-Credentials", "true")
		}

		c.Writer.Header().Set("Access-Control-Allow-Headers", allowHeaders)
		c.Writer.Header().Set("Access-Control-Allow-Methods", allowMethods)

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}

// Secure 中间件 基础安全响应头
func Secure() gin.HandlerFunc {
	return func(c *gin.Context) {
		// 防止MIME嗅探
		c.Header("X-Content-Type-Options", "nosniff")
		// 防止点击劫持
		c.Header("X-Frame-Options", "DENY")
		c.Header("Referrer-Policy", "no-referrer")
		// HSTS
		if c.Request.TLS != nil {
			c.Header("Strict-Transport-Security", "max-age=31536000; includeSubDomains; preload")
		}

		c.Next()
	}
}

// LimiterOptions 按IP限流参数，零值字段取默认
type LimiterOptions struct {
	MaxRequests int           // 窗口内允许的请求数，默认10000
	Window      time.Duration // 限流窗口，默认1分钟
	Burst       int           // 突发上限，默认等于MaxRequests
}

func (o *LimiterOptions) normalize() {
	if o.MaxRequests <= 0 {
		o.MaxRequests = 10000
	}
	if o.Window <= 0 {
		o.Window = time.Minute
	}
	if o.Burst <= 0 {
		o.Burst = o.MaxRequests
	}
}

// visitor 包装限流器和最后活跃时间，用于定期清理
type visitor struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// RateLimiter 限流中间件 按IP限流，自动清理过期条目
func RateLimiter(opts LimiterOptions) gin.HandlerFunc {
	opts.normalize()

	store := make(map[string]*visitor)
	var mu sync.Mutex

	go func() {
		expiry := opts.Window * 3
		if expiry < time.Minute {
			expiry = time.Minute
		}
		ticker := time.NewTicker(time.Minute)
		defer ticker.Stop()
		for range ticker.C {
			mu.Lock()
			for ip, v := range store {
				if time.Since(v.lastSeen) > expiry {
					delete(store, ip)
				}
			}
			mu.Unlock()
		}
	}()

	r := rate.Every(opts.Window / time.Duration(opts.MaxRequests))

	return func(c *gin.Context) {
		key := c.ClientIP()

		mu.Lock()
		v, exists := store[key]
		if !exists {
			v = &visitor{
				limiter: rate.NewLimiter(r, opts.Burst),
			}
			store[key] = v
		}
		v.lastSeen = time.Now()
		mu.Unlock()

		if !v.limiter.Allow() {
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"error": "too many requests"})
			return
		}

		c.Next()
	}
}
