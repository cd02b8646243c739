// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Flow Contributors

package web

import (
	"math"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"
)

// Limit is a request budget per client over a window.
type Limit struct {
	Requests int
	Window   time.Duration
}

// clientLimiter gives each client IP a fixed budget of Requests per
// window. The window starts with the client's first request and the
// budget is restored only when it ends; unused requests do not carry over.
type clientLimiter struct {
	requests int
	window   time.Duration
	now      func() time.Time

	mu        sync.Mutex
	clients   map[string]*clientWindow
	lastSweep time.Time
}

// clientWindow is one client's budget. The bucket refills one token per
// window, which lands exactly when the window is replaced, so it never
// grants more than Requests within a window.
type clientWindow struct {
	limiter *rate.Limiter
	start   time.Time
}

func newClientLimiter(l Limit, now func() time.Time) *clientLimiter {
	if now == nil {
		now = time.Now
	}
	return &clientLimiter{
		requests: l.Requests,
		window:   l.Window,
		now:      now,
		clients:  make(map[string]*clientWindow),
	}
}

func (l *clientLimiter) unlimited() bool {
	return l.requests <= 0 || l.window <= 0
}

// allow consumes one request from key's budget. When refused it also
// returns the time left until the window ends.
func (l *clientLimiter) allow(key string) (bool, time.Duration) {
	if l.unlimited() {
		return true, 0
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	l.sweep(now)

	w, ok := l.clients[key]
	if !ok || !now.Before(w.end(l.window)) {
		w = &clientWindow{
			limiter: rate.NewLimiter(rate.Every(l.window), l.requests),
			start:   now,
		}
		l.clients[key] = w
	}

	if w.limiter.AllowN(now, 1) {
		return true, 0
	}
	return false, w.end(l.window).Sub(now)
}

func (w *clientWindow) end(window time.Duration) time.Time {
	return w.start.Add(window)
}

// sweep drops clients whose window has ended; they would start afresh.
func (l *clientLimiter) sweep(now time.Time) {
	if now.Sub(l.lastSweep) < l.window {
		return
	}
	l.lastSweep = now
	for key, w := range l.clients {
		if !now.Before(w.end(l.window)) {
			delete(l.clients, key)
		}
	}
}

// rateLimit rejects clients that exhausted their budget with 429.
func rateLimit(l *clientLimiter) gin.HandlerFunc {
	return func(c *gin.Context) {
		ok, wait := l.allow(c.ClientIP())
		if !ok {
			c.Header("Retry-After", strconv.Itoa(int(math.Ceil(wait.Seconds()))))
			fail(c, http.StatusTooManyRequests, MsgTooManyRequests)
			return
		}
		c.Next()
	}
}
