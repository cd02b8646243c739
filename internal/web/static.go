// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Flow Contributors

package web

import (
	"net/http"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/gin-gonic/gin"
)

const indexFile = "index.html"

var cacheControlByExt = map[string]string{
	".css":  "public, max-age=300",
	".js":   "public, max-age=300",
	".png":  "public, max-age=86400",
	".jpg":  "public, max-age=86400",
	".jpeg": "public, max-age=86400",
	".gif":  "public, max-age=86400",
	".webp": "public, max-age=86400",
	".svg":  "public, max-age=86400",
	".ico":  "public, max-age=86400",
}

func isAPIPath(p string) bool {
	return p == "/api" || strings.HasPrefix(p, "/api/")
}

// apiPathsOnly runs h for /api paths and skips it for everything else.
func apiPathsOnly(h gin.HandlerFunc) gin.HandlerFunc {
	return func(c *gin.Context) {
		if isAPIPath(c.Request.URL.Path) {
			h(c)
			return
		}
		c.Next()
	}
}

// staticFiles serves the landing page assets for every route the API does
// not claim. Unknown /api paths always get the JSON 404.
func staticFiles(root string) gin.HandlerFunc {
	return func(c *gin.Context) {
		urlPath := c.Request.URL.Path
		if isAPIPath(urlPath) {
			notFound(c)
			return
		}
		if c.Request.Method != http.MethodGet && c.Request.Method != http.MethodHead {
			c.String(http.StatusNotFound, "Not Found")
			return
		}

		name, ok := resolveStatic(root, urlPath)
		if !ok {
			c.String(http.StatusNotFound, "Not Found")
			return
		}
		f, err := os.Open(name)
		if err != nil {
			c.String(http.StatusNotFound, "Not Found")
			return
		}
		defer f.Close()
		info, err := f.Stat()
		if err != nil || info.IsDir() {
			c.String(http.StatusNotFound, "Not Found")
			return
		}

		if cc, ok := cacheControlByExt[strings.ToLower(filepath.Ext(name))]; ok {
			c.Header("Cache-Control", cc)
		}
		http.ServeContent(c.Writer, c.Request, info.Name(), info.ModTime(), f)
	}
}

// resolveStatic maps a URL path to a file under root. Dotfiles and
// anything outside root are refused; directories resolve to their index.
func resolveStatic(root, urlPath string) (string, bool) {
	clean := path.Clean("/" + urlPath)
	for _, seg := range strings.Split(clean, "/") {
		if strings.HasPrefix(seg, ".") {
			return "", false
		}
	}

	name := filepath.Join(root, filepath.FromSlash(clean))
	if info, err := os.Stat(name); err == nil && info.IsDir() {
		name = filepath.Join(name, indexFile)
	}
	return name, true
}
