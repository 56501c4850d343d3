// Package web serves the static dashboard of the monitoring server.
package web

import (
	"embed"
	"fmt"
	"io/fs"
	"net/http"
	"os"
	"path/filepath"
	"runtime"
	"strings"
)

//go:embed dist/*
var staticAssets embed.FS

// DevModeEnv is the environment variable that makes the server read the
// assets from disk instead of the embedded copy.
const DevModeEnv = "INTERSIM_MONITOR_DEV"

// SourceDir returns the on-disk dist directory when DevModeEnv is set to
// "true" or "1", and an empty string otherwise.
func SourceDir() string {
	switch strings.ToLower(os.Getenv(DevModeEnv)) {
	case "true", "1":
	default:
		return ""
	}

	_, file, _, ok := runtime.Caller(0)
	if !ok {
		return ""
	}

	return filepath.Join(filepath.Dir(file), "dist")
}

// Dashboard returns a handler serving the dashboard files. An empty dir
// serves the copy embedded in the binary. Files read from disk are sent
// with caching disabled so that edits show on reload.
func Dashboard(dir string) (http.Handler, error) {
	if dir == "" {
		sub, err := fs.Sub(staticAssets, "dist")
		if err != nil {
			return nil, err
		}

		return readOnly(http.FileServer(http.FS(sub))), nil
	}

	info, err := os.Stat(dir)
	if err != nil {
		return nil, fmt.Errorf("dashboard assets: %w", err)
	}

	if !info.IsDir() {
		return nil, fmt.Errorf("dashboard assets: %s is not a directory", dir)
	}

	files := http.FileServer(http.Dir(dir))

	return readOnly(http.HandlerFunc(
		func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Cache-Control", "no-store")
			files.ServeHTTP(w, r)
		})), nil
}

func readOnly(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet && r.Method != http.MethodHead {
			w.Header().Set("Allow", "GET, HEAD")
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}

		next.ServeHTTP(w, r)
	})
}
