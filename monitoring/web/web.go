// Package web holds the page served by the monitor.
package web

import (
	"embed"
	"fmt"
	"io/fs"
	"net/http"
	"os"
)

// AssetsDirEnv names a directory to serve the page from instead of the
// embedded copy, so that the page can be edited without rebuilding.
const AssetsDirEnv = "DELAYREG_MONITOR_ASSETS"

//go:embed dist/*
var staticAssets embed.FS

// Assets returns the files of the monitor page.
func Assets() http.FileSystem {
	if dir := os.Getenv(AssetsDirEnv); dir != "" {
		fmt.Fprintf(os.Stderr, "Serving monitor assets from %s\n", dir)
		return http.Dir(dir)
	}

	dist, err := fs.Sub(staticAssets, "dist")
	if err != nil {
		panic(err)
	}

	return http.FS(dist)
}
