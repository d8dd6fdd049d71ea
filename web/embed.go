package web

import "embed"

// Templates holds the server-rendered pages.
//
//go:embed templates/*.html
var Templates embed.FS
