// Package static embeds the HTML views rendered by the server.
package static

import "embed"

//go:embed *.html
var Views embed.FS
