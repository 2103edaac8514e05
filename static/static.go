// Package static embeds the stylesheet and browser scripts served under /static/.
package static

import "embed"

//go:embed *.css *.js
var FS embed.FS
