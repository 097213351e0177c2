// Package assets manages on-disk source images, logos, backdrops and font
// files, including download, path layout and filesize compression.
package assets

import "strings"

// sanitizeReplacer maps filesystem-hostile characters to safe stand-ins.
// The output never contains a character from the forbidden set, which also
// makes sanitization idempotent.
var sanitizeReplacer = strings.NewReplacer(
	"?", "!",
	"<", "",
	">", "",
	":", " -",
	"\"", "",
	"|", "",
	"*", "-",
	"/", "+",
	"\\", "+",
)

// Sanitize rewrites a name so it is safe as a file or directory name.
func Sanitize(name string) string {
	return strings.TrimSpace(sanitizeReplacer.Replace(name))
}
