package connect

import (
	"embed"
	"io/fs"
)

// Templates and assets are embedded together. A views directory on disk can
// still be used during development.
//
//go:embed views public
var embeddedFS embed.FS

// GetViewsFS returns the page templates rooted at the views directory
func GetViewsFS() fs.FS {
	return mustSub("views")
}

// GetPublicFS returns the static assets served under /static
func GetPublicFS() fs.FS {
	return mustSub("public")
}

func mustSub(dir string) fs.FS {
	sub, err := fs.Sub(embeddedFS, dir)
	if err != nil {
		panic(err)
	}
	return sub
}
