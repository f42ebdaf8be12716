package httpapi

import (
	"embed"
	"io/fs"
)

//go:embed assets
var embedded embed.FS

// assetsFS holds the page shell and static files with the assets/ prefix
// removed.
var assetsFS = subFS(embedded, "assets")

func subFS(fsys fs.FS, dir string) fs.FS {
	sub, err := fs.Sub(fsys, dir)
	if err != nil {
		return fsys
	}
	return sub
}
