// Package dmgfmt composes udif and hfsplus into a sorted FileInfo list for a
// macOS .dmg disk image, recursing one level into any embedded .pkg member
// via xarfmt (spec §4.11).
package dmgfmt

import (
	"bytes"
	"io"
	"log"
	"sort"

	"github.com/pkgtree/pkgdiff/internal/fileinfo"
	"github.com/pkgtree/pkgdiff/internal/hfsplus"
	"github.com/pkgtree/pkgdiff/internal/udif"
	"github.com/pkgtree/pkgdiff/internal/xarfmt"
)

const pkgPathPrefix = "@PKG@/"

// Read decodes a .dmg image backed by ra (total length size) into a sorted
// FileInfo list, including the contents of any embedded .pkg found at the
// top level (one recursion level only, spec §4.11 / Open Questions).
func Read(ra io.ReaderAt, size int64, logger *log.Logger) ([]fileinfo.FileInfo, error) {
	image, err := udif.ReadImage(ra, size, logger)
	if err != nil {
		return nil, err
	}

	hr, err := hfsplus.Open(image)
	if err != nil {
		return nil, err
	}

	var out []fileinfo.FileInfo
	for _, e := range hr.Entries() {
		path, err := hr.BuildPath(e.CNID)
		if err != nil {
			if logger != nil {
				logger.Printf("dmgfmt: skipping entry cnid=%d: %v", e.CNID, err)
			}
			continue
		}

		fi := fileinfo.FileInfo{
			Path:  path,
			Mode:  hfsplus.ModeOrDefault(e),
			UID:   e.UID,
			GID:   e.GID,
			IsDir: e.IsDir,
		}
		if !e.IsDir {
			fi.Size = int64(e.LogicalSize)
		}
		out = append(out, fi)

		if !e.IsDir && hasPkgSuffix(path) {
			content, err := hr.ReadFile(e)
			if err != nil {
				if logger != nil {
					logger.Printf("dmgfmt: skipping unreadable pkg %q: %v", path, err)
				}
				continue
			}
			nested, err := readNestedPkg(content)
			if err != nil {
				if logger != nil {
					logger.Printf("dmgfmt: skipping pkg %q: %v", path, err)
				}
				continue
			}
			out = append(out, nested...)
		}
	}

	sort.Slice(out, func(i, j int) bool { return out[i].Path < out[j].Path })
	return out, nil
}

func hasPkgSuffix(path string) bool {
	return len(path) > 4 && path[len(path)-4:] == ".pkg"
}

func readNestedPkg(content []byte) ([]fileinfo.FileInfo, error) {
	if len(content) < 4 || string(content[0:4]) != "xar!" {
		return nil, nil
	}
	r, err := xarfmt.Open(bytes.NewReader(content), int64(len(content)))
	if err != nil {
		return nil, err
	}
	defer r.Close()

	entries, err := fileinfo.Collect(r)
	if err != nil {
		return nil, err
	}
	for i := range entries {
		entries[i].Path = pkgPathPrefix + entries[i].Path
	}
	return entries, nil
}
