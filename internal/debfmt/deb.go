// Package debfmt opens a Debian .deb package (an ar archive wrapping a
// data.tar{,.gz,.xz} member) and dispatches its payload to tarfmt (spec §4.7).
package debfmt

import (
	"io"
	"log"
	"strings"

	"github.com/blakesmith/ar"
	"github.com/pkgtree/pkgdiff/internal/containererr"
	"github.com/pkgtree/pkgdiff/internal/fileinfo"
	"github.com/pkgtree/pkgdiff/internal/tarfmt"
)

// Open streams the ar framing of a .deb file read from r, locates its
// data.tar{,.gz,.xz} member, and returns a TreeReader over that member's
// contents. Mirrors the etnz-apt-repo-builder reader: walk ar.Reader.Next()
// until the wanted member name turns up, then read its content directly off
// the positioned ar.Reader.
func Open(r io.Reader, logger *log.Logger) (fileinfo.TreeReader, error) {
	arR := ar.NewReader(r)
	for {
		header, err := arR.Next()
		if err == io.EOF {
			return nil, containererr.New(containererr.MissingField, "deb: no data.tar member")
		}
		if err != nil {
			return nil, containererr.Wrap(containererr.Truncated, "ar member header", err)
		}
		if strings.HasPrefix(header.Name, "data.tar") {
			return tarfmt.New(io.NopCloser(arR), header.Name, tarfmt.Auto, logger)
		}
	}
}
