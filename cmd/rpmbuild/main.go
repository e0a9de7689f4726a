// Command rpmbuild synthesizes an RPM v3 package from a saved-tree JSON
// file list (internal/savedtree) and package metadata given on the command
// line. It exercises rpmfmt.Writer end to end; actual file content comes
// from a content root directory, looked up by each entry's path. Thin CLI
// glue only, in the teacher's plain-flags style (see cmd/pkgdiff).
package main

import (
	"flag"
	"fmt"
	"os"
	"path/filepath"

	"github.com/pkgtree/pkgdiff/internal/fileinfo"
	"github.com/pkgtree/pkgdiff/internal/rpmfmt"
	"github.com/pkgtree/pkgdiff/internal/savedtree"
)

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	fs := flag.NewFlagSet("rpmbuild", flag.ContinueOnError)
	var (
		treePath    = fs.String("tree", "", "saved-tree JSON file list (required)")
		contentRoot = fs.String("root", "", "directory holding regular-file content, looked up by path (required)")
		out         = fs.String("out", "", "output .rpm path (required)")
		name        = fs.String("name", "", "package name (required)")
		version     = fs.String("version", "", "package version (required)")
		release     = fs.String("release", "1", "package release")
		arch        = fs.String("arch", "noarch", "package arch")
		osName      = fs.String("os", "linux", "package os")
		summary     = fs.String("summary", "", "package summary")
		description = fs.String("description", "", "package description")
		license     = fs.String("license", "Unknown", "package license")
		group       = fs.String("group", "Unspecified", "package group")
		compression = fs.String("compression", "gzip", "payload compression: gzip, xz, or none")
	)
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if *treePath == "" || *out == "" || *name == "" || *version == "" {
		fmt.Fprintln(os.Stderr, "rpmbuild: -tree, -out, -name, and -version are required")
		fs.Usage()
		return 2
	}

	tf, err := os.Open(*treePath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "rpmbuild: %v\n", err)
		return 1
	}
	entries, err := savedtree.Read(tf)
	tf.Close()
	if err != nil {
		fmt.Fprintf(os.Stderr, "rpmbuild: %v\n", err)
		return 1
	}

	w := rpmfmt.NewWriter(*name, *version)
	w.Release = *release
	w.Arch = *arch
	w.OS = *osName
	w.Summary = *summary
	w.Description = *description
	w.License = *license
	w.Group = *group
	w.Compression = *compression

	for _, e := range entries {
		if err := addEntry(w, e, *contentRoot); err != nil {
			fmt.Fprintf(os.Stderr, "rpmbuild: %s: %v\n", e.Path, err)
			return 1
		}
	}

	if err := w.WriteFile(*out); err != nil {
		fmt.Fprintf(os.Stderr, "rpmbuild: writing %s: %v\n", *out, err)
		return 1
	}
	return 0
}

func addEntry(w *rpmfmt.Writer, e fileinfo.FileInfo, contentRoot string) error {
	switch {
	case e.IsDir:
		w.AddDirectory(e.Path, e.Mode, e.UID, e.GID, "root", "root")
	case e.IsSymlink:
		w.AddSymlink(e.Path, e.SymlinkTarget, e.Mode, e.UID, e.GID, "root", "root")
	default:
		content, err := os.ReadFile(filepath.Join(contentRoot, e.Path))
		if err != nil {
			return err
		}
		w.AddFile(e.Path, content, e.Mode, e.UID, e.GID, "root", "root")
	}
	return nil
}
