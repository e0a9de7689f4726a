// Command pkgdiff compares the contents of two packaged software artifacts
// (tar, deb, rpm, pkg, dmg, cpio, or a saved-tree JSON snapshot) and reports
// structural, metadata, and size differences. It is deliberately thin: flag
// parsing and result formatting only, matching the teacher's own main.go
// (plain os.Args, no subcommand framework) and spec.md's explicit Non-goal
// of CLI argument parsing being out of scope for the core.
package main

import (
	"flag"
	"fmt"
	"log"
	"os"

	"github.com/pkgtree/pkgdiff/internal/fileinfo"
	"github.com/pkgtree/pkgdiff/internal/openany"
	"github.com/pkgtree/pkgdiff/internal/savedtree"
	"github.com/pkgtree/pkgdiff/internal/treecompare"
)

type stringList []string

func (s *stringList) String() string { return fmt.Sprint(*s) }
func (s *stringList) Set(v string) error {
	*s = append(*s, v)
	return nil
}

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	fs := flag.NewFlagSet("pkgdiff", flag.ContinueOnError)
	var (
		expectedPath   = fs.String("expected", "", "reference tree: container file or saved-tree JSON snapshot (required)")
		gotPath        = fs.String("got", "", "observed tree: container file (required)")
		savePath       = fs.String("save", "", "write the observed tree as a saved-tree JSON snapshot to this path and exit")
		maxAbsIncrease = fs.Uint64("max-absolute-increase", 0, "fail size_changed if the byte delta exceeds this (0 = disabled)")
		maxPctIncrease = fs.Float64("max-percent-increase", 100, "fail size_changed if the percent delta exceeds this")
		showDecreases  = fs.Bool("show-decreases", true, "when false, size decreases pass the size threshold check unconditionally (they are still listed as size changes)")
		minCompareSize = fs.Uint64("minimum-compare-size", 0, "skip the size threshold entirely below this size on both sides")
		compareUIDGID  = fs.Bool("compare-uid-gid", true, "include uid/gid in metadata comparison")
	)
	var includes, excludes stringList
	fs.Var(&includes, "include", "regex path filter; repeatable, match-any (default: accept all)")
	fs.Var(&excludes, "exclude", "regex path filter; repeatable, match-any (default: reject none)")
	if err := fs.Parse(args); err != nil {
		return 2
	}

	logger := log.New(os.Stderr, "pkgdiff: ", 0)

	if *savePath != "" {
		if *gotPath == "" {
			fmt.Fprintln(os.Stderr, "pkgdiff: -got is required with -save")
			return 2
		}
		return doSave(*gotPath, *savePath, logger)
	}

	if *expectedPath == "" || *gotPath == "" {
		fmt.Fprintln(os.Stderr, "pkgdiff: both -expected and -got are required")
		fs.Usage()
		return 2
	}

	expected, err := openany.OpenAsMap(*expectedPath, logger)
	if err != nil {
		fmt.Fprintf(os.Stderr, "pkgdiff: reading %s: %v\n", *expectedPath, err)
		return 1
	}

	got, err := openany.Open(*gotPath, logger)
	if err != nil {
		fmt.Fprintf(os.Stderr, "pkgdiff: reading %s: %v\n", *gotPath, err)
		return 1
	}
	defer got.Close()

	flags := treecompare.Flags{
		MaxAllowedAbsoluteIncrease: *maxAbsIncrease,
		MaxAllowedPercentIncrease:  *maxPctIncrease,
		ShowDecreases:              *showDecreases,
		MinimumCompareSize:         *minCompareSize,
		IncludePatterns:            []string(includes),
		ExcludePatterns:            []string(excludes),
		CompareUIDGID:              *compareUIDGID,
	}

	result, err := treecompare.Compare(expected, got, flags)
	if err != nil {
		fmt.Fprintf(os.Stderr, "pkgdiff: %v\n", err)
		return 1
	}

	printResult(result)

	if result.Failed() {
		return 1
	}
	return 0
}

func doSave(gotPath, savePath string, logger *log.Logger) int {
	r, err := openany.Open(gotPath, logger)
	if err != nil {
		fmt.Fprintf(os.Stderr, "pkgdiff: reading %s: %v\n", gotPath, err)
		return 1
	}
	defer r.Close()

	entries, err := fileinfo.Collect(r)
	if err != nil {
		fmt.Fprintf(os.Stderr, "pkgdiff: %v\n", err)
		return 1
	}

	f, err := os.Create(savePath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "pkgdiff: %v\n", err)
		return 1
	}
	defer f.Close()

	if err := savedtree.Write(f, entries); err != nil {
		fmt.Fprintf(os.Stderr, "pkgdiff: %v\n", err)
		return 1
	}
	return 0
}

func printResult(r *treecompare.Result) {
	for _, e := range r.OnlyInExpected {
		fmt.Printf("only in expected: %s\n", e.Path)
	}
	for _, e := range r.OnlyInGot {
		fmt.Printf("only in got:      %s\n", e.Path)
	}
	for _, c := range r.SymlinkTargetChanged {
		fmt.Printf("symlink changed:  %s (%s -> %s)\n", c.Path, c.OldTarget, c.NewTarget)
	}
	for _, c := range r.MetadataChanged {
		fmt.Printf("metadata changed: %s (mode %o -> %o, uid %d -> %d, gid %d -> %d)\n",
			c.Path, c.Old.Mode, c.New.Mode, c.Old.UID, c.New.UID, c.Old.GID, c.New.GID)
	}
	for _, c := range r.SizeChanged {
		status := "pass"
		if !c.Passed {
			status = "FAIL"
		}
		fmt.Printf("size changed:     %s (%d -> %d) [%s] %s\n", c.Path, c.OldSize, c.NewSize, status, c.Message)
	}
}
