package treecompare

import (
	"testing"

	"github.com/pkgtree/pkgdiff/internal/fileinfo"
)

// fakeReader replays a fixed slice of FileInfo as a TreeReader, standing in
// for a real container reader in these tests.
type fakeReader struct {
	entries []fileinfo.FileInfo
	pos     int
}

func (f *fakeReader) Next() (*fileinfo.FileInfo, error) {
	if f.pos >= len(f.entries) {
		return nil, nil
	}
	fi := f.entries[f.pos]
	f.pos++
	return &fi, nil
}

func (f *fakeReader) Close() error { return nil }

func toMap(entries []fileinfo.FileInfo) map[string]fileinfo.FileInfo {
	m := make(map[string]fileinfo.FileInfo, len(entries))
	for _, e := range entries {
		m[e.Path] = e
	}
	return m
}

var referenceTree = []fileinfo.FileInfo{
	{Path: "hello.txt", Mode: fileinfo.SIFREG | 0o644, UID: 0, GID: 0, Size: 11},
	{Path: "subdir", Mode: fileinfo.SIFDIR | 0o755, IsDir: true},
	{Path: "subdir/nested.txt", Mode: fileinfo.SIFREG | 0o644, Size: 4},
	{Path: "link_to_hello", Mode: fileinfo.SIFLNK | 0o777, IsSymlink: true, SymlinkTarget: "hello.txt"},
}

// Grounded on compare_test.py's test_stream_compare_identical: identical
// trees report no differences in any of the five lists.
func TestCompareIdentical(t *testing.T) {
	expected := toMap(referenceTree)
	got := &fakeReader{entries: referenceTree}

	res, err := Compare(expected, got, DefaultFlags())
	if err != nil {
		t.Fatalf("Compare: %v", err)
	}
	if len(res.OnlyInExpected) != 0 || len(res.OnlyInGot) != 0 || len(res.SymlinkTargetChanged) != 0 ||
		len(res.MetadataChanged) != 0 || len(res.SizeChanged) != 0 {
		t.Fatalf("expected no differences, got %+v", res)
	}
	if res.Failed() {
		t.Fatal("identical trees should not fail")
	}
}

// Grounded on test_stream_compare_missing_files.
func TestCompareMissingFiles(t *testing.T) {
	expected := toMap(referenceTree)
	modified := []fileinfo.FileInfo{referenceTree[0]} // only hello.txt survives
	got := &fakeReader{entries: modified}

	res, err := Compare(expected, got, DefaultFlags())
	if err != nil {
		t.Fatalf("Compare: %v", err)
	}

	missing := map[string]bool{}
	for _, e := range res.OnlyInExpected {
		missing[e.Path] = true
	}
	for _, want := range []string{"subdir/nested.txt", "subdir", "link_to_hello"} {
		if !missing[want] {
			t.Errorf("missing %q not reported in only_in_expected", want)
		}
	}
	if !res.Failed() {
		t.Fatal("missing files should fail")
	}
}

// Grounded on test_stream_compare_extra_files.
func TestCompareExtraFiles(t *testing.T) {
	expected := toMap(referenceTree)
	extra := append(append([]fileinfo.FileInfo{}, referenceTree...),
		fileinfo.FileInfo{Path: "extra/hello.txt", Mode: fileinfo.SIFREG | 0o644, Size: 5})
	got := &fakeReader{entries: extra}

	res, err := Compare(expected, got, DefaultFlags())
	if err != nil {
		t.Fatalf("Compare: %v", err)
	}

	found := false
	for _, e := range res.OnlyInGot {
		if e.Path == "extra/hello.txt" {
			found = true
		}
	}
	if !found {
		t.Error("extra/hello.txt not reported in only_in_got")
	}
}

// Grounded on test_stream_compare_mode_change / test_detects_mode_change.
func TestCompareModeChange(t *testing.T) {
	expected := toMap(referenceTree)
	changed := append([]fileinfo.FileInfo{}, referenceTree...)
	changed[0].Mode = fileinfo.SIFREG | 0o600

	got := &fakeReader{entries: changed}
	res, err := Compare(expected, got, DefaultFlags())
	if err != nil {
		t.Fatalf("Compare: %v", err)
	}

	found := false
	for _, c := range res.MetadataChanged {
		if c.Path == "hello.txt" {
			found = true
		}
	}
	if !found {
		t.Error("hello.txt mode change not reported in metadata_changed")
	}
}

// Grounded on test_stream_compare_uid_gid_change / test_stream_compare_uid_gid_ignored.
func TestCompareUIDGIDChange(t *testing.T) {
	changed := append([]fileinfo.FileInfo{}, referenceTree...)
	changed[0].UID = 99
	changed[0].GID = 99

	t.Run("compared", func(t *testing.T) {
		flags := DefaultFlags()
		flags.CompareUIDGID = true
		got := &fakeReader{entries: changed}
		res, err := Compare(toMap(referenceTree), got, flags)
		if err != nil {
			t.Fatalf("Compare: %v", err)
		}
		found := false
		for _, c := range res.MetadataChanged {
			if c.Path == "hello.txt" {
				found = true
			}
		}
		if !found {
			t.Error("uid/gid change not reported when compare_uid_gid=true")
		}
	})

	t.Run("ignored", func(t *testing.T) {
		flags := DefaultFlags()
		flags.CompareUIDGID = false
		got := &fakeReader{entries: changed}
		res, err := Compare(toMap(referenceTree), got, flags)
		if err != nil {
			t.Fatalf("Compare: %v", err)
		}
		if len(res.MetadataChanged) != 0 {
			t.Errorf("expected no metadata changes when compare_uid_gid=false, got %+v", res.MetadataChanged)
		}
	})
}

// Grounded on test_stream_compare_symlink_target_change.
func TestCompareSymlinkTargetChange(t *testing.T) {
	expected := toMap(referenceTree)
	changed := append([]fileinfo.FileInfo{}, referenceTree...)
	changed[3].SymlinkTarget = "subdir/nested.txt"

	got := &fakeReader{entries: changed}
	res, err := Compare(expected, got, DefaultFlags())
	if err != nil {
		t.Fatalf("Compare: %v", err)
	}
	if len(res.SymlinkTargetChanged) != 1 {
		t.Fatalf("expected 1 symlink change, got %d", len(res.SymlinkTargetChanged))
	}
	c := res.SymlinkTargetChanged[0]
	if c.Path != "link_to_hello" || c.OldTarget != "hello.txt" || c.NewTarget != "subdir/nested.txt" {
		t.Errorf("symlink change wrong: %+v", c)
	}
}

// Grounded on test_stream_compare_include_pattern: a path excluded by the
// include filter must never surface in only_in_expected either.
func TestCompareIncludePattern(t *testing.T) {
	expected := toMap(referenceTree)
	extra := append(append([]fileinfo.FileInfo{}, referenceTree...),
		fileinfo.FileInfo{Path: "extra/hello.txt", Mode: fileinfo.SIFREG | 0o644, Size: 5})
	got := &fakeReader{entries: extra}

	flags := DefaultFlags()
	flags.IncludePatterns = []string{"hello"}

	res, err := Compare(expected, got, flags)
	if err != nil {
		t.Fatalf("Compare: %v", err)
	}

	gotExtra := false
	for _, e := range res.OnlyInGot {
		if e.Path == "extra/hello.txt" {
			gotExtra = true
		}
	}
	if !gotExtra {
		t.Error("extra/hello.txt should be reported: matches include pattern")
	}
	for _, e := range res.OnlyInExpected {
		if e.Path == "subdir" {
			t.Error("subdir should not be reported: excluded by include pattern")
		}
	}
}

// Grounded on test_stream_compare_exclude_pattern.
func TestCompareExcludePattern(t *testing.T) {
	expected := toMap(referenceTree)
	extra := append(append([]fileinfo.FileInfo{}, referenceTree...),
		fileinfo.FileInfo{Path: "extra/hello.txt", Mode: fileinfo.SIFREG | 0o644, Size: 5})
	got := &fakeReader{entries: extra}

	flags := DefaultFlags()
	flags.ExcludePatterns = []string{"extra"}

	res, err := Compare(expected, got, flags)
	if err != nil {
		t.Fatalf("Compare: %v", err)
	}
	for _, e := range res.OnlyInGot {
		if e.Path == "extra/hello.txt" {
			t.Error("extra/hello.txt should be excluded")
		}
	}
}

func TestCheckSizeThreshold(t *testing.T) {
	t.Run("absolute increase", func(t *testing.T) {
		flags := DefaultFlags()
		flags.MaxAllowedAbsoluteIncrease = 100

		if passed, _ := CheckSizeThreshold(1000, 1050, flags); !passed {
			t.Error("50-byte increase under 100-byte threshold should pass")
		}
		passed, msg := CheckSizeThreshold(1000, 1200, flags)
		if passed {
			t.Error("200-byte increase over 100-byte threshold should fail")
		}
		if msg != "200 bytes" {
			t.Errorf("message = %q, want %q", msg, "200 bytes")
		}
	})

	t.Run("percent increase", func(t *testing.T) {
		flags := DefaultFlags()
		flags.MaxAllowedPercentIncrease = 10

		if passed, _ := CheckSizeThreshold(1000, 1050, flags); !passed {
			t.Error("5% increase under 10% threshold should pass")
		}
		passed, msg := CheckSizeThreshold(1000, 1200, flags)
		if passed {
			t.Error("20% increase over 10% threshold should fail")
		}
		if msg != "20.00%" {
			t.Errorf("message = %q, want %q", msg, "20.00%")
		}
	})

	t.Run("minimum compare size", func(t *testing.T) {
		flags := DefaultFlags()
		flags.MaxAllowedPercentIncrease = 10
		flags.MinimumCompareSize = 500

		if passed, _ := CheckSizeThreshold(100, 200, flags); !passed {
			t.Error("both sides under minimum_compare_size should always pass")
		}
		if passed, _ := CheckSizeThreshold(1000, 2000, flags); passed {
			t.Error("both sides over minimum_compare_size should apply percent check")
		}
	})

	t.Run("show decreases false", func(t *testing.T) {
		flags := DefaultFlags()
		flags.MaxAllowedPercentIncrease = 10
		flags.ShowDecreases = false

		if passed, _ := CheckSizeThreshold(1000, 100, flags); !passed {
			t.Error("decrease should always pass when show_decreases=false")
		}
	})

	t.Run("show decreases true", func(t *testing.T) {
		flags := DefaultFlags()
		flags.MaxAllowedPercentIncrease = 10
		flags.ShowDecreases = true

		if passed, _ := CheckSizeThreshold(1000, 100, flags); !passed {
			t.Error("a negative percent delta never exceeds a positive threshold")
		}
	})

	t.Run("zero old size with positive delta is treated as infinite increase", func(t *testing.T) {
		flags := DefaultFlags()
		if passed, _ := CheckSizeThreshold(0, 10, flags); passed {
			t.Error("growth from zero bytes should fail the percent check")
		}
	})
}
