package rpmfmt

import (
	"reflect"
	"testing"
)

func TestHeaderBuildParseRoundTrip(t *testing.T) {
	var b HeaderBuilder
	b.AddInt32(TagSize, []uint32{12345})
	b.AddString(TagName, "example")
	b.AddStringArray(TagBasenames, []string{"a", "bb", "ccc"})
	b.AddInt16(TagFileModes, []uint16{0o755, 0o644})
	b.AddBin(TagFileMD5s, []byte{0x01, 0x02, 0x03, 0x04})

	buf := b.Build()

	hdr, consumed, err := ParseHeader(buf)
	if err != nil {
		t.Fatalf("ParseHeader: %v", err)
	}
	if consumed != len(buf) {
		t.Errorf("consumed %d, want %d (entire buffer)", consumed, len(buf))
	}

	if got := hdr.String(TagName); got != "example" {
		t.Errorf("TagName = %q, want %q", got, "example")
	}
	if got := hdr.Int32(TagSize); got != 12345 {
		t.Errorf("TagSize = %d, want 12345", got)
	}

	v, ok := hdr.Get(TagBasenames)
	if !ok {
		t.Fatal("TagBasenames missing")
	}
	if !reflect.DeepEqual(v.StrArray, []string{"a", "bb", "ccc"}) {
		t.Errorf("TagBasenames = %v, want [a bb ccc]", v.StrArray)
	}

	v, ok = hdr.Get(TagFileModes)
	if !ok {
		t.Fatal("TagFileModes missing")
	}
	if !reflect.DeepEqual(v.Int16s, []uint16{0o755, 0o644}) {
		t.Errorf("TagFileModes = %v, want [755 644]", v.Int16s)
	}

	v, ok = hdr.Get(TagFileMD5s)
	if !ok {
		t.Fatal("TagFileMD5s missing")
	}
	if !reflect.DeepEqual(v.Bin, []byte{0x01, 0x02, 0x03, 0x04}) {
		t.Errorf("TagFileMD5s = %v, want [1 2 3 4]", v.Bin)
	}
}

// Tags must come out sorted ascending in the on-disk index regardless of
// insertion order, since readers (including rpm itself) may binary-search it.
func TestHeaderEntriesSortedByTag(t *testing.T) {
	var b HeaderBuilder
	b.AddString(TagGroup, "g")       // 1016
	b.AddString(TagName, "n")        // 1000
	b.AddString(TagDescription, "d") // 1005

	buf := b.Build()
	hdr, _, err := ParseHeader(buf)
	if err != nil {
		t.Fatalf("ParseHeader: %v", err)
	}

	var tags []uint32
	for _, e := range hdr.Entries {
		tags = append(tags, e.Tag)
	}
	for i := 1; i < len(tags); i++ {
		if tags[i-1] > tags[i] {
			t.Fatalf("entries not sorted by tag: %v", tags)
		}
	}
}

// TypeInt32 values must land on a 4-byte aligned offset in the data store,
// even when a preceding string left the cursor unaligned.
func TestHeaderInt32Alignment(t *testing.T) {
	var b HeaderBuilder
	b.AddString(TagName, "ab") // 3 bytes incl. NUL -> leaves the data store unaligned
	b.AddInt32(TagSize, []uint32{1})

	buf := b.Build()
	hdr, _, err := ParseHeader(buf)
	if err != nil {
		t.Fatalf("ParseHeader: %v", err)
	}
	if got := hdr.Int32(TagSize); got != 1 {
		t.Errorf("TagSize = %d, want 1", got)
	}
	// TagSize is the second index entry: 16-byte preamble, 16 bytes per
	// entry, offset field 8 bytes in, so its offset sits at buf[40:44].
	off := uint32(buf[40])<<24 | uint32(buf[41])<<16 | uint32(buf[42])<<8 | uint32(buf[43])
	if off%4 != 0 {
		t.Errorf("TagSize data offset = %d, want a multiple of 4", off)
	}
}

func TestHeaderEmptyBuilds(t *testing.T) {
	var b HeaderBuilder
	buf := b.Build()
	hdr, consumed, err := ParseHeader(buf)
	if err != nil {
		t.Fatalf("ParseHeader: %v", err)
	}
	if consumed != len(buf) {
		t.Errorf("consumed %d, want %d", consumed, len(buf))
	}
	if len(hdr.Entries) != 0 {
		t.Errorf("expected no entries, got %d", len(hdr.Entries))
	}
}

func TestHeaderBadMagic(t *testing.T) {
	buf := make([]byte, 16)
	if _, _, err := ParseHeader(buf); err == nil {
		t.Fatal("expected error for bad magic, got nil")
	}
}
