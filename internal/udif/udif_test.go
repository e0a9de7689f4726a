package udif

import (
	"bytes"
	"compress/zlib"
	"testing"
)

func TestParsePlistDictAndArray(t *testing.T) {
	doc := `<?xml version="1.0" encoding="UTF-8"?>
<!DOCTYPE plist PUBLIC "-//Apple//DTD PLIST 1.0//EN" "http://www.apple.com/DTDs/PropertyList-1.0.dtd">
<plist version="1.0">
<dict>
	<key>resource-fork</key>
	<dict>
		<key>blkx</key>
		<array>
			<dict>
				<key>Name</key>
				<string>Apple_HFS</string>
				<key>Attributes</key>
				<string>0x0050</string>
			</dict>
		</array>
	</dict>
</dict>
</plist>`

	v, err := parsePlist([]byte(doc))
	if err != nil {
		t.Fatalf("parsePlist: %v", err)
	}
	blkx, ok := dictGet(v, "resource-fork", "blkx")
	if !ok {
		t.Fatalf("resource-fork.blkx not found")
	}
	arr, ok := blkx.([]Value)
	if !ok || len(arr) != 1 {
		t.Fatalf("blkx = %#v, want 1-element array", blkx)
	}
	entry, ok := arr[0].(map[string]Value)
	if !ok {
		t.Fatalf("blkx[0] = %#v, want dict", arr[0])
	}
	if name, _ := entry["Name"].(string); name != "Apple_HFS" {
		t.Errorf("Name = %q, want Apple_HFS", name)
	}
}

func TestParsePlistData(t *testing.T) {
	doc := `<plist version="1.0"><dict><key>Data</key><data>aGVsbG8=</data></dict></plist>`
	v, err := parsePlist([]byte(doc))
	if err != nil {
		t.Fatalf("parsePlist: %v", err)
	}
	d, ok := dictGet(v, "Data")
	if !ok {
		t.Fatalf("Data not found")
	}
	b, ok := d.([]byte)
	if !ok || string(b) != "hello" {
		t.Errorf("Data = %#v, want []byte(hello)", d)
	}
}

// buildKolyDmg assembles a minimal UDIF image with a single Apple_HFS blkx
// partition holding one raw chunk and one zlib chunk, enough to exercise
// ReadImage end to end without a real hdiutil-produced file.
func buildKolyDmg(t *testing.T, rawChunkData, zlibPlain []byte) []byte {
	t.Helper()

	var zlibCompressed bytes.Buffer
	zw := zlib.NewWriter(&zlibCompressed)
	if _, err := zw.Write(zlibPlain); err != nil {
		t.Fatalf("zlib write: %v", err)
	}
	if err := zw.Close(); err != nil {
		t.Fatalf("zlib close: %v", err)
	}

	var heap bytes.Buffer
	rawOff := heap.Len()
	heap.Write(rawChunkData)
	zlibOff := heap.Len()
	heap.Write(zlibCompressed.Bytes())

	rawSectors := uint64((len(rawChunkData) + sectorSize - 1) / sectorSize)
	zlibSectors := uint64((len(zlibPlain) + sectorSize - 1) / sectorSize)

	mish := make([]byte, 204+2*chunkDescLen)
	putU32(mish[0:4], mishMagic)
	putU64(mish[8:16], 0)                       // first_sector
	putU64(mish[16:24], rawSectors+zlibSectors) // sector_count
	putU32(mish[200:204], 2)                    // num_chunks

	writeChunk(mish[204:204+chunkDescLen], chunkRaw, 0, rawSectors, uint64(rawOff), uint64(len(rawChunkData)))
	writeChunk(mish[204+chunkDescLen:204+2*chunkDescLen], chunkZlib, rawSectors, zlibSectors, uint64(zlibOff), uint64(zlibCompressed.Len()))

	plist := `<plist version="1.0"><dict><key>resource-fork</key><dict><key>blkx</key><array>` +
		`<dict><key>Name</key><string>Apple_HFS</string><key>Data</key><data>` +
		base64Encode(mish) + `</data></dict>` +
		`</array></dict></dict></plist>`

	var out bytes.Buffer
	out.Write(heap.Bytes())
	xmlOffset := int64(out.Len())
	out.WriteString(plist)
	xmlLength := int64(len(plist))

	trailer := make([]byte, trailerSize)
	putU32(trailer[0:4], kolyMagic)
	putU64(trailer[216:224], uint64(xmlOffset))
	putU64(trailer[224:232], uint64(xmlLength))
	out.Write(trailer)

	return out.Bytes()
}

func putU32(b []byte, v uint32) {
	b[0] = byte(v >> 24)
	b[1] = byte(v >> 16)
	b[2] = byte(v >> 8)
	b[3] = byte(v)
}

func putU64(b []byte, v uint64) {
	for i := 0; i < 8; i++ {
		b[7-i] = byte(v >> (8 * i))
	}
}

func writeChunk(b []byte, typ uint32, sectorNumber, sectorCount, compOff, compLen uint64) {
	putU32(b[0:4], typ)
	putU64(b[8:16], sectorNumber)
	putU64(b[16:24], sectorCount)
	putU64(b[24:32], compOff)
	putU64(b[32:40], compLen)
}

func base64Encode(b []byte) string {
	const alphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789+/"
	var sb []byte
	for i := 0; i < len(b); i += 3 {
		var chunk [3]byte
		end := i + 3
		if end > len(b) {
			end = len(b)
		}
		n := copy(chunk[:], b[i:end])
		sb = append(sb,
			alphabet[chunk[0]>>2],
			alphabet[(chunk[0]&0x03)<<4|chunk[1]>>4])
		if n > 1 {
			sb = append(sb, alphabet[(chunk[1]&0x0F)<<2|chunk[2]>>6])
		} else {
			sb = append(sb, '=')
		}
		if n > 2 {
			sb = append(sb, alphabet[chunk[2]&0x3F])
		} else {
			sb = append(sb, '=')
		}
	}
	return string(sb)
}

func TestReadImageRawAndZlibChunks(t *testing.T) {
	rawData := bytes.Repeat([]byte{0xAB}, sectorSize)
	zlibPlain := bytes.Repeat([]byte{0xCD}, sectorSize)
	data := buildKolyDmg(t, rawData, zlibPlain)

	image, err := ReadImage(bytes.NewReader(data), int64(len(data)), nil)
	if err != nil {
		t.Fatalf("ReadImage: %v", err)
	}
	if len(image) < 2*sectorSize {
		t.Fatalf("image too short: %d bytes", len(image))
	}
	if !bytes.Equal(image[0:sectorSize], rawData) {
		t.Errorf("raw chunk sector mismatch")
	}
	if !bytes.Equal(image[sectorSize:2*sectorSize], zlibPlain) {
		t.Errorf("zlib chunk sector mismatch")
	}
}

func TestReadImageBadMagic(t *testing.T) {
	data := make([]byte, trailerSize)
	if _, err := ReadImage(bytes.NewReader(data), int64(len(data)), nil); err == nil {
		t.Fatal("expected error for bad koly magic, got nil")
	}
}
