package udif

import (
	"bytes"
	"encoding/base64"
	"encoding/xml"
	"io"
	"strings"

	"github.com/pkgtree/pkgdiff/internal/containererr"
)

// Value is a narrow plist value: string, []byte (from <data>), []Value
// (from <array>), or map[string]Value (from <dict>). Only the subset the
// UDIF blkx walk needs is modeled, per spec §9 ("the core needs only a
// narrow subset: dictionary lookup and iteration").
type Value interface{}

// parsePlist decodes the first top-level value inside a <plist> document.
func parsePlist(data []byte) (Value, error) {
	dec := xml.NewDecoder(bytes.NewReader(data))
	for {
		tok, err := dec.Token()
		if err == io.EOF {
			return nil, containererr.New(containererr.MissingField, "plist: no <plist> element")
		}
		if err != nil {
			return nil, containererr.Wrap(containererr.Decoding, "plist xml", err)
		}
		if se, ok := tok.(xml.StartElement); ok && se.Name.Local == "plist" {
			start, err := nextStart(dec)
			if err != nil {
				return nil, err
			}
			return decodeElement(dec, start)
		}
	}
}

// nextStart skips whitespace CharData and returns the next StartElement.
func nextStart(dec *xml.Decoder) (xml.StartElement, error) {
	for {
		tok, err := dec.Token()
		if err != nil {
			return xml.StartElement{}, containererr.Wrap(containererr.Decoding, "plist xml", err)
		}
		if se, ok := tok.(xml.StartElement); ok {
			return se, nil
		}
	}
}

func decodeElement(dec *xml.Decoder, start xml.StartElement) (Value, error) {
	switch start.Name.Local {
	case "dict":
		return decodeDict(dec)
	case "array":
		return decodeArray(dec)
	case "string", "integer", "real", "date":
		return charData(dec)
	case "data":
		s, err := charData(dec)
		if err != nil {
			return nil, err
		}
		clean := strings.Map(func(r rune) rune {
			if r == '\n' || r == '\r' || r == ' ' || r == '\t' {
				return -1
			}
			return r
		}, s)
		b, err := base64.StdEncoding.DecodeString(clean)
		if err != nil {
			return nil, containererr.Wrap(containererr.Decoding, "plist <data>", err)
		}
		return b, nil
	case "true":
		dec.Skip()
		return true, nil
	case "false":
		dec.Skip()
		return false, nil
	default:
		dec.Skip()
		return nil, nil
	}
}

func charData(dec *xml.Decoder) (string, error) {
	var sb strings.Builder
	for {
		tok, err := dec.Token()
		if err != nil {
			return "", containererr.Wrap(containererr.Decoding, "plist xml", err)
		}
		switch t := tok.(type) {
		case xml.CharData:
			sb.Write(t)
		case xml.EndElement:
			return sb.String(), nil
		}
	}
}

func decodeDict(dec *xml.Decoder) (Value, error) {
	out := map[string]Value{}
	for {
		tok, err := dec.Token()
		if err != nil {
			return nil, containererr.Wrap(containererr.Decoding, "plist dict", err)
		}
		switch t := tok.(type) {
		case xml.StartElement:
			if t.Name.Local != "key" {
				dec.Skip()
				continue
			}
			key, err := charData(dec)
			if err != nil {
				return nil, err
			}
			valStart, err := nextStart(dec)
			if err != nil {
				return nil, err
			}
			val, err := decodeElement(dec, valStart)
			if err != nil {
				return nil, err
			}
			out[key] = val
		case xml.EndElement:
			if t.Name.Local == "dict" {
				return out, nil
			}
		}
	}
}

func decodeArray(dec *xml.Decoder) (Value, error) {
	var out []Value
	for {
		tok, err := dec.Token()
		if err != nil {
			return nil, containererr.Wrap(containererr.Decoding, "plist array", err)
		}
		switch t := tok.(type) {
		case xml.StartElement:
			val, err := decodeElement(dec, t)
			if err != nil {
				return nil, err
			}
			out = append(out, val)
		case xml.EndElement:
			if t.Name.Local == "array" {
				return out, nil
			}
		}
	}
}

// dictGet is a small helper for navigating nested map[string]Value values.
func dictGet(v Value, path ...string) (Value, bool) {
	cur := v
	for _, key := range path {
		m, ok := cur.(map[string]Value)
		if !ok {
			return nil, false
		}
		cur, ok = m[key]
		if !ok {
			return nil, false
		}
	}
	return cur, true
}
