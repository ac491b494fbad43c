package fatfs

import (
	"strings"
	"unicode"

	"golang.org/x/text/encoding/charmap"
)

// Short (8.3) name handling. On disk a name is 11 bytes: an 8-byte base
// and a 3-byte extension, both upper case and space padded, encoded in the
// OEM code page. This driver uses code page 437, the PC hardware default.

// dos-invalid punctuation that gets substituted rather than rejected.
const sfnSubstituted = `"*+,:;<=>?[]|`

// normalizeName converts a filename into its on-disk 11-byte form. Base
// and extension longer than 8 and 3 bytes are silently truncated. The
// special names "." and ".." normalize to their literal padded forms.
func normalizeName(name string) ([11]byte, fileResult) {
	var out [11]byte
	for i := range out {
		out[i] = ' '
	}
	if name == "" {
		return out, frInvalidParameter
	}
	if name == "." || name == ".." {
		copy(out[:], name)
		return out, frOK
	}

	base, ext := name, ""
	if dot := strings.LastIndexByte(name, '.'); dot >= 0 {
		base, ext = name[:dot], name[dot+1:]
	}
	if base == "" {
		return out, frInvalidParameter
	}
	if fr := packNameField(out[:8], base); fr != frOK {
		return out, fr
	}
	if fr := packNameField(out[8:11], ext); fr != frOK {
		return out, fr
	}
	return out, frOK
}

func packNameField(dst []byte, field string) fileResult {
	i := 0
	for _, r := range field {
		if i >= len(dst) {
			break // Truncate, matching what the record format can hold.
		}
		b, ok := oemByte(r)
		if !ok {
			return frInvalidParameter
		}
		dst[i] = b
		i++
	}
	return frOK
}

// oemByte maps one rune to its upper-cased OEM byte. Control characters,
// separators and runes outside code page 437 make a name invalid.
func oemByte(r rune) (byte, bool) {
	r = unicode.ToUpper(r)
	switch {
	case r < 0x20 || r == 0x7F || r == '/' || r == '\\' || r == '.':
		return 0, false
	case strings.ContainsRune(sfnSubstituted, r):
		return '_', true
	case r < 0x80:
		return byte(r), true
	}
	return charmap.CodePage437.EncodeRune(r)
}

// compareName is byte-wise equality over normalized 11-byte names.
func compareName(a, b [11]byte) bool {
	return a == b
}
