package manifest

import (
	"encoding/binary"
	"fmt"
	"unicode/utf16"

	"github.com/moulars/moulars/internal/model"
)

// encodeManifest renders entries in the wire format (§4.G "Manifest
// format"): UTF-16LE, comma-separated fields, null-terminated records. The
// download path is the compressed-hash-named cache file, matching what
// Engine.ResolveFile looks up.
func encodeManifest(entries []model.ManifestEntry) []byte {
	var out []byte
	for _, e := range entries {
		record := fmt.Sprintf("%s,%s,%x,%x,%d,%d,%d",
			e.ClientPath,
			hashName(e.CompressedHash),
			e.UncompressedHash,
			e.CompressedHash,
			e.UncompressedSize,
			e.CompressedSize,
			e.Flags,
		)
		units := utf16.Encode([]rune(record))
		for _, u := range units {
			out = binary.LittleEndian.AppendUint16(out, u)
		}
		out = binary.LittleEndian.AppendUint16(out, 0) // null terminator
	}
	return out
}
