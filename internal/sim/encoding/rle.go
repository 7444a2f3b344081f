// Package encoding packs grids of template ids for the observer feed.
package encoding

import (
	"bytes"
	"encoding/base64"
	"encoding/binary"
	"fmt"
	"sort"
)

// TerrainEncoding names the format produced by EncodeTerrain.
const TerrainEncoding = "RLE_UVARINT_B64"

// EncodeRLE encodes a sequence of palette indexes into base64(varint pairs).
// The pairs are (index, run_len) repeated.
func EncodeRLE(ids []uint16) string {
	var buf bytes.Buffer
	var tmp [binary.MaxVarintLen64]byte

	i := 0
	for i < len(ids) {
		b := ids[i]
		run := 1
		for j := i + 1; j < len(ids) && ids[j] == b && run < 1<<31; j++ {
			run++
		}

		n := binary.PutUvarint(tmp[:], uint64(b))
		buf.Write(tmp[:n])
		n = binary.PutUvarint(tmp[:], uint64(run))
		buf.Write(tmp[:n])

		i += run
	}

	return base64.StdEncoding.EncodeToString(buf.Bytes())
}

func DecodeRLE(b64 string) ([]uint16, error) {
	raw, err := base64.StdEncoding.DecodeString(b64)
	if err != nil {
		return nil, err
	}
	var out []uint16
	for i := 0; i < len(raw); {
		b, n := binary.Uvarint(raw[i:])
		if n <= 0 {
			return nil, fmt.Errorf("bad varint at %d", i)
		}
		i += n
		run, n := binary.Uvarint(raw[i:])
		if n <= 0 {
			return nil, fmt.Errorf("bad varint at %d", i)
		}
		i += n
		if b > 0xFFFF {
			return nil, fmt.Errorf("palette index too large: %d", b)
		}
		for k := 0; k < int(run); k++ {
			out = append(out, uint16(b))
		}
	}
	return out, nil
}

// EncodeTerrain maps cells onto a sorted palette of their distinct ids and
// run-length encodes the indexes.
func EncodeTerrain(cells []string) (palette []string, data string) {
	seen := map[string]bool{}
	for _, c := range cells {
		if !seen[c] {
			seen[c] = true
			palette = append(palette, c)
		}
	}
	sort.Strings(palette)
	index := make(map[string]uint16, len(palette))
	for i, id := range palette {
		index[id] = uint16(i)
	}
	ids := make([]uint16, len(cells))
	for i, c := range cells {
		ids[i] = index[c]
	}
	return palette, EncodeRLE(ids)
}

func DecodeTerrain(palette []string, data string) ([]string, error) {
	ids, err := DecodeRLE(data)
	if err != nil {
		return nil, err
	}
	out := make([]string, len(ids))
	for i, id := range ids {
		if int(id) >= len(palette) {
			return nil, fmt.Errorf("palette index %d out of range at %d", id, i)
		}
		out[i] = palette[id]
	}
	return out, nil
}
