package transform

import (
	"encoding/binary"
	"encoding/hex"

	"github.com/zeebo/blake3"

	"datalineage/internal/table"
)

// statsKey derives a cache key from the frame's shape, column names, every
// cell and the requested columns. Two frames share a key only when their
// contents are identical, so a cache hit never changes the result.
func statsKey(f *table.Frame, columns []string) string {
	h := blake3.New()
	var buf [8]byte
	writeInt := func(n int) {
		binary.LittleEndian.PutUint64(buf[:], uint64(n))
		h.Write(buf[:])
	}
	writeString := func(s string) {
		writeInt(len(s))
		h.Write([]byte(s))
	}

	writeInt(f.NumRows())
	writeInt(f.NumCols())
	for _, name := range f.ColumnNames() {
		writeString(name)
		col, _ := f.Column(name)
		for _, cell := range col.Cells {
			if !cell.Valid {
				h.Write([]byte{0})
				continue
			}
			h.Write([]byte{1})
			writeString(cell.Value)
		}
	}
	writeInt(len(columns))
	for _, c := range columns {
		writeString(c)
	}
	return hex.EncodeToString(h.Sum(nil))
}
