package blob

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
)

// Compression identifies the codec used for a stored object. The tag is the
// first byte of every object; the values are part of the on-disk format.
type Compression uint8

const (
	CompressionNone Compression = 0
	CompressionLZ4  Compression = 1
	CompressionZstd Compression = 2
)

func (c Compression) String() string {
	switch c {
	case CompressionNone:
		return "none"
	case CompressionLZ4:
		return "lz4"
	case CompressionZstd:
		return "zstd"
	default:
		return fmt.Sprintf("unknown(%d)", uint8(c))
	}
}

// ParseCompression parses a codec name.
func ParseCompression(name string) (Compression, error) {
	switch name {
	case "", "none":
		return CompressionNone, nil
	case "lz4":
		return CompressionLZ4, nil
	case "zstd":
		return CompressionZstd, nil
	default:
		return 0, fmt.Errorf("unknown compression %q", name)
	}
}

var errIncompressible = errors.New("incompressible")

var (
	zstdEncoder *zstd.Encoder
	zstdDecoder *zstd.Decoder
)

func init() {
	var err error
	zstdEncoder, err = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		panic("blob: zstd encoder initialization failed: " + err.Error())
	}
	zstdDecoder, err = zstd.NewReader(nil)
	if err != nil {
		panic("blob: zstd decoder initialization failed: " + err.Error())
	}
}

// encode frames data as [tag][uvarint size][payload]. Data that does not
// shrink is stored uncompressed.
func encode(data []byte, c Compression) ([]byte, error) {
	payload, tag := data, CompressionNone
	if len(data) > 0 && c != CompressionNone {
		var (
			out []byte
			err error
		)
		switch c {
		case CompressionLZ4:
			out, err = compressLZ4(data)
		case CompressionZstd:
			out, err = compressZstd(data)
		default:
			return nil, fmt.Errorf("unsupported compression %s", c)
		}
		switch {
		case err == nil:
			payload, tag = out, c
		case !errors.Is(err, errIncompressible):
			return nil, err
		}
	}
	header := make([]byte, 1+binary.MaxVarintLen64)
	header[0] = byte(tag)
	n := binary.PutUvarint(header[1:], uint64(len(data)))
	return append(header[:1+n], payload...), nil
}

// decode reverses encode.
func decode(framed []byte) ([]byte, error) {
	if len(framed) < 2 {
		return nil, fmt.Errorf("blob frame too short (%d bytes)", len(framed))
	}
	size, n := binary.Uvarint(framed[1:])
	if n <= 0 {
		return nil, fmt.Errorf("blob frame has a corrupt size header")
	}
	payload := framed[1+n:]
	switch tag := Compression(framed[0]); tag {
	case CompressionNone:
		if uint64(len(payload)) != size {
			return nil, fmt.Errorf("blob frame: size %d does not match header %d", len(payload), size)
		}
		return payload, nil
	case CompressionLZ4:
		return decompressLZ4(payload, int(size))
	case CompressionZstd:
		return decompressZstd(payload, int(size))
	default:
		return nil, fmt.Errorf("blob frame: unsupported compression %s", tag)
	}
}

func compressLZ4(data []byte) ([]byte, error) {
	dst := make([]byte, lz4.CompressBlockBound(len(data)))
	written, err := lz4.CompressBlock(data, dst, nil)
	if err != nil {
		return nil, fmt.Errorf("lz4 compress: %w", err)
	}
	if written == 0 || written >= len(data) {
		return nil, errIncompressible
	}
	return dst[:written], nil
}

func decompressLZ4(compressed []byte, size int) ([]byte, error) {
	dst := make([]byte, size)
	read, err := lz4.UncompressBlock(compressed, dst)
	if err != nil {
		return nil, fmt.Errorf("lz4 decompress: %w", err)
	}
	if read != size {
		return nil, fmt.Errorf("lz4 decompress: got %d bytes, expected %d", read, size)
	}
	return dst, nil
}

func compressZstd(data []byte) ([]byte, error) {
	out := zstdEncoder.EncodeAll(data, nil)
	if len(out) >= len(data) {
		return nil, errIncompressible
	}
	return out, nil
}

func decompressZstd(compressed []byte, size int) ([]byte, error) {
	out, err := zstdDecoder.DecodeAll(compressed, make([]byte, 0, size))
	if err != nil {
		return nil, fmt.Errorf("zstd decompress: %w", err)
	}
	if len(out) != size {
		return nil, fmt.Errorf("zstd decompress: got %d bytes, expected %d", len(out), size)
	}
	return out, nil
}
