package blob

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/klauspost/compress/zstd"
	"github.com/minio/crc64nvme"
)

const (
	envelopeMagic   = "CHRNBLOB"
	envelopeVersion = uint32(1)

	// Header layout (32 bytes):
	// - Magic (8 bytes)
	// - Version (4 bytes, uint32)
	// - Reserved (4 bytes)
	// - Uncompressed length (8 bytes, uint64)
	// - CRC64-NVME of the uncompressed content (8 bytes, uint64)
	envelopeHeaderSize = 32

	maxPreallocBytes = 64 << 20
)

// ErrCorruptObject is returned when a stored object fails envelope validation.
var ErrCorruptObject = errors.New("corrupt object")

var (
	encoder, _ = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	decoder, _ = zstd.NewReader(nil)
)

// sealEnvelope compresses data and prefixes it with a checksummed header.
func sealEnvelope(data []byte) []byte {
	header := make([]byte, envelopeHeaderSize)
	copy(header[0:8], envelopeMagic)
	binary.LittleEndian.PutUint32(header[8:12], envelopeVersion)
	binary.LittleEndian.PutUint32(header[12:16], 0)
	binary.LittleEndian.PutUint64(header[16:24], uint64(len(data)))
	binary.LittleEndian.PutUint64(header[24:32], computeCRC64(data))

	return encoder.EncodeAll(data, header)
}

// openEnvelope validates the header, decompresses the payload and verifies its checksum.
func openEnvelope(body []byte) ([]byte, error) {
	if len(body) < envelopeHeaderSize || !bytes.Equal(body[0:8], []byte(envelopeMagic)) {
		return nil, fmt.Errorf("%w: missing header", ErrCorruptObject)
	}

	version := binary.LittleEndian.Uint32(body[8:12])
	if version != envelopeVersion {
		return nil, fmt.Errorf("%w: unsupported version %d", ErrCorruptObject, version)
	}

	size := binary.LittleEndian.Uint64(body[16:24])
	crc := binary.LittleEndian.Uint64(body[24:32])

	if size == 0 && len(body) == envelopeHeaderSize {
		return []byte{}, nil
	}

	data, err := decoder.DecodeAll(body[envelopeHeaderSize:], make([]byte, 0, min(size, maxPreallocBytes)))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorruptObject, err)
	}

	if uint64(len(data)) != size {
		return nil, fmt.Errorf("%w: length %d, expected %d", ErrCorruptObject, len(data), size)
	}
	if computeCRC64(data) != crc {
		return nil, fmt.Errorf("%w: checksum mismatch", ErrCorruptObject)
	}

	return data, nil
}

// computeCRC64 computes CRC64-NVME checksum
func computeCRC64(data []byte) uint64 {
	h := crc64nvme.New()
	h.Write(data)
	return h.Sum64()
}
