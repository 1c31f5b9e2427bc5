package interpreter

import (
	"encoding/binary"

	"github.com/klauspost/compress/zstd"

	appErr "coderunner/pkg/errors"
)

// snapshotVersion tags the envelope's compression scheme. It is
// distinct from the in-sandbox state payload's own version byte
// (STATE_VERSION_UNCOMPRESSED/STATE_VERSION_COMPRESSED in
// interpreter_server.py): this envelope wraps that opaque payload and
// is never unwrapped inside the sandbox. No caller in this module wraps
// state with it; the hot and cold tiers store the payload unwrapped.
type snapshotVersion uint8

const (
	snapshotRaw  snapshotVersion = 1
	snapshotZstd snapshotVersion = 2
)

// MaxSnapshotBytes bounds a snapshot's decompressed size. A snapshot
// whose header declares a larger size is rejected before
// decompression runs.
const MaxSnapshotBytes = 50 * 1024 * 1024

var encoder, _ = zstd.NewWriter(nil)

// EncodeSnapshot wraps an opaque namespace payload (produced by the
// in-sandbox interpreter and never inspected here) into a
// version-tagged, length-prefixed envelope for storage. Payloads that
// fail to shrink are stored raw rather than paying decompression cost
// for no benefit.
func EncodeSnapshot(payload []byte) []byte {
	compressed := encoder.EncodeAll(payload, nil)
	version := snapshotZstd
	body := compressed
	if len(compressed) >= len(payload) {
		version = snapshotRaw
		body = payload
	}

	out := make([]byte, 1+8+len(body))
	out[0] = byte(version)
	binary.BigEndian.PutUint64(out[1:9], uint64(len(payload)))
	copy(out[9:], body)
	return out
}

// DecodeSnapshot reverses EncodeSnapshot, rejecting envelopes whose
// declared decompressed size exceeds MaxSnapshotBytes before spending
// any CPU on decompression.
func DecodeSnapshot(envelope []byte) ([]byte, error) {
	if len(envelope) < 9 {
		return nil, appErr.New(appErr.StateDecodeFailed).WithMessage("snapshot envelope truncated")
	}
	version := snapshotVersion(envelope[0])
	decodedSize := binary.BigEndian.Uint64(envelope[1:9])
	if decodedSize > MaxSnapshotBytes {
		return nil, appErr.New(appErr.StateTooLarge).WithMessagef("snapshot exceeds max size of %d bytes", MaxSnapshotBytes)
	}
	body := envelope[9:]

	switch version {
	case snapshotRaw:
		return body, nil
	case snapshotZstd:
		decoder, err := zstd.NewReader(nil, zstd.WithDecoderMaxMemory(MaxSnapshotBytes))
		if err != nil {
			return nil, appErr.Wrap(err, appErr.StateDecodeFailed).WithMessage("create zstd decoder")
		}
		defer decoder.Close()
		out, err := decoder.DecodeAll(body, make([]byte, 0, decodedSize))
		if err != nil {
			return nil, appErr.Wrap(err, appErr.StateDecodeFailed).WithMessage("decompress snapshot")
		}
		return out, nil
	default:
		return nil, appErr.New(appErr.StateDecodeFailed).WithMessagef("unknown snapshot version %d", version)
	}
}
