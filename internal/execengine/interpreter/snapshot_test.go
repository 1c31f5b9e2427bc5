package interpreter_test

import (
	"bytes"
	"testing"

	"coderunner/internal/execengine/interpreter"
)

func TestEncodeDecodeSnapshotRoundTrip(t *testing.T) {
	payload := bytes.Repeat([]byte("the quick brown fox jumps over the lazy dog "), 200)
	envelope := interpreter.EncodeSnapshot(payload)
	decoded, err := interpreter.DecodeSnapshot(envelope)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !bytes.Equal(decoded, payload) {
		t.Fatal("decoded payload does not match original")
	}
}

func TestEncodeSnapshotIncompressiblePayloadStaysRaw(t *testing.T) {
	payload := []byte{0x01, 0x02, 0x03}
	envelope := interpreter.EncodeSnapshot(payload)
	decoded, err := interpreter.DecodeSnapshot(envelope)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !bytes.Equal(decoded, payload) {
		t.Fatal("decoded payload does not match original")
	}
}

func TestDecodeSnapshotRejectsOversizedHeader(t *testing.T) {
	envelope := interpreter.EncodeSnapshot([]byte("small"))
	envelope[1] = 0xFF // corrupt the declared size to exceed the max
	if _, err := interpreter.DecodeSnapshot(envelope); err == nil {
		t.Fatal("expected rejection of oversized declared snapshot size")
	}
}

func TestDecodeSnapshotRejectsTruncatedEnvelope(t *testing.T) {
	if _, err := interpreter.DecodeSnapshot([]byte{1, 2}); err == nil {
		t.Fatal("expected rejection of truncated envelope")
	}
}
