package interpreter_test

import (
	"bufio"
	"bytes"
	"context"
	"io"
	"testing"
	"time"

	"coderunner/internal/execengine/interpreter"
)

func TestWriteRequestReadResponseRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	req := interpreter.Request{Code: "x = 40 + 2", CaptureState: true}
	if err := interpreter.WriteRequest(&buf, req); err != nil {
		t.Fatalf("write request: %v", err)
	}

	state := "abc123"
	respBody := []byte(">>> RESPONSE_START <<<\n" +
		`{"stdout":"","stderr":"","exit_code":0,"state":"` + state + `","files":[],"error":null}` + "\n" +
		">>> RESPONSE_END <<<\n")
	resp, err := interpreter.ReadResponse(context.Background(), bufio.NewReader(bytes.NewReader(respBody)), time.Time{})
	if err != nil {
		t.Fatalf("read response: %v", err)
	}
	if resp.ExitCode != 0 {
		t.Fatalf("expected exit code 0, got %d", resp.ExitCode)
	}
	if resp.State == nil || *resp.State != state {
		t.Fatalf("expected state %q, got %v", state, resp.State)
	}
}

func TestReadResponseSkipsLogNoise(t *testing.T) {
	body := []byte("some warning printed to stdout\n" +
		">>> RESPONSE_START <<<\n" +
		`{"stdout":"42\n","stderr":"","exit_code":0,"state":null,"files":["out.txt"],"error":null}` + "\n" +
		">>> RESPONSE_END <<<\n")
	resp, err := interpreter.ReadResponse(context.Background(), bufio.NewReader(bytes.NewReader(body)), time.Time{})
	if err != nil {
		t.Fatalf("read response: %v", err)
	}
	if resp.Stdout != "42\n" {
		t.Fatalf("expected stdout 42, got %q", resp.Stdout)
	}
	if len(resp.Files) != 1 || resp.Files[0] != "out.txt" {
		t.Fatalf("expected files [out.txt], got %v", resp.Files)
	}
}

func TestReadResponseEOFBeforeFrame(t *testing.T) {
	_, err := interpreter.ReadResponse(context.Background(), bufio.NewReader(bytes.NewReader(nil)), time.Time{})
	if err == nil {
		t.Fatal("expected error on empty stream")
	}
}

// TestReadResponseDeadlineExceeded feeds a pipe whose writer never writes
// a frame, so the read genuinely blocks; it asserts ReadResponse still
// returns once the deadline elapses instead of hanging forever.
func TestReadResponseDeadlineExceeded(t *testing.T) {
	pr, pw := io.Pipe()
	t.Cleanup(func() { pw.Close() })

	deadline := time.Now().Add(100 * time.Millisecond)
	start := time.Now()
	_, err := interpreter.ReadResponse(context.Background(), bufio.NewReader(pr), deadline)
	elapsed := time.Since(start)

	if err == nil {
		t.Fatal("expected timeout error")
	}
	if elapsed > time.Second {
		t.Fatalf("ReadResponse blocked for %s past its deadline", elapsed)
	}
}

// TestReadResponseContextCancelled exercises the ctx-bound path
// independent of the deadline parameter: a never-written pipe with a
// context cancelled out-of-band must still return promptly.
func TestReadResponseContextCancelled(t *testing.T) {
	pr, pw := io.Pipe()
	t.Cleanup(func() { pw.Close() })

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	start := time.Now()
	_, err := interpreter.ReadResponse(ctx, bufio.NewReader(pr), time.Time{})
	elapsed := time.Since(start)

	if err == nil {
		t.Fatal("expected context-cancelled error")
	}
	if elapsed > time.Second {
		t.Fatalf("ReadResponse blocked for %s past ctx cancellation", elapsed)
	}
}

func TestReadResponseMalformedJSON(t *testing.T) {
	body := []byte(">>> RESPONSE_START <<<\nnot json\n>>> RESPONSE_END <<<\n")
	_, err := interpreter.ReadResponse(context.Background(), bufio.NewReader(bytes.NewReader(body)), time.Time{})
	if err == nil {
		t.Fatal("expected error for malformed response body")
	}
}
