// Package interpreter implements the Go side of the Interpreter Server's
// framed stdio protocol: request/response frame encoding for the REPL
// Executor, and a length-prefixed compressed snapshot envelope. The
// State Store does not use the envelope: both tiers keep the state
// bytes exactly as the sandbox produced them.
//
// The frame wire format is owned by the in-sandbox service loop
// (staged from internal/execengine/manager/assets/interpreter_server.py);
// this package only speaks it from the parent side and never inspects
// the state payload it carries.
package interpreter

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	appErr "coderunner/pkg/errors"
)

const (
	requestStart  = ">>> REQUEST_START <<<"
	requestEnd    = ">>> REQUEST_END <<<"
	responseStart = ">>> RESPONSE_START <<<"
	responseEnd   = ">>> RESPONSE_END <<<"

	// ReadyMarker is the line the interpreter server writes once after
	// warmup, before servicing its first request frame.
	ReadyMarker = "__INTERPRETER_READY__"
)

// Request is one call into a warm interactive sandbox's namespace.
type Request struct {
	Code         string `json:"code"`
	State        string `json:"state,omitempty"`
	CaptureState bool   `json:"capture_state,omitempty"`
}

// Response is the interpreter server's reply to one Request.
type Response struct {
	Stdout   string   `json:"stdout"`
	Stderr   string   `json:"stderr"`
	ExitCode int      `json:"exit_code"`
	State    *string  `json:"state"`
	Files    []string `json:"files"`
	Error    *string  `json:"error"`
}

// WriteRequest frames req and writes it to w. Any bytes the sandbox
// emits outside the markers are log noise and are never produced by
// this function.
func WriteRequest(w io.Writer, req Request) error {
	body, err := json.Marshal(req)
	if err != nil {
		return appErr.Wrap(err, appErr.ValidationFailed).WithMessage("encode request frame")
	}
	if _, err := fmt.Fprintf(w, "%s\n%s\n%s\n", requestStart, body, requestEnd); err != nil {
		return appErr.Wrap(err, appErr.SandboxUnhealthy).WithMessage("write request frame")
	}
	return nil
}

// ReadResponse reads one framed response from r, discarding any lines
// before RESPONSE_START as log noise. It returns a typed,
// SandboxUnhealthy-class error on EOF or a malformed frame, and a
// TimeoutExceeded error if deadline (or ctx) elapses before a complete
// frame arrives, since each of these leaves the sandbox's stdio stream
// in an indeterminate state and the caller must destroy it.
//
// r.ReadString blocks on the underlying fifo with no deadline of its
// own, so the read runs in a background goroutine raced against the
// deadline/ctx; on timeout that goroutine is abandoned rather than
// joined — it exits once the caller destroys the sandbox and closes
// the fifo out from under it.
func ReadResponse(ctx context.Context, r *bufio.Reader, deadline time.Time) (Response, error) {
	type result struct {
		resp Response
		err  error
	}
	done := make(chan result, 1)
	go func() {
		resp, err := readFrame(r)
		done <- result{resp, err}
	}()

	var timerC <-chan time.Time
	if !deadline.IsZero() {
		timer := time.NewTimer(time.Until(deadline))
		defer timer.Stop()
		timerC = timer.C
	}

	select {
	case res := <-done:
		return res.resp, res.err
	case <-timerC:
		return Response{}, appErr.New(appErr.TimeoutExceeded).WithMessage("timed out waiting for response frame")
	case <-ctx.Done():
		return Response{}, appErr.Wrap(ctx.Err(), appErr.TimeoutExceeded).WithMessage("context cancelled waiting for response frame")
	}
}

// readFrame performs the blocking read-until-RESPONSE_END work; it is
// always run on its own goroutine so ReadResponse can bound the wait.
func readFrame(r *bufio.Reader) (Response, error) {
	var resp Response

	for {
		line, err := r.ReadString('\n')
		if err != nil {
			return resp, appErr.Wrap(err, appErr.SandboxUnhealthy).WithMessage("sandbox stdout closed before response frame")
		}
		if strings.TrimRight(line, "\n") == responseStart {
			break
		}
	}

	var body strings.Builder
	for {
		line, err := r.ReadString('\n')
		if err != nil {
			return resp, appErr.Wrap(err, appErr.SandboxUnhealthy).WithMessage("sandbox stdout closed before RESPONSE_END")
		}
		if strings.TrimRight(line, "\n") == responseEnd {
			break
		}
		body.WriteString(line)
	}

	if err := json.Unmarshal([]byte(body.String()), &resp); err != nil {
		return resp, appErr.Wrap(err, appErr.SandboxUnhealthy).WithMessage("malformed response frame")
	}
	return resp, nil
}
