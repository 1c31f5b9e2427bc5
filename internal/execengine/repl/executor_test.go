package repl_test

import (
	"bufio"
	"context"
	"os"
	"testing"
	"time"

	"coderunner/internal/execengine/manager"
	"coderunner/internal/execengine/repl"
)

// fakeInterpreter services one request frame exactly like
// interpreter_server.py would, for exercising the wire protocol
// without a real sandboxed process.
func fakeInterpreter(t *testing.T, stdinR *os.File, stdoutW *os.File) {
	t.Helper()
	reader := bufio.NewReader(stdinR)
	for {
		line, err := reader.ReadString('\n')
		if err != nil {
			return
		}
		if line != ">>> REQUEST_START <<<\n" {
			continue
		}
		var body string
		for {
			l, err := reader.ReadString('\n')
			if err != nil || l == ">>> REQUEST_END <<<\n" {
				break
			}
			body += l
		}
		_ = body
		stdoutW.WriteString(">>> RESPONSE_START <<<\n")
		stdoutW.WriteString(`{"stdout":"42\n","stderr":"","exit_code":0,"state":null,"files":[],"error":null}` + "\n")
		stdoutW.WriteString(">>> RESPONSE_END <<<\n")
		return
	}
}

func TestExecutorRunRoundTrip(t *testing.T) {
	stdinR, stdinW, err := os.Pipe()
	if err != nil {
		t.Fatalf("pipe: %v", err)
	}
	stdoutR, stdoutW, err := os.Pipe()
	if err != nil {
		t.Fatalf("pipe: %v", err)
	}
	defer stdinR.Close()
	defer stdinW.Close()
	defer stdoutR.Close()
	defer stdoutW.Close()

	done := make(chan struct{})
	go func() {
		fakeInterpreter(t, stdinR, stdoutW)
		close(done)
	}()

	scratch := t.TempDir()
	sb := manager.NewSandboxWithStdio("sb-1", "py", scratch, stdinW, bufio.NewReader(stdoutR), func() {})

	ex := repl.New(repl.Config{})
	res, err := ex.Run(context.Background(), sb, "print(42)", nil, false, nil, 2*time.Second)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if res.Stdout != "42\n" {
		t.Fatalf("expected stdout 42, got %q", res.Stdout)
	}
	if res.ExitCode != 0 {
		t.Fatalf("expected exit code 0, got %d", res.ExitCode)
	}
	<-done
}
