package command_test

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"coderunner/internal/cli/command"
)

func TestBuildExecRunWithCodeFile(t *testing.T) {
	dir := t.TempDir()
	sourcePath := filepath.Join(dir, "main.py")
	if err := os.WriteFile(sourcePath, []byte("print(1+1)"), 0o600); err != nil {
		t.Fatalf("write temp source failed: %v", err)
	}

	cmd := command.Registry()["exec run"]
	params := command.Params{}
	params.Set("language", "python")
	params.Set("code_file", sourcePath)
	params.Set("code", "_file_")
	params.Set("session_id", "abc")
	params.Set("capture_state", "true")
	params.Set("time_limit_ms", "2000")

	req, err := command.BuildRequest(cmd, params)
	if err != nil {
		t.Fatalf("build request failed: %v", err)
	}
	if req.Method != "POST" || req.Path != "/api/v1/exec" {
		t.Fatalf("unexpected request spec: %+v", req)
	}

	var body map[string]interface{}
	if err := json.Unmarshal(req.Body, &body); err != nil {
		t.Fatalf("unmarshal body failed: %v", err)
	}
	if body["code"] != "print(1+1)" {
		t.Errorf("code = %v, want file contents", body["code"])
	}
	if body["sessionId"] != "abc" {
		t.Errorf("sessionId = %v, want abc", body["sessionId"])
	}
	if body["captureState"] != true {
		t.Errorf("captureState = %v, want true", body["captureState"])
	}
	if body["timeLimitMs"] != float64(2000) {
		t.Errorf("timeLimitMs = %v, want 2000", body["timeLimitMs"])
	}
}

func TestBuildExecRunMissingCode(t *testing.T) {
	cmd := command.Registry()["exec run"]
	params := command.Params{}
	params.Set("language", "python")

	if _, err := command.BuildRequest(cmd, params); err == nil {
		t.Fatal("expected error when code is missing")
	}
}

func TestBuildExecDownloadPath(t *testing.T) {
	cmd := command.Registry()["exec download"]
	params := command.Params{}
	params.Set("ref", "abc/input.txt")

	req, err := command.BuildRequest(cmd, params)
	if err != nil {
		t.Fatalf("build request failed: %v", err)
	}
	want := "/api/v1/download?ref=abc/input.txt"
	if req.Path != want {
		t.Errorf("path = %s, want %s", req.Path, want)
	}
}

func TestBuildAuthLoginPayload(t *testing.T) {
	cmd := command.Registry()["auth login"]
	params := command.Params{}
	params.Set("key_id", "demo")
	params.Set("secret", "s3cr3t")

	req, err := command.BuildRequest(cmd, params)
	if err != nil {
		t.Fatalf("build request failed: %v", err)
	}

	var body map[string]string
	if err := json.Unmarshal(req.Body, &body); err != nil {
		t.Fatalf("unmarshal body failed: %v", err)
	}
	if body["keyId"] != "demo" || body["secret"] != "s3cr3t" {
		t.Errorf("unexpected login payload: %+v", body)
	}
}
