package command

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Registry returns all CLI commands keyed by "service action".
func Registry() map[string]Command {
	commands := []Command{
		{
			Service:      "auth",
			Action:       "login",
			Method:       "POST",
			PathTemplate: "/api/v1/auth/login",
			RequiresAuth: false,
			Fields: []Field{
				{Name: "key_id", Prompt: "key_id", Type: FieldString, Required: true},
				{Name: "secret", Prompt: "secret", Type: FieldString, Required: true},
			},
		},
		{
			Service:      "exec",
			Action:       "run",
			Method:       "POST",
			PathTemplate: "/api/v1/exec",
			RequiresAuth: true,
			Fields: []Field{
				{Name: "language", Prompt: "language", Type: FieldString, Required: true},
				{Name: "code", Prompt: "code", Type: FieldString, Required: false},
				{Name: "code_file", Prompt: "code_file", Type: FieldFile, Required: false},
				{Name: "session_id", Prompt: "session_id (blank for a new session)", Type: FieldString, Required: false},
				{Name: "capture_state", Prompt: "capture_state (true/false)", Type: FieldString, Required: false},
				{Name: "stdin", Prompt: "stdin", Type: FieldString, Required: false},
				{Name: "time_limit_ms", Prompt: "time_limit_ms", Type: FieldInt64, Required: false},
				{Name: "memory_mb", Prompt: "memory_mb", Type: FieldInt64, Required: false},
			},
		},
		{
			Service:      "exec",
			Action:       "upload",
			Method:       "POST",
			PathTemplate: "/api/v1/upload",
			RequiresAuth: true,
			Fields: []Field{
				{Name: "session_id", Prompt: "session_id", Type: FieldString, Required: true},
				{Name: "file", Prompt: "file", Type: FieldFile, Required: true},
			},
		},
		{
			Service:      "exec",
			Action:       "download",
			Method:       "GET",
			PathTemplate: "/api/v1/download?ref=:ref",
			RequiresAuth: true,
			Fields: []Field{
				{Name: "ref", Prompt: "ref (sessionId/fileId)", Type: FieldString, Required: true},
			},
		},
		{
			Service:      "health",
			Action:       "check",
			Method:       "GET",
			PathTemplate: "/health/detailed",
			RequiresAuth: false,
			Fields:       []Field{},
		},
	}

	result := make(map[string]Command, len(commands))
	for _, cmd := range commands {
		key := fmt.Sprintf("%s %s", cmd.Service, cmd.Action)
		result[key] = cmd
	}
	return result
}

// BuildRequest creates HTTP request spec based on command.
func BuildRequest(cmd Command, params Params) (RequestSpec, error) {
	params.Canonicalize(cmd.Fields)
	path, err := buildPath(cmd.PathTemplate, params)
	if err != nil {
		return RequestSpec{}, err
	}

	headers := map[string]string{}

	var body []byte
	if cmd.Method != "GET" && cmd.Method != "DELETE" {
		payload, err := buildPayload(cmd, params)
		if err != nil {
			return RequestSpec{}, err
		}
		if payload != nil {
			body, err = json.Marshal(payload)
			if err != nil {
				return RequestSpec{}, fmt.Errorf("marshal request body failed: %w", err)
			}
		}
	}

	return RequestSpec{
		Method:  cmd.Method,
		Path:    path,
		Headers: headers,
		Body:    body,
	}, nil
}

func buildPath(template string, params Params) (string, error) {
	path := template
	for _, key := range []string{"ref"} {
		placeholder := ":" + key
		if strings.Contains(path, placeholder) {
			value := params.Get(key)
			if value == "" {
				return "", fmt.Errorf("missing path parameter: %s", key)
			}
			path = strings.ReplaceAll(path, placeholder, value)
		}
	}
	return path, nil
}

func buildPayload(cmd Command, params Params) (interface{}, error) {
	switch cmd.Service {
	case "auth":
		if cmd.Action == "login" {
			return map[string]string{
				"keyId":  params.Get("key_id"),
				"secret": params.Get("secret"),
			}, nil
		}
	case "exec":
		switch cmd.Action {
		case "run":
			return buildExecRunPayload(params)
		}
	}
	return nil, nil
}

func buildExecRunPayload(params Params) (interface{}, error) {
	code := params.Get("code")
	if (code == "" || code == "_file_") && params.Get("code_file") != "" {
		data, err := ReadFile(params.Get("code_file"))
		if err != nil {
			return nil, err
		}
		code = data
	}
	if code == "" {
		return nil, fmt.Errorf("code is required")
	}

	payload := map[string]interface{}{
		"language": params.Get("language"),
		"code":     code,
	}
	if params.Get("session_id") != "" {
		payload["sessionId"] = params.Get("session_id")
	}
	if params.Get("capture_state") != "" {
		payload["captureState"] = params.Get("capture_state") == "true"
	}
	if params.Get("stdin") != "" {
		payload["stdin"] = params.Get("stdin")
	}
	if params.Get("time_limit_ms") != "" {
		v, err := ParseInt64(params.Get("time_limit_ms"))
		if err != nil {
			return nil, fmt.Errorf("invalid time_limit_ms: %w", err)
		}
		payload["timeLimitMs"] = v
	}
	if params.Get("memory_mb") != "" {
		v, err := ParseInt64(params.Get("memory_mb"))
		if err != nil {
			return nil, fmt.Errorf("invalid memory_mb: %w", err)
		}
		payload["memoryMb"] = v
	}
	return payload, nil
}
