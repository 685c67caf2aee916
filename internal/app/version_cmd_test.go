package app

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"
)

func TestVersionCmdShort(t *testing.T) {
	var stdout, stderr bytes.Buffer
	if code := runVersionCmd(nil, &stdout, &stderr); code != 0 {
		t.Fatalf("exit code = %d, stderr = %q", code, stderr.String())
	}
	if strings.TrimSpace(stdout.String()) != version {
		t.Fatalf("stdout = %q", stdout.String())
	}
}

func TestVersionCmdJSON(t *testing.T) {
	var stdout, stderr bytes.Buffer
	if code := runVersionCmd([]string{"--json"}, &stdout, &stderr); code != 0 {
		t.Fatalf("exit code = %d, stderr = %q", code, stderr.String())
	}
	var payload versionPayload
	if err := json.Unmarshal(stdout.Bytes(), &payload); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if payload.Version != version || payload.Protocol == "" {
		t.Fatalf("payload: %#v", payload)
	}
}

func TestVersionCmdLong(t *testing.T) {
	var stdout, stderr bytes.Buffer
	if code := runVersionCmd([]string{"--long"}, &stdout, &stderr); code != 0 {
		t.Fatalf("exit code = %d", code)
	}
	if !strings.Contains(stdout.String(), "protocol=") {
		t.Fatalf("long output: %q", stdout.String())
	}
}

func TestVersionCmdRejectsPositionalArgs(t *testing.T) {
	var stdout, stderr bytes.Buffer
	if code := runVersionCmd([]string{"extra"}, &stdout, &stderr); code != 2 {
		t.Fatalf("exit code = %d", code)
	}
}
