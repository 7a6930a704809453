package main

import (
	"bytes"
	stderrors "errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/SyncOT/SyncOT-sub002/internal/errors"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := rootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func errorCode(err error) string {
	var e *errors.Error
	if stderrors.As(err, &e) {
		return e.Code
	}
	return ""
}

func TestTSONCommands(t *testing.T) {
	out, err := execute(t, "tson", "encode", `{"a":1}`)
	if err != nil {
		t.Fatal(err)
	}
	if got := strings.TrimSpace(out); got != "12010c01610301" {
		t.Fatalf("encode = %q", got)
	}

	out, err = execute(t, "tson", "decode", "12010c0161", "0301")
	if err != nil {
		t.Fatal(err)
	}
	if got := strings.TrimSpace(out); got != `{"a":1}` {
		t.Fatalf("decode = %q", got)
	}
}

func TestTSONCommandErrors(t *testing.T) {
	tests := []struct {
		args []string
		code string
	}{
		{[]string{"tson", "encode", "{"}, "E121"},
		{[]string{"tson", "decode", "zz"}, "E122"},
		{[]string{"tson", "decode", "ff"}, "E161"},
	}
	for _, tt := range tests {
		if _, err := execute(t, tt.args...); errorCode(err) != tt.code {
			t.Errorf("%v error = %v, want %s", tt.args, err, tt.code)
		}
	}
}

func TestConfigCommands(t *testing.T) {
	path := filepath.Join(t.TempDir(), "syncot.toml")

	if _, err := execute(t, "config", "init", path); err != nil {
		t.Fatal(err)
	}
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("config not written: %v", err)
	}
	if _, err := execute(t, "config", "init", path); err == nil {
		t.Fatal("init over an existing file should fail without --force")
	}
	if _, err := execute(t, "config", "init", "--force", path); err != nil {
		t.Fatal(err)
	}

	out, err := execute(t, "config", "check", path)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out, "is valid") {
		t.Errorf("check output = %q", out)
	}

	if _, err := execute(t, "config", "check", filepath.Join(t.TempDir(), "none.toml")); errorCode(err) != "E100" {
		t.Errorf("check missing file error = %v", err)
	}
}

func TestVersionShort(t *testing.T) {
	out, err := execute(t, "version", "--short")
	if err != nil {
		t.Fatal(err)
	}
	if strings.TrimSpace(out) != version {
		t.Errorf("version = %q, want %q", out, version)
	}
}
