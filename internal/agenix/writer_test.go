package agenix

import (
	"context"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"testing"
)

const rules = `let
  host = "ssh-ed25519 AAAAhost";
  admin = "ssh-ed25519 AAAAadmin";
in
{
  "gohome-mqtt-password.age".publicKeys = [ host admin ];
}
`

func writeRules(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "secrets.nix"), []byte(rules), 0o644); err != nil {
		t.Fatal(err)
	}
	return dir
}

func TestRecipientsFromExistingSecret(t *testing.T) {
	dir := writeRules(t)
	got, err := Recipients(filepath.Join(dir, "secrets.nix"))
	if err != nil {
		t.Fatalf("Recipients: %v", err)
	}
	if !slices.Equal(got, []string{"host", "admin"}) {
		t.Fatalf("unexpected recipients %v", got)
	}
}

func TestEnsureEntryIsIdempotent(t *testing.T) {
	dir := writeRules(t)
	path := filepath.Join(dir, "secrets.nix")

	for i := 0; i < 2; i++ {
		if err := EnsureEntry(path, DefaultSecret+".age", []string{"host"}); err != nil {
			t.Fatalf("EnsureEntry: %v", err)
		}
	}
	data, _ := os.ReadFile(path)
	if n := strings.Count(string(data), DefaultSecret); n != 1 {
		t.Fatalf("expected one entry, found %d:\n%s", n, data)
	}
	if !strings.HasSuffix(strings.TrimSpace(string(data)), "}") {
		t.Fatalf("expected closing brace preserved:\n%s", data)
	}
}

func TestWriteRunsAgenix(t *testing.T) {
	dir := writeRules(t)
	script := filepath.Join(t.TempDir(), "agenix")
	// Stand-in for agenix: copy stdin to the -e target.
	if err := os.WriteFile(script, []byte("#!/bin/sh\ncat > \"$2\"\n"), 0o755); err != nil {
		t.Fatal(err)
	}

	w := Writer{RepoPath: dir, Exec: script}
	path, err := w.Write(context.Background(), []byte("refresh-token"))
	if err != nil {
		t.Fatalf("Write: %v", err)
	}
	if path != filepath.Join(dir, DefaultSecret+".age") {
		t.Fatalf("unexpected path %s", path)
	}
	data, _ := os.ReadFile(path)
	if string(data) != "refresh-token" {
		t.Fatalf("unexpected secret content %q", data)
	}
}

func TestWriteRequiresRepo(t *testing.T) {
	if _, err := (Writer{}).Write(context.Background(), nil); err == nil {
		t.Fatalf("expected error without repo path")
	}
}
