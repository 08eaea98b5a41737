package agenix

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"strings"
)

// DefaultSecret is the secret the melcloud refresh_token_file points at.
const DefaultSecret = "gohome-melcloud-refresh-token"

var recipientsPattern = regexp.MustCompile(`"gohome-[^"]+\.age"\s*\.publicKeys\s*=\s*\[([^\]]+)\]`)

// Writer encrypts a secret into a nix-secrets repo with the agenix CLI.
type Writer struct {
	RepoPath   string
	Secret     string
	Recipients []string
	// Exec overrides the agenix binary.
	Exec string
}

func (w Writer) secretName() string {
	name := strings.TrimSpace(w.Secret)
	if name == "" {
		name = DefaultSecret
	}
	if !strings.HasSuffix(name, ".age") {
		name += ".age"
	}
	return name
}

func (w Writer) rulesPath() string {
	return filepath.Join(w.RepoPath, "secrets.nix")
}

// Write registers the secret in secrets.nix when missing, then encrypts
// plaintext into it. It returns the path of the .age file.
func (w Writer) Write(ctx context.Context, plaintext []byte) (string, error) {
	if w.RepoPath == "" {
		return "", fmt.Errorf("agenix repo path is required")
	}
	name := w.secretName()
	rules := w.rulesPath()

	recipients := w.Recipients
	if len(recipients) == 0 {
		var err error
		if recipients, err = Recipients(rules); err != nil {
			return "", err
		}
	}
	if err := EnsureEntry(rules, name, recipients); err != nil {
		return "", err
	}

	execName := w.Exec
	if execName == "" {
		execName = "agenix"
	}
	secretPath := filepath.Join(w.RepoPath, name)
	cmd := exec.CommandContext(ctx, execName, "-e", secretPath)
	cmd.Dir = w.RepoPath
	cmd.Env = append(os.Environ(), "RULES="+rules, "EDITOR=cp /dev/stdin")
	cmd.Stdin = bytes.NewReader(plaintext)
	if out, err := cmd.CombinedOutput(); err != nil {
		return "", fmt.Errorf("agenix: %w: %s", err, strings.TrimSpace(string(out)))
	}
	return secretPath, nil
}

// EnsureEntry appends a publicKeys entry for secret to secrets.nix unless one
// exists.
func EnsureEntry(rulesPath, secret string, recipients []string) error {
	info, err := os.Stat(rulesPath)
	if err != nil {
		return fmt.Errorf("stat secrets.nix: %w", err)
	}
	content, err := os.ReadFile(rulesPath)
	if err != nil {
		return fmt.Errorf("read secrets.nix: %w", err)
	}
	existing := regexp.MustCompile(regexp.QuoteMeta(`"`+secret+`"`) + `\s*\.publicKeys`)
	if existing.Match(content) {
		return nil
	}
	if len(recipients) == 0 {
		return fmt.Errorf("no recipients for %s", secret)
	}

	idx := bytes.LastIndex(content, []byte("\n}"))
	if idx == -1 {
		return fmt.Errorf("secrets.nix missing closing brace")
	}
	entry := fmt.Sprintf("  %q.publicKeys = [ %s ];\n", secret, strings.Join(recipients, " "))
	var buf bytes.Buffer
	buf.Write(content[:idx])
	buf.WriteString("\n" + entry)
	buf.Write(content[idx:])
	return os.WriteFile(rulesPath, buf.Bytes(), info.Mode().Perm()|0o600)
}

// Recipients borrows the key list of the first gohome secret in secrets.nix.
func Recipients(rulesPath string) ([]string, error) {
	content, err := os.ReadFile(rulesPath)
	if err != nil {
		return nil, fmt.Errorf("read secrets.nix: %w", err)
	}
	match := recipientsPattern.FindSubmatch(content)
	if len(match) < 2 {
		return nil, fmt.Errorf("no gohome recipients found in secrets.nix")
	}
	fields := strings.Fields(string(match[1]))
	if len(fields) == 0 {
		return nil, fmt.Errorf("empty recipient list in secrets.nix")
	}
	return fields, nil
}
