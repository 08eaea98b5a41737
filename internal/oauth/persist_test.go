package oauth

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
)

type memoryBlobStore struct {
	data map[string][]byte
	err  error
}

func (m *memoryBlobStore) Load(_ context.Context, provider string) ([]byte, error) {
	if m.err != nil {
		return nil, m.err
	}
	if data, ok := m.data[provider]; ok {
		return data, nil
	}
	return nil, ErrBlobNotFound
}

func (m *memoryBlobStore) Save(_ context.Context, provider string, data []byte) error {
	if m.err != nil {
		return m.err
	}
	if m.data == nil {
		m.data = make(map[string][]byte)
	}
	m.data[provider] = data
	return nil
}

func TestPersisterRotateWritesStateAndMirror(t *testing.T) {
	statePath := filepath.Join(t.TempDir(), "oauth", "melcloud.json")
	blob := &memoryBlobStore{}
	p := NewPersister("melcloud", statePath, blob, zerolog.Nop())

	p.Rotate(context.Background(), "rotated-token")

	state, err := LoadState(statePath)
	if err != nil {
		t.Fatalf("LoadState: %v", err)
	}
	if state.RefreshToken != "rotated-token" || state.Provider != "melcloud" {
		t.Fatalf("unexpected state: %+v", state)
	}
	info, err := os.Stat(statePath)
	if err != nil {
		t.Fatalf("stat: %v", err)
	}
	if info.Mode().Perm() != 0o600 {
		t.Fatalf("expected 0600 permissions, got %o", info.Mode().Perm())
	}

	mirrored, err := DecodeState(blob.data["melcloud"])
	if err != nil {
		t.Fatalf("decode mirror: %v", err)
	}
	if mirrored.RefreshToken != "rotated-token" {
		t.Fatalf("unexpected mirrored token: %s", mirrored.RefreshToken)
	}
}

func TestPersisterLoadOrder(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	p := NewPersister("melcloud", filepath.Join(dir, "state.json"), nil, zerolog.Nop())
	token, err := p.Load(ctx, "bootstrap")
	if err != nil || token != "bootstrap" {
		t.Fatalf("expected bootstrap token, got %q err=%v", token, err)
	}
	if _, err := p.Load(ctx, ""); !errors.Is(err, ErrNoRefreshToken) {
		t.Fatalf("expected ErrNoRefreshToken, got %v", err)
	}

	blob := &memoryBlobStore{}
	mirror := NewPersister("melcloud", "", blob, zerolog.Nop())
	mirror.Rotate(ctx, "from-blob")

	statePath := filepath.Join(dir, "restored.json")
	p = NewPersister("melcloud", statePath, blob, zerolog.Nop())
	token, err = p.Load(ctx, "bootstrap")
	if err != nil || token != "from-blob" {
		t.Fatalf("expected blob token, got %q err=%v", token, err)
	}
	if _, err := LoadState(statePath); err != nil {
		t.Fatalf("expected blob state restored locally: %v", err)
	}

	if err := WriteState(statePath, State{Provider: "melcloud", RefreshToken: "from-file"}); err != nil {
		t.Fatalf("WriteState: %v", err)
	}
	token, err = p.Load(ctx, "bootstrap")
	if err != nil || token != "from-file" {
		t.Fatalf("expected file token, got %q err=%v", token, err)
	}
}

func TestPersisterLoadToleratesBlobOutage(t *testing.T) {
	p := NewPersister("melcloud", filepath.Join(t.TempDir(), "state.json"), &memoryBlobStore{err: errors.New("offline")}, zerolog.Nop())
	token, err := p.Load(context.Background(), "bootstrap")
	if err != nil || token != "bootstrap" {
		t.Fatalf("expected bootstrap fallback, got %q err=%v", token, err)
	}
}

func TestDecodeStateRejectsInvalid(t *testing.T) {
	if _, err := DecodeState([]byte(`{"schema_version":2,"refresh_token":"x"}`)); err == nil {
		t.Fatalf("expected schema version error")
	}
	if _, err := DecodeState([]byte(`{"schema_version":1}`)); err == nil {
		t.Fatalf("expected missing token error")
	}
}

func TestBlobEndpointParsing(t *testing.T) {
	host, secure, err := parseEndpoint("http://minio.local:9000")
	if err != nil || host != "minio.local:9000" || secure {
		t.Fatalf("unexpected endpoint parse: %s %v %v", host, secure, err)
	}
	host, secure, err = parseEndpoint("s3.example.com")
	if err != nil || host != "s3.example.com" || !secure {
		t.Fatalf("unexpected bare endpoint parse: %s %v %v", host, secure, err)
	}
	store := &S3Store{prefix: "gohome-melcloud/oauth"}
	if got := store.key("melcloud"); got != "gohome-melcloud/oauth/melcloud.json" {
		t.Fatalf("unexpected key: %s", got)
	}
}
