package oauth

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// Persister keeps rotated refresh tokens on disk and, when a blob store is
// configured, mirrors them to object storage.
type Persister struct {
	provider  string
	statePath string
	blobStore BlobStore
	log       zerolog.Logger
	now       func() time.Time
}

// NewPersister returns a Persister. blobStore may be nil.
func NewPersister(provider, statePath string, blobStore BlobStore, log zerolog.Logger) *Persister {
	return &Persister{
		provider:  provider,
		statePath: statePath,
		blobStore: blobStore,
		log:       log.With().Str("provider", provider).Logger(),
		now:       time.Now,
	}
}

// Load resolves the refresh token to start with: the local state file, then
// the blob mirror, then the configured bootstrap token.
func (p *Persister) Load(ctx context.Context, bootstrap string) (string, error) {
	if p.statePath != "" {
		state, err := LoadState(p.statePath)
		if err == nil {
			return state.RefreshToken, nil
		}
		if !errors.Is(err, ErrStateNotFound) {
			return "", err
		}
	}

	if p.blobStore != nil {
		data, err := p.blobStore.Load(ctx, p.provider)
		switch {
		case err == nil:
			state, err := DecodeState(data)
			if err != nil {
				return "", err
			}
			if p.statePath != "" {
				if err := WriteState(p.statePath, state); err != nil {
					return "", err
				}
			}
			return state.RefreshToken, nil
		case !errors.Is(err, ErrBlobNotFound):
			setMirrorOK(p.provider, false)
			p.log.Warn().Err(err).Msg("blob state unavailable, using configured token")
		}
	}

	bootstrap = strings.TrimSpace(bootstrap)
	if bootstrap == "" {
		return "", ErrNoRefreshToken
	}
	return bootstrap, nil
}

// Rotate persists a new refresh token. It has the RotateFunc signature.
// Mirror failures are logged; the local file is authoritative.
func (p *Persister) Rotate(ctx context.Context, refreshToken string) {
	state := State{
		SchemaVersion: SchemaVersion,
		Provider:      p.provider,
		RefreshToken:  refreshToken,
		UpdatedAt:     p.now().UTC(),
	}

	if p.statePath != "" {
		if err := WriteState(p.statePath, state); err != nil {
			p.log.Error().Err(err).Msg("persist rotated refresh token")
		} else {
			p.log.Info().Msg("refresh token rotated")
		}
	}

	if p.blobStore == nil {
		return
	}
	data, err := state.Encode()
	if err != nil {
		return
	}
	if err := p.blobStore.Save(ctx, p.provider, data); err != nil {
		setMirrorOK(p.provider, false)
		p.log.Warn().Err(err).Msg("mirror refresh token")
		return
	}
	setMirrorOK(p.provider, true)
}
