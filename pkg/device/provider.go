package device

import (
	"strings"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

// storageKey is fixed; changing it would mint a new identity for every
// existing install.
const storageKey = "cw_deviceid"

// Provider returns the stable per-install device identifier, generating and
// persisting one on first use.
type Provider struct {
	storage Storage
}

func NewProvider(storage Storage) (*Provider, error) {
	if storage == nil {
		return nil, errors.New("device provider: storage is nil")
	}
	return &Provider{storage: storage}, nil
}

// GetOrCreateDeviceID reads the persisted identifier, or generates a fresh
// one (uuid v4 with separators stripped), persists it and returns it.
// Idempotent across calls; only the first call on a fresh storage writes.
func (p *Provider) GetOrCreateDeviceID() (string, error) {
	if p == nil || p.storage == nil {
		return "", errors.New("device provider: not initialized")
	}
	id, ok, err := p.storage.GetItem(storageKey)
	if err != nil {
		return "", errors.Wrap(err, "device provider: read")
	}
	if ok && id != "" {
		return id, nil
	}
	id = strings.ReplaceAll(uuid.NewString(), "-", "")
	if err := p.storage.SetItem(storageKey, id); err != nil {
		return "", errors.Wrap(err, "device provider: persist")
	}
	log.Debug().Str("component", "device").Str("device_id", id).Msg("generated new device id")
	return id, nil
}
