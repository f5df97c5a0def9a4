package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"ChannelDigest/internal/domain"
	"ChannelDigest/internal/ports"
)

// ChannelManager adds and lists monitored channels. Adding resolves the
// URL to its permanent channel id first, so the same channel reached via
// different URLs cannot be registered twice.
type ChannelManager struct {
	store    ports.SourceStore
	resolver ports.ChannelResolver
	logger   *slog.Logger
}

// NewChannelManager wires the manager.
func NewChannelManager(store ports.SourceStore, resolver ports.ChannelResolver, logger *slog.Logger) *ChannelManager {
	return &ChannelManager{store: store, resolver: resolver, logger: logger}
}

// Add resolves channelURL and registers it for monitoring. Registering an
// already-monitored channel returns the existing source unchanged.
func (m *ChannelManager) Add(ctx context.Context, channelURL string) (domain.Source, error) {
	channelID, name, err := m.resolver.Resolve(ctx, channelURL)
	if err != nil {
		return domain.Source{}, fmt.Errorf("resolve channel %s: %w", channelURL, err)
	}
	if m.logger != nil {
		m.logger.Info("channel resolved", "url", channelURL, "channel", channelID, "name", name)
	}

	existing, err := m.store.GetSourceByChannel(ctx, channelID)
	switch {
	case err == nil:
		return existing, nil
	case !errors.Is(err, domain.ErrNotFound):
		return domain.Source{}, fmt.Errorf("lookup channel %s: %w", channelID, err)
	}

	src := domain.Source{
		ID:        channelID,
		Name:      name,
		ChannelID: channelID,
		URL:       channelURL,
	}
	if err := m.store.AddSource(ctx, src); err != nil {
		return domain.Source{}, fmt.Errorf("add channel %s: %w", channelID, err)
	}
	return src, nil
}

// List returns all monitored channels in registration order.
func (m *ChannelManager) List(ctx context.Context) ([]domain.Source, error) {
	return m.store.ListActive(ctx)
}
