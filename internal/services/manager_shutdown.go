package services

import (
	"context"
)

// Shutdown stops the servers, waits for the worker pool to drain (the caller
// cancels the Start context first), and closes every connection in reverse
// order of opening. It is safe after a failed Init.
func (m *Manager) Shutdown(ctx context.Context) {
	for i, srv := range m.servers {
		m.logger.Info("Stopping server", "server", m.serverNames[i])
		if err := srv.Shutdown(ctx); err != nil {
			m.logger.Warn("Error shutting down server", "server", m.serverNames[i], "error", err)
		}
	}

	m.logger.Info("Waiting for background tasks to finish...")
	if m.Wait(ctx) {
		m.logger.Info("Background tasks finished")
	} else {
		m.logger.Warn("Timeout waiting for background tasks")
	}

	if m.producer != nil {
		if err := m.producer.Close(); err != nil {
			m.logger.Warn("Error closing producer", "error", err)
		}
	}
	if m.provider != nil {
		if err := m.provider.Close(); err != nil {
			m.logger.Warn("Error closing queue provider", "error", err)
		}
	}
	if m.deadLetters != nil {
		if err := m.deadLetters.Close(ctx); err != nil {
			m.logger.Warn("Error closing dead-letter store", "error", err)
		}
	}
	if m.postgres != nil {
		if err := m.postgres.Close(); err != nil {
			m.logger.Warn("Error closing postgres", "error", err)
		}
	}
	if m.mongo != nil {
		if err := m.mongo.Close(ctx); err != nil {
			m.logger.Warn("Error closing mongo", "error", err)
		}
	}
	if m.kvStore != nil {
		if err := m.kvStore.Close(); err != nil {
			m.logger.Warn("Error closing local store", "error", err)
		}
	}
}
