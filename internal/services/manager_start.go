package services

import (
	"context"
	"errors"
	"net/http"
)

// Start launches the admin server and the worker pool. The pool consumes
// until bgCtx is cancelled and then drains in-flight jobs.
func (m *Manager) Start(bgCtx context.Context) {
	for i, srv := range m.servers {
		m.wg.Add(1)
		go func(s *http.Server, name string) {
			defer m.wg.Done()
			m.logger.Info("Server listening", "server", name, "address", s.Addr)
			if err := s.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				m.logger.Error("Server error", "server", name, "error", err)
			}
		}(srv, m.serverNames[i])
	}

	if m.pool != nil {
		m.wg.Add(1)
		go func() {
			defer m.wg.Done()
			defer close(m.poolDone)
			if err := m.pool.Start(bgCtx); err != nil {
				m.setPoolErr(err)
				m.logger.Error("Worker pool stopped with error", "error", err)
			}
		}()
	}
}
