// Realmwatch - Realm Presence Tracking and Player Analytics
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/realmwatch

package supervisor

import (
	"context"

	"github.com/tomtom215/realmwatch/internal/api"
	"github.com/tomtom215/realmwatch/internal/config"
	"github.com/tomtom215/realmwatch/internal/store"
	"github.com/tomtom215/realmwatch/internal/tracker"
)

// TrackerService adapts the tracker manager to suture.Service.
type TrackerService struct {
	manager *tracker.Manager
	realms  []config.RealmConfig
}

// NewTrackerService wraps the tracker manager.
func NewTrackerService(manager *tracker.Manager, realms []config.RealmConfig) *TrackerService {
	return &TrackerService{manager: manager, realms: realms}
}

// Serve implements suture.Service. It starts the per-realm pollers and
// blocks until the context is canceled.
func (s *TrackerService) Serve(ctx context.Context) error {
	if err := s.manager.Start(ctx, s.realms); err != nil {
		return err
	}
	<-ctx.Done()
	s.manager.Stop()
	return ctx.Err()
}

// SweeperService adapts the session sweeper to suture.Service.
type SweeperService struct {
	sweeper *store.Sweeper
}

// NewSweeperService wraps the sweeper.
func NewSweeperService(sweeper *store.Sweeper) *SweeperService {
	return &SweeperService{sweeper: sweeper}
}

// Serve implements suture.Service.
func (s *SweeperService) Serve(ctx context.Context) error {
	if err := s.sweeper.Start(ctx); err != nil {
		return err
	}
	<-ctx.Done()
	s.sweeper.Stop()
	return ctx.Err()
}

// HTTPService adapts the API server to suture.Service.
type HTTPService struct {
	server *api.Server
}

// NewHTTPService wraps the API server.
func NewHTTPService(server *api.Server) *HTTPService {
	return &HTTPService{server: server}
}

// Serve implements suture.Service. ListenAndServe blocks, so shutdown is
// driven by a watcher goroutine on the context.
func (s *HTTPService) Serve(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		errCh <- s.server.Start()
	}()

	select {
	case <-ctx.Done():
		stopCtx, cancel := context.WithTimeout(context.Background(), DefaultTreeConfig().ShutdownTimeout)
		defer cancel()
		if err := s.server.Stop(stopCtx); err != nil {
			return err
		}
		<-errCh
		return ctx.Err()
	case err := <-errCh:
		return err
	}
}
