// Realmwatch - Realm Presence Tracking and Player Analytics
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/realmwatch

package supervisor

import (
	"context"
	"testing"
	"time"

	"github.com/tomtom215/realmwatch/internal/logging"
)

// blockingService runs until its context is canceled and records that it
// was started.
type blockingService struct {
	started chan struct{}
}

func (s *blockingService) Serve(ctx context.Context) error {
	select {
	case s.started <- struct{}{}:
	default:
	}
	<-ctx.Done()
	return ctx.Err()
}

func TestTree_RunsServicesUntilCanceled(t *testing.T) {
	tree := NewTree(logging.NewSlogLogger(), DefaultTreeConfig())

	pipeline := &blockingService{started: make(chan struct{}, 1)}
	apiSvc := &blockingService{started: make(chan struct{}, 1)}
	tree.AddPipelineService(pipeline)
	tree.AddAPIService(apiSvc)

	ctx, cancel := context.WithCancel(context.Background())
	errCh := tree.ServeBackground(ctx)

	for _, svc := range []*blockingService{pipeline, apiSvc} {
		select {
		case <-svc.started:
		case <-time.After(5 * time.Second):
			t.Fatal("Timed out waiting for service start")
		}
	}

	cancel()
	select {
	case err := <-errCh:
		if err != nil && err != context.Canceled {
			t.Errorf("Expected clean shutdown, got %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Timed out waiting for tree shutdown")
	}
}

func TestDefaultTreeConfig(t *testing.T) {
	cfg := DefaultTreeConfig()
	if cfg.FailureThreshold != 5.0 || cfg.ShutdownTimeout != 10*time.Second {
		t.Errorf("Unexpected defaults: %+v", cfg)
	}
}
