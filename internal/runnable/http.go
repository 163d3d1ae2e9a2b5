/*
Copyright 2025 The Kubernetes Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

// Package runnable converts servers into context-driven run functions with uniform logging
// and shutdown behavior.
package runnable

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	ctrl "sigs.k8s.io/controller-runtime"
)

// Runnable is a long-running component bound to a context's lifetime.
type Runnable func(ctx context.Context) error

// HTTPServer converts the given HTTP server into a runnable.
// The server name is just being used for logging.
func HTTPServer(name string, srv *http.Server, shutdownTimeout time.Duration) Runnable {
	return func(ctx context.Context) error {
		// Use "name" key as that is what manager.Server does as well.
		log := ctrl.Log.WithValues("name", name)
		log.Info("HTTP server starting")

		// Start listening.
		lis, err := net.Listen("tcp", srv.Addr)
		if err != nil {
			return fmt.Errorf("HTTP server failed to listen - %w", err)
		}

		log.Info("HTTP server listening", "addr", lis.Addr().String())

		// Terminate the server on context closed.
		// Make sure the goroutine does not leak.
		doneCh := make(chan struct{})
		defer close(doneCh)
		go func() {
			select {
			case <-ctx.Done():
				log.Info("HTTP server shutting down")
				shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
				defer cancel()
				if err := srv.Shutdown(shutdownCtx); err != nil {
					log.Error(err, "HTTP server forced to close")
					_ = srv.Close()
				}
			case <-doneCh:
			}
		}()

		// Keep serving until terminated.
		if err := srv.Serve(lis); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("HTTP server failed - %w", err)
		}
		log.Info("HTTP server terminated")
		return nil
	}
}
