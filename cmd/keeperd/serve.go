package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"runtime/debug"
	"syscall"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/jrsteele09/go-session-keeper/internal/config"
	"github.com/jrsteele09/go-session-keeper/server"
)

func newServeCommand(c config.Config) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the keeper and its operator API",
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context(), c)
		},
	}
}

func run(ctx context.Context, c config.Config) (returnError error) {
	defer func() {
		if r := recover(); r != nil {
			log.Error().Interface("panic", r).Bytes("stack", debug.Stack()).Msg("recovered from panic")
			returnError = errors.New("panic recovered")
		}
	}()

	displayAppname(c.GetAppName())

	a, err := newApp(ctx, c)
	if err != nil {
		return err
	}
	defer a.Close()

	if err := a.keeper.Start(ctx); err != nil {
		return err
	}
	handler, err := server.New(c, a.keeper)
	if err != nil {
		_ = a.keeper.Stop(ctx)
		return err
	}

	httpServer := &http.Server{Addr: c.GetPort(), Handler: handler}
	errCh := make(chan error, 1)
	go func() {
		errCh <- listenAndServe(httpServer)
	}()

	select {
	case <-waitForStopSignal():
	case err := <-errCh:
		returnError = err
	}
	if err := shutdown(c, httpServer, a); err != nil && returnError == nil {
		returnError = err
	}
	log.Info().Msg("Server stopped")
	return returnError
}

func listenAndServe(server *http.Server) error {
	log.Info().Str("addr", server.Addr).Msg("Server listening")
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("server.ListenAndServe %w", err)
	}
	return nil
}

func waitForStopSignal() <-chan os.Signal {
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	return stop
}

// shutdown stops taking requests first, then lets the keeper persist its
// sessions within the same deadline.
func shutdown(c config.Config, server *http.Server, a *app) error {
	ctx, cancel := context.WithTimeout(context.Background(), c.GetShutdownTimeout())
	defer cancel()
	var errs []error
	if err := server.Shutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("server.Shutdown: %w", err))
	}
	if err := a.keeper.Stop(ctx); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}
