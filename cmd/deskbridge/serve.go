package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"deskbridge/internal/app"
)

func newServeCmd() *cobra.Command {
	var noJobs bool
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API and the job scheduler",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), !noJobs)
		},
	}
	cmd.Flags().BoolVar(&noJobs, "no-jobs", false, "Serve HTTP only; leave scheduled jobs to another instance")
	return cmd
}

func runServe(ctx context.Context, withJobs bool) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	rt, err := bootstrap(ctx)
	if err != nil {
		return err
	}
	defer rt.Close()

	if stored, err := rt.settings.Version(ctx); err != nil {
		rt.logger.WithError(err).Warn("Failed to read stored version")
	} else if stored != buildVersion {
		rt.logger.WithFields(logrus.Fields{"stored": stored, "binary": buildVersion}).Warn("Stored version differs from this binary; run migrate")
	}

	httpServer := app.NewHTTPServer(rt.service, rt.cfg.CORSOrigin)
	if withJobs {
		sched, err := rt.scheduler()
		if err != nil {
			return err
		}
		sched.Start()
		defer func() {
			stopCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()
			sched.Stop(stopCtx)
		}()
		httpServer.WithScheduler(sched)
	}

	server := &http.Server{
		Addr:              rt.cfg.Addr,
		Handler:           httpServer.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		rt.logger.WithField("addr", rt.cfg.Addr).Info("deskbridge listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		rt.logger.WithError(err).Warn("shutdown error")
	}
	return nil
}
