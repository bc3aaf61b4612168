package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/angelmondragon/busline-backend/pkg/logger"
)

type runner interface {
	Run(ctx context.Context) error
}

type pinger interface {
	Ping(ctx context.Context) error
}

// dependency is a named client that must answer before consumers start.
type dependency struct {
	name string
	ping pinger
}

type ServiceParams struct {
	Logger               *logger.Logger
	Dependencies         []dependency
	NotificationConsumer runner
	InvoiceConsumer      runner
}

// Service runs the outcome fan-out and the invoice event trigger side by
// side. Either consumer stopping ends the worker.
type Service struct {
	logg                 *logger.Logger
	deps                 []dependency
	notificationConsumer runner
	invoiceConsumer      runner
}

func NewService(params ServiceParams) (*Service, error) {
	if params.Logger == nil {
		return nil, errors.New("logger is required")
	}
	if params.NotificationConsumer == nil {
		return nil, errors.New("notification consumer is required")
	}
	if params.InvoiceConsumer == nil {
		return nil, errors.New("invoice event consumer is required")
	}
	for _, dep := range params.Dependencies {
		if dep.ping == nil {
			return nil, fmt.Errorf("%s client is required", dep.name)
		}
	}
	return &Service{
		logg:                 params.Logger,
		deps:                 params.Dependencies,
		notificationConsumer: params.NotificationConsumer,
		invoiceConsumer:      params.InvoiceConsumer,
	}, nil
}

func (s *Service) ensureReadiness(ctx context.Context) error {
	for _, dep := range s.deps {
		if err := dep.ping.Ping(ctx); err != nil {
			s.logg.Error(ctx, fmt.Sprintf("%s ping failed", dep.name), err)
			return fmt.Errorf("%s ping failed: %w", dep.name, err)
		}
	}
	s.logg.Info(ctx, "all worker dependencies are ready")
	return nil
}

func (s *Service) Run(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}

	if err := s.ensureReadiness(ctx); err != nil {
		return err
	}

	errCh := make(chan error, 2)
	go func() {
		errCh <- s.notificationConsumer.Run(ctx)
	}()
	go func() {
		errCh <- s.invoiceConsumer.Run(ctx)
	}()

	select {
	case <-ctx.Done():
		s.logg.Info(ctx, "worker context canceled")
		return ctx.Err()
	case err := <-errCh:
		if err != nil && !errors.Is(err, context.Canceled) {
			s.logg.Error(ctx, "consumer stopped unexpectedly", err)
			return err
		}
		return err
	}
}
