// Package service provides business logic for the application.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/annotator/nipsa/internal/cache"
	"github.com/annotator/nipsa/internal/metrics"
	"github.com/annotator/nipsa/internal/model"
	"github.com/annotator/nipsa/internal/queue"
	"github.com/annotator/nipsa/internal/repository"
)

// ErrInvalidUserID is returned for an empty user ID.
var ErrInvalidUserID = errors.New("user_id is required")

// StatusCache caches the flag status of users. *cache.Cache implements it.
type StatusCache interface {
	GetStatus(ctx context.Context, userID string) (bool, error)
	SetStatus(ctx context.Context, userID string, flagged bool) error
	// FillStatus stores a status only when none is cached.
	FillStatus(ctx context.Context, userID string, flagged bool) (bool, error)
}

// NipsaService flags and unflags users. Every flag or unflag writes the store
// first and then publishes a change event, even when the store call changed
// nothing, so a repeated request re-runs propagation.
type NipsaService struct {
	store     repository.NipsaStore
	publisher queue.Publisher
	cache     StatusCache
	logger    *slog.Logger
	metrics   metrics.Recorder
}

// NewNipsaService creates a NipsaService. statusCache may be nil.
func NewNipsaService(store repository.NipsaStore, publisher queue.Publisher, statusCache StatusCache, logger *slog.Logger, recorder metrics.Recorder) *NipsaService {
	if recorder == nil {
		recorder = metrics.NewNoop()
	}
	if publisher == nil {
		publisher = queue.NoopPublisher{}
	}
	return &NipsaService{
		store:     store,
		publisher: publisher,
		cache:     statusCache,
		logger:    logger.With("component", "nipsa.service"),
		metrics:   recorder,
	}
}

// List returns every flagged user ID.
func (s *NipsaService) List(ctx context.Context) ([]string, error) {
	ids, err := s.store.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("list flagged users: %w", err)
	}
	if ids == nil {
		ids = []string{}
	}
	return ids, nil
}

// Flag adds userID to the denylist and publishes a flag event.
func (s *NipsaService) Flag(ctx context.Context, userID string) error {
	if err := validateUserID(userID); err != nil {
		return err
	}
	if err := s.store.Add(ctx, userID); err != nil {
		return fmt.Errorf("flag user: %w", err)
	}
	s.metrics.IncUserFlagged()
	s.cacheStatus(ctx, userID, true)

	return s.publish(ctx, model.NewFlagEvent(userID))
}

// Unflag removes userID from the denylist and publishes an unflag event.
func (s *NipsaService) Unflag(ctx context.Context, userID string) error {
	if err := validateUserID(userID); err != nil {
		return err
	}
	if err := s.store.Remove(ctx, userID); err != nil {
		return fmt.Errorf("unflag user: %w", err)
	}
	s.metrics.IncUserUnflagged()
	s.cacheStatus(ctx, userID, false)

	return s.publish(ctx, model.NewUnflagEvent(userID))
}

// IsFlagged reports whether userID is on the denylist, reading through the
// status cache when one is configured.
func (s *NipsaService) IsFlagged(ctx context.Context, userID string) (bool, error) {
	if err := validateUserID(userID); err != nil {
		return false, err
	}

	if s.cache != nil {
		flagged, err := s.cache.GetStatus(ctx, userID)
		if err == nil {
			return flagged, nil
		}
		if !errors.Is(err, cache.ErrCacheMiss) {
			s.logger.Warn("status cache read failed", "user_id", userID, "error", err)
		}
	}

	flagged, err := s.store.Contains(ctx, userID)
	if err != nil {
		return false, fmt.Errorf("check user: %w", err)
	}
	// A Flag or Unflag may have run since Contains; its cached value wins.
	if s.cache != nil {
		if _, err := s.cache.FillStatus(ctx, userID, flagged); err != nil {
			s.logger.Warn("status cache fill failed", "user_id", userID, "error", err)
		}
	}
	return flagged, nil
}

func (s *NipsaService) publish(ctx context.Context, event model.ChangeEvent) error {
	if _, disabled := s.publisher.(queue.NoopPublisher); disabled {
		s.metrics.IncEventPublished(metrics.PublishDisabled)
		return nil
	}

	if err := s.publisher.Publish(ctx, event); err != nil {
		s.metrics.IncEventPublished(metrics.PublishFailed)
		s.logger.Error("failed to publish change event",
			"action", event.Action.String(),
			"user_id", event.UserID,
			"error", err,
		)
		return fmt.Errorf("publish %s event: %w", event.Action, err)
	}
	s.metrics.IncEventPublished(metrics.PublishSuccess)
	return nil
}

func (s *NipsaService) cacheStatus(ctx context.Context, userID string, flagged bool) {
	if s.cache == nil {
		return
	}
	if err := s.cache.SetStatus(ctx, userID, flagged); err != nil {
		s.logger.Warn("status cache write failed", "user_id", userID, "error", err)
	}
}

func validateUserID(userID string) error {
	if strings.TrimSpace(userID) == "" {
		return ErrInvalidUserID
	}
	return nil
}
