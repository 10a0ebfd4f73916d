package notifications

import (
	"context"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/aeroride/carpool/pkg/cache"
	"github.com/aeroride/carpool/pkg/logger"
	"github.com/aeroride/carpool/pkg/models"
)

// Service owns the in-app notification feed. Notify persists a row first,
// then invalidates the per-user cache. Domain services publish their own bus
// events; this feed is purely the bell-icon inbox.
type Service struct {
	repo  RepositoryInterface
	cache *cache.Manager
}

// NewService creates a new notifications service
func NewService(repo RepositoryInterface, cacheManager *cache.Manager) *Service {
	return &Service{repo: repo, cache: cacheManager}
}

// Notify persists a notification. Failures are logged, never returned;
// callers already committed the state change being announced.
func (s *Service) Notify(ctx context.Context, userID uuid.UUID, kind models.NotificationKind, payload models.NotificationPayload) {
	notification := &models.Notification{
		UserID:  userID,
		Kind:    kind,
		Payload: payload,
	}
	inserted, err := s.repo.Create(ctx, notification)
	if err != nil {
		logger.ErrorContext(ctx, "failed to persist notification",
			zap.Error(err),
			zap.String("user_id", userID.String()),
			zap.String("kind", string(kind)))
		return
	}
	if !inserted {
		// Deduped rating prompt, nothing new to announce.
		return
	}

	s.invalidate(ctx, userID)
}

// List returns a user's notifications with their unread count.
func (s *Service) List(ctx context.Context, userID uuid.UUID, unreadOnly bool, limit, offset int) ([]*models.Notification, int64, int64, error) {
	notifications, total, err := s.repo.ListByUser(ctx, userID, unreadOnly, limit, offset)
	if err != nil {
		return nil, 0, 0, err
	}
	unread, err := s.repo.CountUnread(ctx, userID)
	if err != nil {
		return nil, 0, 0, err
	}
	return notifications, total, unread, nil
}

// MarkRead marks one notification read.
func (s *Service) MarkRead(ctx context.Context, userID, id uuid.UUID) error {
	if err := s.repo.MarkRead(ctx, userID, id); err != nil {
		return err
	}
	s.invalidate(ctx, userID)
	return nil
}

// MarkAllRead marks everything read and returns the count.
func (s *Service) MarkAllRead(ctx context.Context, userID uuid.UUID) (int64, error) {
	n, err := s.repo.MarkAllRead(ctx, userID)
	if err != nil {
		return 0, err
	}
	if n > 0 {
		s.invalidate(ctx, userID)
	}
	return n, nil
}

// UnreadCount returns the unread badge count.
func (s *Service) UnreadCount(ctx context.Context, userID uuid.UUID) (int64, error) {
	return s.repo.CountUnread(ctx, userID)
}

func (s *Service) invalidate(ctx context.Context, userID uuid.UUID) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Delete(ctx, cache.Keys.Notifications(userID.String())); err != nil {
		logger.WarnContext(ctx, "failed to invalidate notification cache", zap.Error(err))
	}
}
