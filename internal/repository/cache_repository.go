package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/noah-isme/kelas-ledger-api/internal/models"
	appErrors "github.com/noah-isme/kelas-ledger-api/pkg/errors"
)

// CacheRepository caches computed balance summaries in Redis. A nil
// client degrades to a pass-through so the service runs without Redis.
type CacheRepository struct {
	client *redis.Client
	logger *zap.Logger
}

// NewCacheRepository constructs a cache repository.
func NewCacheRepository(client *redis.Client, logger *zap.Logger) *CacheRepository {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CacheRepository{client: client, logger: logger}
}

func balanceKey(studentID string) string {
	return fmt.Sprintf("balance:summary:%s", studentID)
}

// GetBalanceSummary returns the cached summary for a student.
func (r *CacheRepository) GetBalanceSummary(ctx context.Context, studentID string) (*models.BalanceSummary, error) {
	if r.client == nil {
		return nil, appErrors.ErrCacheMiss
	}

	raw, err := r.client.Get(ctx, balanceKey(studentID)).Bytes()
	if err != nil {
		if err == redis.Nil {
			return nil, appErrors.ErrCacheMiss
		}
		return nil, fmt.Errorf("redis get balance summary: %w", err)
	}

	var summary models.BalanceSummary
	if err := json.Unmarshal(raw, &summary); err != nil {
		return nil, fmt.Errorf("unmarshal balance summary: %w", err)
	}
	return &summary, nil
}

// SetBalanceSummary stores a summary with the given TTL.
func (r *CacheRepository) SetBalanceSummary(ctx context.Context, summary *models.BalanceSummary, ttl time.Duration) error {
	if r.client == nil || summary == nil {
		return nil
	}

	payload, err := json.Marshal(summary)
	if err != nil {
		return fmt.Errorf("marshal balance summary: %w", err)
	}
	if err := r.client.Set(ctx, balanceKey(summary.StudentID), payload, ttl).Err(); err != nil {
		return fmt.Errorf("redis set balance summary: %w", err)
	}
	return nil
}

// InvalidateBalanceSummary drops the cached summary after a ledger mutation.
func (r *CacheRepository) InvalidateBalanceSummary(ctx context.Context, studentID string) {
	if r.client == nil {
		return
	}
	if err := r.client.Del(ctx, balanceKey(studentID)).Err(); err != nil {
		r.logger.Sugar().Warnw("failed to invalidate balance summary cache", "student_id", studentID, "error", err)
	}
}

// Close releases the underlying Redis connection if present.
func (r *CacheRepository) Close() error {
	if r.client == nil {
		return nil
	}
	return r.client.Close()
}
