package repository

import (
	"context"
	"fmt"
	"strings"

	"github.com/kweku-annan/api-gateway/internal/domain"
	"gorm.io/gorm"
)

type APIKeyRepository interface {
	ListActiveKeys(ctx context.Context) ([]string, error)
}

type GormAPIKeyRepo struct {
	db *gorm.DB
}

func NewGormAPIKeyRepo(db *gorm.DB) *GormAPIKeyRepo {
	return &GormAPIKeyRepo{db: db}
}

// ListActiveKeys returns every active key, blanks dropped.
func (r *GormAPIKeyRepo) ListActiveKeys(ctx context.Context) ([]string, error) {
	var keys []string
	err := r.db.WithContext(ctx).
		Model(&APIKeyModel{}).
		Where("active = ?", true).
		Order("created_at").
		Pluck("key", &keys).Error
	if err != nil {
		return nil, fmt.Errorf("%w: list api keys: %w", domain.ErrUpstreamUnavailable, err)
	}

	return compactKeys(keys), nil
}

func compactKeys(keys []string) []string {
	out := keys[:0]
	for _, k := range keys {
		if k = strings.TrimSpace(k); k != "" {
			out = append(out, k)
		}
	}
	return out
}
