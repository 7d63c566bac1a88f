package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-session/internal/config"
	"github.com/stemsi/exstem-session/internal/model"
)

// CachedExamDefinitions is a Redis read-through cache in front of the exam
// definition store. Heartbeats hit it on every save, so it keeps PostgreSQL
// out of the hot path.
type CachedExamDefinitions struct {
	source ExamDefinitionStore
	rdb    *redis.Client
	ttl    time.Duration
	log    zerolog.Logger
}

// NewCachedExamDefinitions creates a new CachedExamDefinitions.
func NewCachedExamDefinitions(source ExamDefinitionStore, rdb *redis.Client, ttl time.Duration, log zerolog.Logger) *CachedExamDefinitions {
	return &CachedExamDefinitions{
		source: source,
		rdb:    rdb,
		ttl:    ttl,
		log:    log.With().Str("component", "exam_definition_cache").Logger(),
	}
}

// Source returns the uncached store behind the cache.
func (c *CachedExamDefinitions) Source() ExamDefinitionStore {
	return c.source
}

// GetDefinition returns the cached definition, loading and caching it on a miss.
// Missing exams are not cached, so a deleted exam is noticed within one TTL.
func (c *CachedExamDefinitions) GetDefinition(ctx context.Context, examID uuid.UUID) (*model.ExamDefinition, error) {
	key := config.CacheKey.ExamDefinitionKey(examID.String())

	raw, err := c.rdb.Get(ctx, key).Bytes()
	switch {
	case err == nil:
		var def model.ExamDefinition
		if jsonErr := json.Unmarshal(raw, &def); jsonErr == nil {
			return &def, nil
		}
		c.log.Warn().Str("exam_id", examID.String()).Msg("Discarding undecodable cached definition")
	case !errors.Is(err, redis.Nil):
		// Redis trouble should not block exams; fall through to the source.
		c.log.Warn().Err(err).Str("exam_id", examID.String()).Msg("Definition cache read failed")
	}

	def, err := c.source.GetDefinition(ctx, examID)
	if err != nil {
		return nil, err
	}

	payload, err := json.Marshal(def)
	if err != nil {
		return nil, fmt.Errorf("encode definition: %w", err)
	}
	if err := c.rdb.Set(ctx, key, payload, c.ttl).Err(); err != nil {
		c.log.Warn().Err(err).Str("exam_id", examID.String()).Msg("Definition cache write failed")
	}
	return def, nil
}
