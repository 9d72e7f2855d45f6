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
	"github.com/stemsi/exstem-engine/internal/config"
	"github.com/stemsi/exstem-engine/internal/model"
	"github.com/stemsi/exstem-engine/internal/repository"
	"github.com/stemsi/exstem-engine/internal/session"
)

// ExamDefinitionTTL bounds how long a cached definition can lag a status change.
const ExamDefinitionTTL = 10 * time.Minute

// ErrNoQuestions is returned when warming an exam without an answer key.
var ErrNoQuestions = errors.New("exam has no questions")

// ExamStore is the persistence ExamService needs.
type ExamStore interface {
	GetByID(ctx context.Context, id uuid.UUID) (*model.ExamDefinition, error)
	ListPublished(ctx context.Context) ([]model.ExamDefinition, error)
	AnswerKey(ctx context.Context, examID uuid.UUID) (map[string]string, error)
}

// ExamService serves exam definitions and answer keys, read-through cached in
// Redis. A nil Redis client disables caching.
type ExamService struct {
	examRepo ExamStore
	rdb      *redis.Client
	log      zerolog.Logger
}

// NewExamService creates a new ExamService.
func NewExamService(examRepo ExamStore, rdb *redis.Client, log zerolog.Logger) *ExamService {
	return &ExamService{
		examRepo: examRepo,
		rdb:      rdb,
		log:      log.With().Str("component", "exam_service").Logger(),
	}
}

// GetDefinition returns an exam definition, from cache when possible.
func (s *ExamService) GetDefinition(ctx context.Context, id uuid.UUID) (*model.ExamDefinition, error) {
	key := config.CacheKey.ExamDefinitionKey(id.String())
	if s.rdb != nil {
		data, err := s.rdb.Get(ctx, key).Bytes()
		if err == nil {
			var exam model.ExamDefinition
			if jerr := json.Unmarshal(data, &exam); jerr == nil {
				return &exam, nil
			}
			s.log.Warn().Str("exam_id", id.String()).Msg("Corrupt cached definition, reloading")
		} else if !errors.Is(err, redis.Nil) {
			s.log.Warn().Err(err).Msg("Definition cache read failed")
		}
	}

	exam, err := s.examRepo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	s.cacheDefinition(ctx, exam)
	return exam, nil
}

func (s *ExamService) cacheDefinition(ctx context.Context, exam *model.ExamDefinition) {
	if s.rdb == nil {
		return
	}
	data, err := json.Marshal(exam)
	if err != nil {
		return
	}
	if err := s.rdb.Set(ctx, config.CacheKey.ExamDefinitionKey(exam.ID.String()), data, ExamDefinitionTTL).Err(); err != nil {
		s.log.Warn().Err(err).Msg("Definition cache write failed")
	}
}

// WarmExamCache loads an exam's definition and answer key from PostgreSQL into Redis.
func (s *ExamService) WarmExamCache(ctx context.Context, exam *model.ExamDefinition) error {
	if s.rdb == nil {
		return nil
	}
	answerKey, err := s.examRepo.AnswerKey(ctx, exam.ID)
	if err != nil {
		return fmt.Errorf("load answer key: %w", err)
	}
	if len(answerKey) == 0 {
		return ErrNoQuestions
	}

	data, err := json.Marshal(exam)
	if err != nil {
		return fmt.Errorf("marshal definition: %w", err)
	}

	hash := make(map[string]interface{}, len(answerKey))
	for qid, ans := range answerKey {
		hash[qid] = ans
	}

	// Cache both atomically via pipeline.
	keyKey := config.CacheKey.ExamAnswerKey(exam.ID.String())
	pipe := s.rdb.TxPipeline()
	pipe.Set(ctx, config.CacheKey.ExamDefinitionKey(exam.ID.String()), data, ExamDefinitionTTL)
	pipe.Del(ctx, keyKey)
	pipe.HSet(ctx, keyKey, hash)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("cache to redis: %w", err)
	}

	s.log.Debug().
		Str("exam_id", exam.ID.String()).
		Int("questions", len(answerKey)).
		Msg("Cache warmed")
	return nil
}

// PrewarmAllCaches loads all published exams into Redis on application startup.
func (s *ExamService) PrewarmAllCaches(ctx context.Context) error {
	exams, err := s.examRepo.ListPublished(ctx)
	if err != nil {
		return fmt.Errorf("list published exams: %w", err)
	}

	warmed := 0
	for i := range exams {
		if err := s.WarmExamCache(ctx, &exams[i]); err != nil {
			s.log.Warn().Err(err).Str("exam_id", exams[i].ID.String()).Msg("Skipping exam during prewarm")
			continue
		}
		warmed++
	}
	s.log.Info().Int("exams", warmed).Msg("Exam caches prewarmed")
	return nil
}

// GetAnswerKey returns question key → correct answer, from cache when possible.
func (s *ExamService) GetAnswerKey(ctx context.Context, examID uuid.UUID) (map[string]string, error) {
	key := config.CacheKey.ExamAnswerKey(examID.String())
	if s.rdb != nil {
		result, err := s.rdb.HGetAll(ctx, key).Result()
		if err == nil && len(result) > 0 {
			return result, nil
		}
		if err != nil {
			s.log.Warn().Err(err).Msg("Answer key cache read failed")
		}
	}

	answerKey, err := s.examRepo.AnswerKey(ctx, examID)
	if err != nil {
		return nil, fmt.Errorf("load answer key: %w", err)
	}
	if s.rdb != nil && len(answerKey) > 0 {
		hash := make(map[string]interface{}, len(answerKey))
		for qid, ans := range answerKey {
			hash[qid] = ans
		}
		if err := s.rdb.HSet(ctx, key, hash).Err(); err != nil {
			s.log.Warn().Err(err).Msg("Answer key cache write failed")
		}
	}
	return answerKey, nil
}

// Score grades answers against the exam's answer key and marking rule.
func (s *ExamService) Score(ctx context.Context, exam *model.ExamDefinition, answers map[string]string) (float64, error) {
	key, err := s.GetAnswerKey(ctx, exam.ID)
	if err != nil {
		return 0, err
	}
	return session.ScoreAgainstKey(key, answers, exam.Marking()), nil
}

var _ session.Scorer = (*ExamService)(nil)

// compile-time check that the pgx repository satisfies ExamStore.
var _ ExamStore = (*repository.ExamRepository)(nil)
