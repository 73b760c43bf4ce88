package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"feedpulse/internal/config"
	"feedpulse/internal/item"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

// SnapshotWriter persists a snapshot, replacing the previous one.
type SnapshotWriter interface {
	Write(ctx context.Context, snapshot item.Snapshot) error
}

// TopicLoader returns the topics to aggregate for a run.
type TopicLoader func() ([]config.Topic, error)

// Summary describes the outcome of a run.
type Summary struct {
	Topics   int
	Feeds    int
	Items    int
	Failures int
}

func (s Summary) String() string {
	return fmt.Sprintf("items=%d failures=%d", s.Items, s.Failures)
}

// Service ties together topic loading, fetching, aggregation and persistence.
type Service struct {
	processor *TopicProcessor
	store     SnapshotWriter
	load      TopicLoader
	logger    *log.Logger
	window    time.Duration
	now       func() time.Time
}

// NewService creates a Service instance.
func NewService(fetcher Fetcher, store SnapshotWriter, load TopicLoader, logger *log.Logger, cfg config.Config) *Service {
	return &Service{
		processor: NewTopicProcessor(fetcher, cfg.Workers, logger),
		store:     store,
		load:      load,
		logger:    logger,
		window:    cfg.Window,
		now:       time.Now,
	}
}

// Run performs one aggregation pass and writes exactly one snapshot. If any
// stage fails (or panics) the written snapshot is the fallback one carrying
// the error, and that error is returned.
func (s *Service) Run(ctx context.Context) (summary Summary, err error) {
	logger := s.logger.WithField("run_id", uuid.NewString())
	start := s.now()

	var snapshot item.Snapshot
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
		if err != nil {
			logger.WithError(err).Error("run failed, writing fallback snapshot")
			snapshot = item.FallbackSnapshot(s.now(), err)
			summary = Summary{Failures: len(snapshot.Failures)}
		}
		if werr := s.store.Write(context.WithoutCancel(ctx), snapshot); werr != nil {
			err = errors.Join(err, fmt.Errorf("write snapshot: %w", werr))
		}
	}()

	topics, err := s.load()
	if err != nil {
		return summary, fmt.Errorf("load topics: %w", err)
	}
	logger.WithFields(log.Fields{
		"topics": len(topics),
		"feeds":  config.FeedCount(topics),
	}).Info("run started")

	results, err := s.processAll(ctx, topics)
	if err != nil {
		return summary, err
	}
	items, failures := Aggregate(results, start, s.window)

	snapshot = item.Snapshot{
		GeneratedAt: s.now(),
		Failures:    failures,
		Items:       items,
	}
	summary = Summary{
		Topics:   len(topics),
		Feeds:    config.FeedCount(topics),
		Items:    len(items),
		Failures: len(failures),
	}
	logger.WithFields(log.Fields{
		"items":    summary.Items,
		"failures": summary.Failures,
		"duration": time.Since(start),
	}).Info("run aggregated")
	return summary, nil
}

// processAll runs every topic concurrently and returns the results in topic
// order, so merging downstream stays deterministic.
func (s *Service) processAll(ctx context.Context, topics []config.Topic) ([]TopicResult, error) {
	results := make([]TopicResult, len(topics))
	var g errgroup.Group
	for i, topic := range topics {
		g.Go(func() (err error) {
			defer recoverAsError(&err, "topic %s", topic.Key)
			results[i], err = s.processor.Process(ctx, topic)
			return err
		})
	}
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("process topics: %w", err)
	}
	return results, nil
}
