package service

import (
	"context"
	"fmt"
	"strings"

	"feedpulse/internal/config"
	"feedpulse/internal/item"

	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"
)

// Fetcher retrieves the entries of a single feed.
type Fetcher interface {
	Fetch(ctx context.Context, feedURL string) ([]item.RawEntry, error)
}

// TopicResult is what one topic contributes to a run.
type TopicResult struct {
	Topic    string
	Items    []item.Item
	Failures []item.Failure
}

// TopicProcessor fetches the feeds of a topic and turns matching entries
// into items. Fetches from all topics share one concurrency limit.
type TopicProcessor struct {
	fetcher Fetcher
	sem     *semaphore.Weighted
	logger  *log.Logger
}

// NewTopicProcessor creates a processor allowing at most workers concurrent fetches.
func NewTopicProcessor(fetcher Fetcher, workers int, logger *log.Logger) *TopicProcessor {
	if workers < 1 {
		workers = 1
	}
	return &TopicProcessor{
		fetcher: fetcher,
		sem:     semaphore.NewWeighted(int64(workers)),
		logger:  logger,
	}
}

type fetchResult struct {
	entries []item.RawEntry
	err     error
}

// Process fetches every feed of topic. A failing feed is recorded and never
// stops the others; results are assembled in feed order. The returned error
// is reserved for panics raised while fetching.
func (p *TopicProcessor) Process(ctx context.Context, topic config.Topic) (TopicResult, error) {
	fetched := make([]fetchResult, len(topic.Feeds))

	var g errgroup.Group
	for i, feed := range topic.Feeds {
		g.Go(func() (err error) {
			defer recoverAsError(&err, "feed %s", feed.URL)
			if err := p.sem.Acquire(ctx, 1); err != nil {
				fetched[i].err = err
				return nil
			}
			defer p.sem.Release(1)
			fetched[i].entries, fetched[i].err = p.fetcher.Fetch(ctx, feed.URL)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return TopicResult{}, fmt.Errorf("topic %s: %w", topic.Key, err)
	}

	result := TopicResult{Topic: topic.Key}
	for i, feed := range topic.Feeds {
		logger := p.logger.WithFields(log.Fields{
			"topic": topic.Key,
			"feed":  feed.Name,
			"url":   feed.URL,
		})
		if err := fetched[i].err; err != nil {
			logger.WithError(err).Warn("feed failed")
			result.Failures = append(result.Failures, item.Failure{Name: feed.Name, URL: feed.URL, Err: err})
			continue
		}

		kept := 0
		for _, entry := range fetched[i].entries {
			it, ok := buildItem(topic, feed, entry)
			if !ok {
				continue
			}
			result.Items = append(result.Items, it)
			kept++
		}
		logger.WithFields(log.Fields{
			"entries": len(fetched[i].entries),
			"kept":    kept,
		}).Debug("feed processed")
	}
	return result, nil
}

func recoverAsError(err *error, format string, args ...any) {
	if r := recover(); r != nil {
		*err = fmt.Errorf("%s: panic: %v", fmt.Sprintf(format, args...), r)
	}
}

// buildItem applies the entry-level rules: a link and a parseable date are
// required and the topic keywords, if any, must match.
func buildItem(topic config.Topic, feed config.Feed, entry item.RawEntry) (item.Item, bool) {
	link := strings.TrimSpace(entry.Link)
	if link == "" {
		return item.Item{}, false
	}
	published, ok := item.PickDate(entry)
	if !ok {
		return item.Item{}, false
	}
	text := strings.Join([]string{entry.Title, entry.ContentSnippet, entry.Content}, " ")
	if !item.MatchesKeywords(text, topic.Keywords) {
		return item.Item{}, false
	}

	title := strings.TrimSpace(entry.Title)
	if title == "" {
		title = item.UntitledPlaceholder
	}
	return item.Item{
		ID:        item.MakeID(feed.Name, link, title),
		Title:     title,
		Link:      link,
		Source:    feed.Name,
		DateISO:   item.FormatISO(published),
		Topics:    []string{topic.Key},
		Published: published,
	}, true
}
