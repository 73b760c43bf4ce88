package rss

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"time"

	"feedpulse/internal/item"

	"github.com/mmcdole/gofeed"
	log "github.com/sirupsen/logrus"
)

// Fetcher pulls and parses RSS, Atom and JSON feeds.
type Fetcher struct {
	parser  *gofeed.Parser
	timeout time.Duration
	logger  *log.Logger
}

// NewFetcher creates a fetcher whose every request is bounded by timeout.
func NewFetcher(timeout time.Duration, userAgent string, logger *log.Logger) *Fetcher {
	parser := gofeed.NewParser()
	parser.UserAgent = userAgent
	parser.Client = &http.Client{Timeout: timeout}
	return &Fetcher{
		parser:  parser,
		timeout: timeout,
		logger:  logger,
	}
}

// Fetch pulls the feed at feedURL and returns its entries.
func (f *Fetcher) Fetch(ctx context.Context, feedURL string) ([]item.RawEntry, error) {
	ctx, cancel := context.WithTimeout(ctx, f.timeout)
	defer cancel()

	start := time.Now()
	feed, err := f.parser.ParseURLWithContext(feedURL, ctx)
	if err != nil {
		return nil, classify(feedURL, err)
	}

	entries := make([]item.RawEntry, 0, len(feed.Items))
	for _, entry := range feed.Items {
		if entry == nil {
			continue
		}
		entries = append(entries, toRawEntry(entry))
	}
	f.logger.WithFields(log.Fields{
		"url":      feedURL,
		"entries":  len(entries),
		"duration": time.Since(start),
	}).Debug("feed fetched")
	return entries, nil
}

func toRawEntry(entry *gofeed.Item) item.RawEntry {
	raw := item.RawEntry{
		Title:          entry.Title,
		Link:           entry.Link,
		ContentSnippet: entry.Description,
		Content:        entry.Content,
		PubDate:        entry.Published,
		Date:           entry.Updated,
	}
	switch {
	case entry.PublishedParsed != nil:
		raw.IsoDate = item.FormatISO(*entry.PublishedParsed)
	case entry.UpdatedParsed != nil:
		raw.IsoDate = item.FormatISO(*entry.UpdatedParsed)
	}
	if raw.Date == "" && entry.DublinCoreExt != nil && len(entry.DublinCoreExt.Date) > 0 {
		raw.Date = entry.DublinCoreExt.Date[0]
	}
	return raw
}

func classify(feedURL string, err error) error {
	kind := item.KindParse
	var (
		httpErr gofeed.HTTPError
		urlErr  *url.Error
	)
	switch {
	case errors.Is(err, context.DeadlineExceeded), isTimeout(err):
		kind = item.KindTimeout
	case errors.As(err, &httpErr):
		kind = item.KindHTTP
	case errors.As(err, &urlErr):
		kind = item.KindFetch
	}
	return &item.FeedError{Kind: kind, URL: feedURL, Err: err}
}

func isTimeout(err error) bool {
	var t interface{ Timeout() bool }
	return errors.As(err, &t) && t.Timeout()
}
