package item

import (
	"encoding/json"
	"fmt"
	"time"
)

// ISOLayout renders timestamps the way browsers print Date.toISOString.
const ISOLayout = "2006-01-02T15:04:05.000Z"

// UntitledPlaceholder replaces missing entry titles.
const UntitledPlaceholder = "(untitled)"

// ScriptFailureName names the failure record written when the whole run fails.
const ScriptFailureName = "script"

// RawEntry is a single entry as returned by a feed fetcher.
type RawEntry struct {
	Title          string
	Link           string
	ContentSnippet string
	Content        string
	IsoDate        string
	PubDate        string
	Date           string
}

// Item is the normalized, deduplicated unit written to the snapshot.
type Item struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	Link      string    `json:"link"`
	Source    string    `json:"source"`
	DateISO   string    `json:"dateISO"`
	Topics    []string  `json:"topics"`
	Published time.Time `json:"-"`
}

// Failure records a feed (or the run itself) that could not be processed.
// Err is rendered to a string only when the failure is serialized.
type Failure struct {
	Name string
	URL  string
	Err  error
}

// Message returns the display string stored with the failure.
func (f Failure) Message() string {
	if f.Err == nil {
		return ""
	}
	return f.Err.Error()
}

func (f Failure) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Name  string `json:"name"`
		URL   string `json:"url"`
		Error string `json:"error"`
	}{
		Name:  f.Name,
		URL:   f.URL,
		Error: f.Message(),
	})
}

// Snapshot is the persisted result of one run.
type Snapshot struct {
	GeneratedAt time.Time
	Failures    []Failure
	Items       []Item
}

func (s Snapshot) MarshalJSON() ([]byte, error) {
	failures := s.Failures
	if failures == nil {
		failures = []Failure{}
	}
	items := s.Items
	if items == nil {
		items = []Item{}
	}
	return json.Marshal(struct {
		GeneratedAtISO string    `json:"generatedAtISO"`
		Failures       []Failure `json:"failures"`
		Items          []Item    `json:"items"`
	}{
		GeneratedAtISO: FormatISO(s.GeneratedAt),
		Failures:       failures,
		Items:          items,
	})
}

// FallbackSnapshot is the minimal snapshot written when a run aborts with err.
func FallbackSnapshot(at time.Time, err error) Snapshot {
	return Snapshot{
		GeneratedAt: at,
		Failures:    []Failure{{Name: ScriptFailureName, URL: "", Err: err}},
		Items:       []Item{},
	}
}

// FormatISO renders t in UTC with millisecond precision.
func FormatISO(t time.Time) string {
	return t.UTC().Format(ISOLayout)
}

// ErrorKind classifies feed-level failures.
type ErrorKind string

const (
	KindFetch   ErrorKind = "fetch"
	KindTimeout ErrorKind = "timeout"
	KindHTTP    ErrorKind = "http"
	KindParse   ErrorKind = "parse"
)

// FeedError is returned by fetchers for a feed that could not be read.
type FeedError struct {
	Kind ErrorKind
	URL  string
	Err  error
}

func (e *FeedError) Error() string {
	return fmt.Sprintf("%s: %v", e.Kind, e.Err)
}

func (e *FeedError) Unwrap() error {
	return e.Err
}
