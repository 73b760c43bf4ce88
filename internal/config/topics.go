package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/samber/lo"
	"gopkg.in/yaml.v3"
)

// ErrNoTopics is returned when a topics file defines no topic at all.
var ErrNoTopics = errors.New("no topics configured")

// Feed is a single feed source of a topic.
type Feed struct {
	Name string `yaml:"name" toml:"name"`
	URL  string `yaml:"url" toml:"url"`
}

// Topic groups feeds under a key with an optional keyword filter.
type Topic struct {
	Key      string
	Feeds    []Feed
	Keywords []string
}

type topicFile struct {
	Feeds    []Feed   `yaml:"feeds" toml:"feeds"`
	Keywords []string `yaml:"keywords" toml:"keywords"`
}

// LoadTopics reads and validates a YAML or TOML topics file. Topics are
// returned sorted by key.
func LoadTopics(path string) ([]Topic, error) {
	if path == "" {
		return nil, errors.New("topics file path is empty")
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read topics file: %w", err)
	}

	var raw map[string]topicFile
	switch strings.ToLower(filepath.Ext(path)) {
	case ".toml":
		raw, err = decodeTOML(data)
	case ".yaml", ".yml", "":
		raw, err = decodeYAML(data)
	default:
		return nil, fmt.Errorf("unsupported topics file extension %q", filepath.Ext(path))
	}
	if err != nil {
		return nil, fmt.Errorf("parse topics file %s: %w", path, err)
	}

	topics, err := buildTopics(raw)
	if err != nil {
		return nil, fmt.Errorf("invalid topics file %s: %w", path, err)
	}
	return topics, nil
}

func decodeYAML(data []byte) (map[string]topicFile, error) {
	var raw map[string]topicFile
	dec := yaml.NewDecoder(strings.NewReader(os.ExpandEnv(string(data))))
	dec.KnownFields(true)
	if err := dec.Decode(&raw); err != nil && !errors.Is(err, io.EOF) {
		return nil, err
	}
	return raw, nil
}

func decodeTOML(data []byte) (map[string]topicFile, error) {
	var raw map[string]topicFile
	md, err := toml.Decode(os.ExpandEnv(string(data)), &raw)
	if err != nil {
		return nil, err
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		return nil, fmt.Errorf("unknown keys: %s", strings.Join(lo.Map(undecoded, func(k toml.Key, _ int) string {
			return k.String()
		}), ", "))
	}
	return raw, nil
}

func buildTopics(raw map[string]topicFile) ([]Topic, error) {
	if len(raw) == 0 {
		return nil, ErrNoTopics
	}

	keys := lo.Keys(raw)
	slices.Sort(keys)

	topics := make([]Topic, 0, len(keys))
	for _, key := range keys {
		if strings.TrimSpace(key) == "" {
			return nil, errors.New("topic key must not be blank")
		}
		t := raw[key]
		if len(t.Feeds) == 0 {
			return nil, fmt.Errorf("topic %q: feeds is required and must not be empty", key)
		}
		for i, f := range t.Feeds {
			if err := validateFeed(f); err != nil {
				return nil, fmt.Errorf("topic %q: feed #%d: %w", key, i+1, err)
			}
		}
		keywords := lo.Filter(lo.Map(t.Keywords, func(k string, _ int) string {
			return strings.TrimSpace(k)
		}), func(k string, _ int) bool {
			return k != ""
		})
		topics = append(topics, Topic{Key: key, Feeds: t.Feeds, Keywords: keywords})
	}
	return topics, nil
}

func validateFeed(f Feed) error {
	if strings.TrimSpace(f.Name) == "" {
		return errors.New("name is required")
	}
	if strings.TrimSpace(f.URL) == "" {
		return fmt.Errorf("%s: url is required", f.Name)
	}
	return nil
}

// FeedCount returns the total number of feeds across topics.
func FeedCount(topics []Topic) int {
	return lo.SumBy(topics, func(t Topic) int { return len(t.Feeds) })
}
