package config

import (
	"bytes"
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/JakeFAU/feedroll/internal/store"
)

// ErrFeedExists is returned when adding a URL that is already subscribed.
var ErrFeedExists = errors.New("feed is already subscribed")

// AddFeed appends a feed entry to the configuration file at path.
func AddFeed(path, url, period string) error {
	return editFeeds(path, func(feeds *yaml.Node) (bool, error) {
		if findFeed(feeds, url) >= 0 {
			return false, ErrFeedExists
		}
		entry := &yaml.Node{Kind: yaml.MappingNode, Tag: "!!map"}
		entry.Content = append(entry.Content,
			scalar("url"), scalar(url),
			scalar("period"), scalar(period),
		)
		feeds.Content = append(feeds.Content, entry)
		return true, nil
	})
}

// RemoveFeed deletes every entry for url from the configuration file. It
// reports whether anything was removed.
func RemoveFeed(path, url string) (bool, error) {
	removed := false
	err := editFeeds(path, func(feeds *yaml.Node) (bool, error) {
		kept := feeds.Content[:0]
		for _, item := range feeds.Content {
			if entryURL(item) == url {
				removed = true
				continue
			}
			kept = append(kept, item)
		}
		feeds.Content = kept
		return removed, nil
	})
	return removed, err
}

// ChangeFeedURL rewrites the url of the entry for oldURL.
func ChangeFeedURL(path, oldURL, newURL string) error {
	return editFeeds(path, func(feeds *yaml.Node) (bool, error) {
		idx := findFeed(feeds, oldURL)
		if idx < 0 {
			return false, fmt.Errorf("feed %s not found in %s", oldURL, path)
		}
		item := feeds.Content[idx]
		if item.Kind == yaml.ScalarNode {
			item.Value = newURL
			return true, nil
		}
		for i := 0; i+1 < len(item.Content); i += 2 {
			if item.Content[i].Value == "url" {
				item.Content[i+1].Value = newURL
			}
		}
		return true, nil
	})
}

// editFeeds loads path as a YAML node tree, hands the feeds sequence to fn and
// writes the document back atomically when fn reports a change.
func editFeeds(path string, fn func(feeds *yaml.Node) (bool, error)) error {
	// #nosec G304 -- path is the operator's configuration file.
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config: %w", err)
	}
	var doc yaml.Node
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return fmt.Errorf("parse config: %w", err)
	}
	if doc.Kind == 0 {
		doc = yaml.Node{Kind: yaml.DocumentNode}
	}
	if len(doc.Content) == 0 {
		doc.Content = append(doc.Content, &yaml.Node{Kind: yaml.MappingNode, Tag: "!!map"})
	}
	root := doc.Content[0]
	if root.Kind != yaml.MappingNode {
		return fmt.Errorf("config root must be a mapping")
	}

	feeds := lookup(root, "feeds")
	if feeds == nil || feeds.Kind != yaml.SequenceNode {
		seq := &yaml.Node{Kind: yaml.SequenceNode, Tag: "!!seq"}
		if feeds == nil {
			root.Content = append(root.Content, scalar("feeds"), seq)
		} else {
			*feeds = *seq
		}
		feeds = lookup(root, "feeds")
	}

	changed, err := fn(feeds)
	if err != nil || !changed {
		return err
	}

	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(&doc); err != nil {
		return fmt.Errorf("encode config: %w", err)
	}
	if err := enc.Close(); err != nil {
		return fmt.Errorf("encode config: %w", err)
	}
	perm := os.FileMode(0o600)
	if info, statErr := os.Stat(path); statErr == nil {
		perm = info.Mode().Perm()
	}
	if err := store.WriteFileAtomic(path, buf.Bytes(), perm); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	return nil
}

func lookup(mapping *yaml.Node, key string) *yaml.Node {
	for i := 0; i+1 < len(mapping.Content); i += 2 {
		if mapping.Content[i].Value == key {
			return mapping.Content[i+1]
		}
	}
	return nil
}

func findFeed(feeds *yaml.Node, url string) int {
	for i, item := range feeds.Content {
		if entryURL(item) == url {
			return i
		}
	}
	return -1
}

func entryURL(item *yaml.Node) string {
	switch item.Kind {
	case yaml.ScalarNode:
		return item.Value
	case yaml.MappingNode:
		if v := lookup(item, "url"); v != nil {
			return v.Value
		}
	}
	return ""
}

func scalar(value string) *yaml.Node {
	return &yaml.Node{Kind: yaml.ScalarNode, Tag: "!!str", Value: value}
}
