package render

import (
	"fmt"
	"os"
	"sync"
)

// DefaultTemplate is the name that selects a built-in template.
const DefaultTemplate = "default"

// FileCache reads template files once per owner.
type FileCache struct {
	mu    sync.Mutex
	files map[string]string
}

// NewFileCache returns an empty cache.
func NewFileCache() *FileCache {
	return &FileCache{files: map[string]string{}}
}

// Load returns the contents of path, reading it on first use.
func (c *FileCache) Load(path string) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if s, ok := c.files[path]; ok {
		return s, nil
	}
	// #nosec G304 -- template paths come from the operator's configuration.
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("read template: %w", err)
	}
	c.files[path] = string(data)
	return c.files[path], nil
}

func defaultPageTemplate(useRefresh, showFeeds bool) string {
	t := `<!DOCTYPE html>
<html lang="en">
<head>
    <meta http-equiv="Content-Type" content="text/html; charset=UTF-8">
    <meta name="robots" content="noindex,nofollow,noarchive">
`
	if useRefresh {
		t += "__refresh__\n"
	}
	t += `    <link rel="stylesheet" href="style.css" type="text/css">
    <title>feedroll</title>
</head>
<body id="feedroll">
<div id="header">
<h1>feedroll</h1>
</div>
<div id="items">
__items__
</div>
`
	if showFeeds {
		t += `<h2 id="feedstatsheader">Feeds</h2>
<div id="feedstats">
__feeds__
</div>
`
	}
	t += `<div id="footer">
<p id="aboutfeedroll">Generated by feedroll version __version__.</p>
</div>
</body>
</html>
`
	return t
}

const defaultItemTemplate = `<div class="item feed-__feed_hash__ feed-__feed_id__" id="item-__hash__">
<p class="itemheader">
<span class="itemtitle">__title__</span>
<span class="itemfrom">[__feed_title__]</span>
</p>
__if_description__<div class="itemdescription">
__description__
</div>__endif__
</div>

`
