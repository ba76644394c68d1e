package wordgame

import (
	"bufio"
	"bytes"
	"errors"
	"path/filepath"
	"slices"
	"strings"

	"github.com/spf13/afero"
)

const topicFileExt = ".txt"

var (
	ErrNoCatalog = errors.New("unable to load word catalog")
)

// Catalog maps topic names to their words. It is built once at startup
// and never mutated afterwards, so it is safe to share between rooms.
type Catalog struct {
	topics map[string][]string
	names  []string
}

// NewCatalog copies topics, dropping blank and duplicate words and topics
// that end up empty.
func NewCatalog(topics map[string][]string) *Catalog {
	c := &Catalog{topics: make(map[string][]string, len(topics))}
	for name, words := range topics {
		uniq := make([]string, 0, len(words))
		seen := make(map[string]struct{}, len(words))
		for _, w := range words {
			w = strings.TrimSpace(w)
			if w == "" {
				continue
			}
			if _, ok := seen[w]; ok {
				continue
			}
			seen[w] = struct{}{}
			uniq = append(uniq, w)
		}
		if len(uniq) == 0 {
			continue
		}
		c.topics[name] = uniq
		c.names = append(c.names, name)
	}
	slices.Sort(c.names)
	return c
}

// LoadCatalog reads every <topic>.txt file in dir, one word per line.
// Hidden files are skipped and lines starting with '#' are comments.
func LoadCatalog(fs afero.Fs, dir string) (*Catalog, error) {
	entries, err := afero.ReadDir(fs, dir)
	if err != nil {
		return nil, errors.Join(ErrNoCatalog, err)
	}

	topics := make(map[string][]string)
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || strings.HasPrefix(name, ".") || filepath.Ext(name) != topicFileExt {
			continue
		}
		content, err := afero.ReadFile(fs, filepath.Join(dir, name))
		if err != nil {
			return nil, errors.Join(ErrNoCatalog, err)
		}

		var words []string
		sc := bufio.NewScanner(bytes.NewReader(content))
		for sc.Scan() {
			line := sc.Text()
			if strings.HasPrefix(line, "#") {
				continue
			}
			words = append(words, strings.TrimSpace(line))
		}
		if err = sc.Err(); err != nil {
			return nil, errors.Join(ErrNoCatalog, err)
		}
		topics[strings.TrimSuffix(name, topicFileExt)] = words
	}
	return NewCatalog(topics), nil
}

// Topics returns topic names in sorted order.
func (c *Catalog) Topics() []string {
	return slices.Clone(c.names)
}

func (c *Catalog) Words(topic string) ([]string, bool) {
	words, ok := c.topics[topic]
	return words, ok
}
