// Package news maintains the separately indexed news-article store. It is
// peripheral to the enrichment pipeline but shares its merge discipline:
// metadata totals must match the payload, and every write is backed up and
// atomically replaced.
package news

import (
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/cognicore/dossier/pkg/dossier/internalerr"
	"github.com/cognicore/dossier/pkg/dossier/storefile"
)

// Article is one indexed news article. Articles with the same
// (title, URL, date) tuple are duplicates.
type Article struct {
	Title       string    `json:"title"`
	URL         string    `json:"url"`
	Source      string    `json:"source"`
	PublishedAt time.Time `json:"published_at"`
	EntityIDs   []string  `json:"entity_ids,omitempty"`
}

// Key returns the article's uniqueness key.
func (a Article) Key() string {
	return a.Title + "|" + a.URL + "|" + a.PublishedAt.Format("2006-01-02")
}

type metadata struct {
	RecordCount int       `json:"record_count"`
	UpdatedAt   time.Time `json:"updated_at"`
}

type document struct {
	Metadata metadata  `json:"metadata"`
	Articles []Article `json:"articles"`
}

// DedupResult summarizes one deduplication run.
type DedupResult struct {
	Scanned int `json:"scanned"`
	Removed int `json:"removed"`
	Kept    int `json:"kept"`
}

// Store is the news-article store bound to one JSON file.
type Store struct {
	path string

	mu     sync.Mutex
	writer storefile.Writer
	now    func() time.Time
}

// Open binds a store to path, creating an empty valid file if none exists.
func Open(path string) (*Store, error) {
	s := &Store{path: path, now: time.Now}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		if err := s.save(&document{Articles: []Article{}}); err != nil {
			return nil, err
		}
		return s, nil
	}
	if _, err := s.load(); err != nil {
		return nil, err
	}
	return s, nil
}

// Repair rebuilds a store whose declared record count no longer matches
// its payload. Open refuses such a file, so this is the operator path
// when no backup is usable: the articles are kept as-is and the summary
// metadata is re-derived from them, through the usual backup-then-replace
// write. Returns the repaired store ready for use.
func Repair(path string) (*Store, error) {
	s := &Store{path: path, now: time.Now}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("news: read store: %w", err)
	}
	var doc document
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("news: parse store %s: %w", path, err)
	}
	if doc.Articles == nil {
		doc.Articles = []Article{}
	}
	if err := s.save(&doc); err != nil {
		return nil, err
	}
	return s, nil
}

// SetClock injects a deterministic clock for tests.
func (s *Store) SetClock(now func() time.Time) {
	s.now = now
	s.writer.Now = now
}

// Path returns the store file location.
func (s *Store) Path() string { return s.path }

// Add appends articles to the store. Duplicates are accepted here; the
// dedup maintenance pass is responsible for removing them.
func (s *Store) Add(articles ...Article) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, err := s.load()
	if err != nil {
		return err
	}
	doc.Articles = append(doc.Articles, articles...)
	return s.save(doc)
}

// All returns every stored article in order.
func (s *Store) All() ([]Article, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, err := s.load()
	if err != nil {
		return nil, err
	}
	return doc.Articles, nil
}

// Dedup removes all but the first article per uniqueness key and
// re-normalizes the summary metadata. Running it again immediately is a
// byte-identical no-op.
func (s *Store) Dedup() (DedupResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, err := s.load()
	if err != nil {
		return DedupResult{}, err
	}

	res := DedupResult{Scanned: len(doc.Articles)}
	seen := make(map[string]struct{}, len(doc.Articles))
	kept := doc.Articles[:0:0]
	for _, a := range doc.Articles {
		key := a.Key()
		if _, dup := seen[key]; dup {
			res.Removed++
			continue
		}
		seen[key] = struct{}{}
		kept = append(kept, a)
	}
	res.Kept = len(kept)
	doc.Articles = kept

	if err := s.save(doc); err != nil {
		return DedupResult{}, err
	}
	return res, nil
}

func (s *Store) load() (*document, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		return nil, fmt.Errorf("news: read store: %w", err)
	}
	var doc document
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("news: parse store %s: %w", s.path, err)
	}
	if doc.Articles == nil {
		doc.Articles = []Article{}
	}
	if doc.Metadata.RecordCount != len(doc.Articles) {
		return nil, fmt.Errorf("news: store %s declares %d records but holds %d: %w",
			s.path, doc.Metadata.RecordCount, len(doc.Articles), internalerr.ErrConsistency)
	}
	return &doc, nil
}

func (s *Store) save(doc *document) error {
	doc.Metadata.RecordCount = len(doc.Articles)

	unchanged, err := s.contentUnchanged(doc)
	if err != nil {
		return err
	}
	if unchanged {
		return nil
	}
	doc.Metadata.UpdatedAt = s.now().UTC()

	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("news: marshal store: %w", err)
	}
	data = append(data, '\n')
	return s.writer.Write(s.path, data)
}

func (s *Store) contentUnchanged(doc *document) (bool, error) {
	current, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, fmt.Errorf("news: read store: %w", err)
	}
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return false, fmt.Errorf("news: marshal store: %w", err)
	}
	return string(append(data, '\n')) == string(current), nil
}
