// Package bio owns the biography store: the keyed mapping from entity
// identifier to biography record, and the merge engine that attaches
// enrichment output to it. Records are never deleted, only appended to or
// updated; every write re-derives the store's summary metadata and goes
// through the storefile backup-then-replace discipline.
package bio

import (
	"crypto/rand"
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/cognicore/dossier/pkg/dossier/enrich"
	"github.com/cognicore/dossier/pkg/dossier/extract"
	"github.com/cognicore/dossier/pkg/dossier/internalerr"
	"github.com/cognicore/dossier/pkg/dossier/storefile"
)

// Block is one timestamped, model-attributed round of enrichment attached
// to a biography record. Enrichment is cumulative: each run appends a new
// block, prior blocks are never overwritten.
type Block struct {
	ID           string    `json:"id"`
	Statements   []string  `json:"statements"`
	Confidence   float64   `json:"confidence"`
	Model        string    `json:"model"`
	ExtractedAt  time.Time `json:"extracted_at"`
	DocsAnalyzed int       `json:"docs_analyzed"`
}

// EntityRecord is one subject's biography.
type EntityRecord struct {
	ID         string   `json:"id"`
	Name       string   `json:"name"`
	Variants   []string `json:"variants,omitempty"`
	Narrative  []string `json:"narrative,omitempty"`
	Enrichment []Block  `json:"enrichment,omitempty"`
}

type metadata struct {
	RecordCount int       `json:"record_count"`
	BlockCount  int       `json:"block_count"`
	UpdatedAt   time.Time `json:"updated_at"`
}

type document struct {
	Metadata metadata                `json:"metadata"`
	Entities map[string]EntityRecord `json:"entities"`
}

// Store is the biography store bound to one JSON file. All writes are
// serialized internally: the summary-metadata invariant requires
// read-modify-write atomicity against the whole file.
type Store struct {
	path string

	mu      sync.Mutex
	writer  storefile.Writer
	entropy *ulid.MonotonicEntropy
	now     func() time.Time
}

// Open binds a store to path, creating an empty valid store file if none
// exists, and validates the metadata invariant of an existing one.
func Open(path string) (*Store, error) {
	s := &Store{
		path:    path,
		entropy: ulid.Monotonic(rand.Reader, 0),
		now:     time.Now,
	}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		if err := s.save(&document{Entities: map[string]EntityRecord{}}); err != nil {
			return nil, err
		}
		return s, nil
	}
	if _, err := s.load(); err != nil {
		return nil, err
	}
	return s, nil
}

// SetClock injects a deterministic clock for tests.
func (s *Store) SetClock(now func() time.Time) {
	s.now = now
	s.writer.Now = now
}

// SetRename injects a replace-step fault hook for crash-safety tests.
func (s *Store) SetRename(rename func(oldpath, newpath string) error) {
	s.writer.Rename = rename
}

// Path returns the store file location.
func (s *Store) Path() string { return s.path }

// Put inserts or replaces a record. Accumulated enrichment blocks are
// preserved only when the incoming record carries none; a record that
// carries its own blocks replaces the stored history wholesale.
func (s *Store) Put(rec EntityRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, err := s.load()
	if err != nil {
		return err
	}
	if prev, ok := doc.Entities[rec.ID]; ok && len(rec.Enrichment) == 0 {
		rec.Enrichment = prev.Enrichment
	}
	doc.Entities[rec.ID] = rec
	return s.save(doc)
}

// Get returns one biography record.
func (s *Store) Get(entityID string) (EntityRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, err := s.load()
	if err != nil {
		return EntityRecord{}, err
	}
	rec, ok := doc.Entities[entityID]
	if !ok {
		return EntityRecord{}, fmt.Errorf("bio: entity %q: %w", entityID, internalerr.ErrNotFound)
	}
	return rec, nil
}

// Identity returns the entity's identity context for extraction and
// prompting.
func (s *Store) Identity(entityID string) (extract.Identity, error) {
	rec, err := s.Get(entityID)
	if err != nil {
		return extract.Identity{}, err
	}
	return extract.Identity{ID: rec.ID, Name: rec.Name, Variants: rec.Variants}, nil
}

// MergeAndSave attaches one enrichment result to the target record as a
// new additive context block and writes the full store back. The target
// record must already exist. The write re-derives summary metadata so the
// store's declared totals always match its actual contents.
func (s *Store) MergeAndSave(entityID string, res enrich.Result) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, err := s.load()
	if err != nil {
		return err
	}
	rec, ok := doc.Entities[entityID]
	if !ok {
		return fmt.Errorf("bio: merge target %q: %w", entityID, internalerr.ErrNotFound)
	}

	block := Block{
		ID:           ulid.MustNew(ulid.Timestamp(s.now()), s.entropy).String(),
		Statements:   res.Statements,
		Confidence:   res.Confidence,
		Model:        res.Model,
		ExtractedAt:  res.ExtractedAt,
		DocsAnalyzed: res.DocsAnalyzed,
	}
	rec.Enrichment = append(rec.Enrichment, block)
	doc.Entities[entityID] = rec

	return s.save(doc)
}

// Normalize re-derives the summary metadata and rewrites the store only if
// anything changed. Immediately repeated runs are byte-identical no-ops.
func (s *Store) Normalize() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, err := s.load()
	if err != nil {
		return err
	}
	return s.save(doc)
}

func (s *Store) load() (*document, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		return nil, fmt.Errorf("bio: read store: %w", err)
	}
	var doc document
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("bio: parse store %s: %w", s.path, err)
	}
	if doc.Entities == nil {
		doc.Entities = map[string]EntityRecord{}
	}
	if doc.Metadata.RecordCount != len(doc.Entities) {
		return nil, fmt.Errorf("bio: store %s declares %d records but holds %d: %w",
			s.path, doc.Metadata.RecordCount, len(doc.Entities), internalerr.ErrConsistency)
	}
	return &doc, nil
}

// save re-derives metadata, asserts the count invariant on the marshaled
// payload, and persists through the storefile discipline. The timestamp is
// only advanced when record content actually changed, so a no-op save
// leaves the file byte-identical.
func (s *Store) save(doc *document) error {
	doc.Metadata.RecordCount = len(doc.Entities)
	doc.Metadata.BlockCount = 0
	for _, rec := range doc.Entities {
		doc.Metadata.BlockCount += len(rec.Enrichment)
	}

	unchanged, err := s.contentUnchanged(doc)
	if err != nil {
		return err
	}
	if unchanged {
		return nil
	}
	doc.Metadata.UpdatedAt = s.now().UTC()

	data, err := marshal(doc)
	if err != nil {
		return err
	}
	if err := verify(data, doc.Metadata.RecordCount); err != nil {
		return err
	}
	return s.writer.Write(s.path, data)
}

// contentUnchanged reports whether doc, serialized with the previously
// persisted timestamp, matches the file on disk exactly.
func (s *Store) contentUnchanged(doc *document) (bool, error) {
	current, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, fmt.Errorf("bio: read store: %w", err)
	}
	data, err := marshal(doc)
	if err != nil {
		return false, err
	}
	return string(data) == string(current), nil
}

func marshal(doc *document) ([]byte, error) {
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("bio: marshal store: %w", err)
	}
	return append(data, '\n'), nil
}

// verify re-reads the marshaled payload and asserts that the declared
// record count matches the actual number of records about to be written.
// A mismatch aborts the write; the backup is the recovery path.
func verify(data []byte, declared int) error {
	var check document
	if err := json.Unmarshal(data, &check); err != nil {
		return fmt.Errorf("bio: verify payload: %v: %w", err, internalerr.ErrConsistency)
	}
	if len(check.Entities) != declared || check.Metadata.RecordCount != declared {
		return fmt.Errorf("bio: payload declares %d records but holds %d: %w",
			check.Metadata.RecordCount, len(check.Entities), internalerr.ErrConsistency)
	}
	return nil
}
