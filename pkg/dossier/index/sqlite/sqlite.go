package sqlite

import (
	"context"
	"database/sql"

	_ "modernc.org/sqlite"

	"github.com/cognicore/dossier/pkg/dossier/index"
)

// Store implements index.MentionStore using SQLite.
type Store struct {
	db *sql.DB
}

var _ index.MentionStore = (*Store)(nil)

// Open opens a SQLite mention index with WAL mode enabled.
func Open(ctx context.Context, path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}

	// Enable WAL mode for better concurrency
	if _, err := db.ExecContext(ctx, "PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, err
	}

	if err := initSchema(ctx, db); err != nil {
		db.Close()
		return nil, err
	}

	return &Store{db: db}, nil
}

// Close closes the database connection
func (s *Store) Close() error {
	return s.db.Close()
}

// initSchema creates tables if they don't exist
func initSchema(ctx context.Context, db *sql.DB) error {
	schema := `
CREATE TABLE IF NOT EXISTS mentions (
	entity_id TEXT NOT NULL,
	doc_path TEXT NOT NULL,
	mention_count INTEGER NOT NULL,
	PRIMARY KEY(entity_id, doc_path)
);

CREATE INDEX IF NOT EXISTS idx_mentions_entity ON mentions(entity_id);
`

	_, err := db.ExecContext(ctx, schema)
	return err
}

// UpsertMention records or updates one entity/document mention count.
// Used by the corpus indexer that feeds this store.
func (s *Store) UpsertMention(ctx context.Context, entityID, docPath string, count int) error {
	const stmt = `
INSERT INTO mentions (entity_id, doc_path, mention_count)
VALUES (?, ?, ?)
ON CONFLICT(entity_id, doc_path) DO UPDATE SET
	mention_count=excluded.mention_count;
`
	_, err := s.db.ExecContext(ctx, stmt, entityID, docPath, count)
	return err
}

// Mentions returns all (document path, mention count) pairs for an entity.
func (s *Store) Mentions(ctx context.Context, entityID string) ([]index.Mention, error) {
	const stmt = `
SELECT doc_path, mention_count FROM mentions
WHERE entity_id = ?
ORDER BY mention_count DESC, doc_path ASC;
`
	rows, err := s.db.QueryContext(ctx, stmt, entityID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []index.Mention
	for rows.Next() {
		var m index.Mention
		if err := rows.Scan(&m.DocID, &m.Count); err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// EntitiesAbove returns the identifiers of entities whose total mention
// count meets the threshold, in stable ascending order.
func (s *Store) EntitiesAbove(ctx context.Context, minCount int) ([]string, error) {
	const stmt = `
SELECT entity_id FROM mentions
GROUP BY entity_id
HAVING SUM(mention_count) >= ?
ORDER BY entity_id ASC;
`
	rows, err := s.db.QueryContext(ctx, stmt, minCount)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, rows.Err()
}
