// Package storage persists the document registry and conversation history
// in SQLite. The knowledge_vectors table created here is operated on by
// the retrieval package over the same connection.
package storage

import (
	"database/sql"
	"embed"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Store wraps a SQLite database with methods for the document registry and
// conversation turns.
type Store struct {
	db *sql.DB
}

// Open opens (or creates) a SQLite database in dataDir and runs pending
// migrations. Pass ":memory:" as dataDir for an in-memory database (used
// by tests).
func Open(dataDir string) (*Store, error) {
	var dsn string
	if dataDir == ":memory:" {
		dsn = ":memory:"
	} else {
		if err := os.MkdirAll(dataDir, 0o755); err != nil {
			return nil, fmt.Errorf("creating data directory: %w", err)
		}
		dsn = filepath.Join(dataDir, "fingenie.db")
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}

	// Limit to single connection to avoid "database is locked" errors.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting busy timeout: %w", err)
	}

	// WAL mode for better concurrent read performance.
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting journal mode: %w", err)
	}

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	return s, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// DB exposes the underlying connection so the retrieval package can share
// it for the knowledge_vectors table.
func (s *Store) DB() *sql.DB {
	return s.db
}

// migrate applies embedded SQL migration files that have not been run yet.
func (s *Store) migrate() error {
	if _, err := s.db.Exec(`CREATE TABLE IF NOT EXISTS schema_version (
		version INTEGER PRIMARY KEY,
		applied_at DATETIME DEFAULT CURRENT_TIMESTAMP
	)`); err != nil {
		return fmt.Errorf("creating schema_version table: %w", err)
	}

	entries, err := migrationsFS.ReadDir("migrations")
	if err != nil {
		return fmt.Errorf("reading migrations directory: %w", err)
	}

	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Name() < entries[j].Name()
	})

	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".sql") {
			continue
		}

		version, err := parseMigrationVersion(entry.Name())
		if err != nil {
			return err
		}

		var exists int
		if err := s.db.QueryRow("SELECT COUNT(*) FROM schema_version WHERE version = ?", version).Scan(&exists); err != nil {
			return fmt.Errorf("checking migration %d: %w", version, err)
		}
		if exists > 0 {
			continue
		}

		content, err := migrationsFS.ReadFile("migrations/" + entry.Name())
		if err != nil {
			return fmt.Errorf("reading migration %s: %w", entry.Name(), err)
		}

		tx, err := s.db.Begin()
		if err != nil {
			return fmt.Errorf("beginning transaction for migration %d: %w", version, err)
		}
		if _, err := tx.Exec(string(content)); err != nil {
			tx.Rollback()
			return fmt.Errorf("applying migration %d: %w", version, err)
		}
		if _, err := tx.Exec("INSERT INTO schema_version (version) VALUES (?)", version); err != nil {
			tx.Rollback()
			return fmt.Errorf("recording migration %d: %w", version, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("committing migration %d: %w", version, err)
		}
	}

	return nil
}

// parseMigrationVersion extracts the numeric prefix from a migration
// filename like "001_init.sql".
func parseMigrationVersion(name string) (int, error) {
	idx := strings.Index(name, "_")
	if idx <= 0 {
		return 0, fmt.Errorf("migration %q has no numeric prefix", name)
	}
	version, err := strconv.Atoi(name[:idx])
	if err != nil {
		return 0, fmt.Errorf("migration %q has invalid version: %w", name, err)
	}
	return version, nil
}

// SaveDocument records an ingested file in the registry, replacing any
// prior row under the same ID so re-ingestion supersedes rather than
// duplicates.
func (s *Store) SaveDocument(doc Document) error {
	processedAt := doc.ProcessedAt
	if processedAt.IsZero() {
		processedAt = time.Now().UTC()
	}
	_, err := s.db.Exec(`
		INSERT OR REPLACE INTO documents
			(id, source_path, category, size_bytes, mime_type, chunk_count, truncated, processed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		doc.ID, doc.SourcePath, doc.Category, doc.SizeBytes, doc.MimeType,
		doc.ChunkCount, boolToInt(doc.Truncated), processedAt.Format(time.RFC3339))
	if err != nil {
		return fmt.Errorf("saving document %s: %w", doc.ID, err)
	}
	return nil
}

// GetDocumentBySource returns the registry row for a source path.
func (s *Store) GetDocumentBySource(sourcePath string) (Document, error) {
	row := s.db.QueryRow(`
		SELECT id, source_path, category, size_bytes, mime_type, chunk_count, truncated, processed_at
		FROM documents WHERE source_path = ?`, sourcePath)
	return scanDocument(row)
}

// DocumentCounts returns the number of registered documents per category.
func (s *Store) DocumentCounts() (map[string]int, error) {
	rows, err := s.db.Query(`SELECT category, COUNT(*) FROM documents GROUP BY category`)
	if err != nil {
		return nil, fmt.Errorf("counting documents: %w", err)
	}
	defer rows.Close()

	counts := make(map[string]int)
	for rows.Next() {
		var category string
		var n int
		if err := rows.Scan(&category, &n); err != nil {
			return nil, fmt.Errorf("scanning count row: %w", err)
		}
		counts[category] = n
	}
	return counts, rows.Err()
}

// ListDocuments returns registry rows ordered by processing time, newest
// first.
func (s *Store) ListDocuments(limit int) ([]Document, error) {
	rows, err := s.db.Query(`
		SELECT id, source_path, category, size_bytes, mime_type, chunk_count, truncated, processed_at
		FROM documents ORDER BY processed_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("listing documents: %w", err)
	}
	defer rows.Close()

	var docs []Document
	for rows.Next() {
		doc, err := scanDocument(rows)
		if err != nil {
			return nil, err
		}
		docs = append(docs, doc)
	}
	return docs, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanDocument(row rowScanner) (Document, error) {
	var doc Document
	var truncated int
	var processedAt string
	err := row.Scan(&doc.ID, &doc.SourcePath, &doc.Category, &doc.SizeBytes,
		&doc.MimeType, &doc.ChunkCount, &truncated, &processedAt)
	if err == sql.ErrNoRows {
		return Document{}, ErrNotFound
	}
	if err != nil {
		return Document{}, fmt.Errorf("scanning document: %w", err)
	}
	doc.Truncated = truncated != 0
	t, err := time.Parse(time.RFC3339, processedAt)
	if err != nil {
		return Document{}, fmt.Errorf("parsing processed_at for %s: %w", doc.ID, err)
	}
	doc.ProcessedAt = t
	return doc, nil
}

// AppendTurn appends a conversation turn for the given user.
func (s *Store) AppendTurn(userID string, turn Turn) error {
	ts := turn.Timestamp
	if ts.IsZero() {
		ts = time.Now().UTC()
	}
	_, err := s.db.Exec(`
		INSERT INTO conversation_turns (user_id, sender, text, created_at)
		VALUES (?, ?, ?, ?)`,
		userID, turn.Sender, turn.Text, ts.Format(time.RFC3339))
	if err != nil {
		return fmt.Errorf("appending turn for %s: %w", userID, err)
	}
	return nil
}

// RecentTurns returns the most recent n turns for the user in
// chronological order. The engine never reads the full history; the
// bounded window keeps prompt size in check.
func (s *Store) RecentTurns(userID string, n int) ([]Turn, error) {
	rows, err := s.db.Query(`
		SELECT sender, text, created_at FROM conversation_turns
		WHERE user_id = ? ORDER BY id DESC LIMIT ?`, userID, n)
	if err != nil {
		return nil, fmt.Errorf("loading turns for %s: %w", userID, err)
	}
	defer rows.Close()

	var turns []Turn
	for rows.Next() {
		var turn Turn
		var createdAt string
		if err := rows.Scan(&turn.Sender, &turn.Text, &createdAt); err != nil {
			return nil, fmt.Errorf("scanning turn: %w", err)
		}
		t, err := time.Parse(time.RFC3339, createdAt)
		if err != nil {
			return nil, fmt.Errorf("parsing created_at: %w", err)
		}
		turn.Timestamp = t
		turns = append(turns, turn)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	// Reverse into chronological order.
	for i, j := 0, len(turns)-1; i < j; i, j = i+1, j-1 {
		turns[i], turns[j] = turns[j], turns[i]
	}
	return turns, nil
}

// ClearConversation removes all turns for the given user.
func (s *Store) ClearConversation(userID string) error {
	_, err := s.db.Exec(`DELETE FROM conversation_turns WHERE user_id = ?`, userID)
	if err != nil {
		return fmt.Errorf("clearing conversation for %s: %w", userID, err)
	}
	return nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
