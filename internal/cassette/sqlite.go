package cassette

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/roach88/playback/internal/recording"
)

//go:embed schema.sql
var schemaSQL string

// Schema version tracking:
// 0 - Initial schema (pre-migration)
// 1 - Added index on recording_files.modified_at for listings
const currentSchemaVersion = 1

// SQLiteCassette stores recording files as rows of a single SQLite table,
// keyed by the same storage path the other backends use.
//
// The database is configured with:
//   - WAL mode for concurrent reads during writes
//   - NORMAL synchronous mode
//   - 5-second busy timeout for lock contention
type SQLiteCassette struct {
	base

	db  *sql.DB
	now func() time.Time
}

// NewSQLiteCassette creates or opens the database at path.
// Applies required pragmas and migrations automatically.
func NewSQLiteCassette(method, path string) (*SQLiteCassette, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	// SQLite only supports one writer at a time.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := applyPragmas(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply pragmas: %w", err)
	}
	if err := applySchema(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply schema: %w", err)
	}

	c := &SQLiteCassette{db: db, now: time.Now}
	c.init(method, KindSQLite, "sqlite")
	return c, nil
}

func applyPragmas(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 5000",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			return fmt.Errorf("failed to execute %q: %w", pragma, err)
		}
	}
	return nil
}

func applySchema(db *sql.DB) error {
	if _, err := db.Exec(schemaSQL); err != nil {
		return fmt.Errorf("failed to execute schema: %w", err)
	}
	if err := runMigrations(db); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}
	return nil
}

// runMigrations applies incremental schema migrations based on user_version.
func runMigrations(db *sql.DB) error {
	var version int
	if err := db.QueryRow("PRAGMA user_version").Scan(&version); err != nil {
		return fmt.Errorf("get user_version: %w", err)
	}

	if version < 1 {
		_, err := db.Exec(`
			CREATE INDEX IF NOT EXISTS idx_recording_files_modified
			ON recording_files(modified_at)
		`)
		if err != nil {
			return fmt.Errorf("migrate to v1: %w", err)
		}
	}

	if _, err := db.Exec(fmt.Sprintf("PRAGMA user_version = %d", currentSchemaVersion)); err != nil {
		return fmt.Errorf("set user_version: %w", err)
	}
	return nil
}

// SaveRecording upserts the data and metadata rows in one transaction.
func (c *SQLiteCassette) SaveRecording(ctx context.Context, id string, rec *recording.Recording) error {
	data, md := rec.Snapshot()

	dataPath := c.dataPath(id)
	dataBody, err := encodeData(data)
	if err != nil {
		return writeFailed(dataPath, err)
	}
	metaPath := c.metaPath(id)
	metaBody, err := encodeMetadata(md)
	if err != nil {
		return writeFailed(metaPath, err)
	}

	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return writeFailed(dataPath, err)
	}
	defer func() { _ = tx.Rollback() }()

	modified := c.now().UnixNano()
	const upsert = `
		INSERT INTO recording_files (path, body, size, modified_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(path) DO UPDATE SET
			body = excluded.body,
			size = excluded.size,
			modified_at = excluded.modified_at
	`
	if _, err := tx.ExecContext(ctx, upsert, dataPath, dataBody, len(dataBody), modified); err != nil {
		return writeFailed(dataPath, err)
	}
	if _, err := tx.ExecContext(ctx, upsert, metaPath, metaBody, len(metaBody), modified); err != nil {
		return writeFailed(metaPath, err)
	}
	if err := tx.Commit(); err != nil {
		return writeFailed(dataPath, err)
	}

	c.rememberSaved(id)
	return nil
}

func (c *SQLiteCassette) readFile(ctx context.Context, path string) ([]byte, error) {
	var body []byte
	err := c.db.QueryRowContext(ctx,
		"SELECT body FROM recording_files WHERE path = ?", path,
	).Scan(&body)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, notFound(path, err)
	}
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	return body, nil
}

// GetRecordingByKey reads and decodes the data row.
func (c *SQLiteCassette) GetRecordingByKey(ctx context.Context, id string) (recording.Data, error) {
	path := c.dataPath(id)
	b, err := c.readFile(ctx, path)
	if err != nil {
		return recording.Data{}, err
	}
	d, err := decodeData(b)
	if err != nil {
		return recording.Data{}, fmt.Errorf("decode %s: %w", path, err)
	}
	return d, nil
}

// GetMetaData reads and decodes the metadata row.
func (c *SQLiteCassette) GetMetaData(ctx context.Context, id string) (recording.Metadata, error) {
	path := c.metaPath(id)
	b, err := c.readFile(ctx, path)
	if err != nil {
		return nil, err
	}
	md, err := recording.DecodeMetadata(b)
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", path, err)
	}
	return md, nil
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

// ListObjects lists rows under dir ordered by modification time, then
// insertion order.
func (c *SQLiteCassette) ListObjects(ctx context.Context, filter Filter, dir string) ([]Object, error) {
	dir = c.listDir(dir)
	pattern := likeEscaper.Replace(dir) + "/%"

	rows, err := c.db.QueryContext(ctx, `
		SELECT path, size, modified_at FROM recording_files
		WHERE path LIKE ? ESCAPE '\'
		ORDER BY modified_at ASC, rowid ASC
	`, pattern)
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", dir, err)
	}
	defer rows.Close()

	var objs []Object
	for rows.Next() {
		var (
			o        Object
			modified int64
		)
		if err := rows.Scan(&o.Key, &o.Size, &modified); err != nil {
			return nil, fmt.Errorf("list %s: %w", dir, err)
		}
		o.LastModified = time.Unix(0, modified)
		objs = append(objs, o)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list %s: %w", dir, err)
	}
	return keepObjects(objs, filter), nil
}

// GetAllRecordingIDs lists every id under dir.
func (c *SQLiteCassette) GetAllRecordingIDs(ctx context.Context, dir string) ([]string, error) {
	return c.GetRecordingsByFilter(ctx, nil, dir)
}

// GetRecordingsByFilter lists ids of rows accepted by filter.
func (c *SQLiteCassette) GetRecordingsByFilter(ctx context.Context, filter Filter, dir string) ([]string, error) {
	objs, err := c.ListObjects(ctx, filter, dir)
	if err != nil {
		return nil, err
	}
	return objectIDs(objs), nil
}

// Close closes the database connection.
func (c *SQLiteCassette) Close() error {
	if c.db == nil {
		return nil
	}
	return c.db.Close()
}
