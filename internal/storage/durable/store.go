// Package durable provides the embedded SQLite-backed storage adapter.
//
// This is the always-available side of the hybrid persistence pair: the
// source of truth while no external directory is connected. The store runs
// in embedded mode (ncruces/go-sqlite3) with WAL for concurrent reads, and
// namespaces every path under a project identifier so multiple projects can
// share one physical database without collision.
//
// Beyond the storage.Adapter contract the store owns the sync bookkeeping:
// a file is dirty when it has never been synced or was modified after its
// last sync, and the externally-modified flag records that the external copy
// may have diverged. Both flags being set at once is exactly the conflict
// condition the conflict engine looks for.
package durable

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"

	"github.com/nvoss/trellis/internal/storage"
)

// Store is the durable adapter for one project namespace.
type Store struct {
	conn    *sql.DB
	path    string
	project string
	hub     *storage.WatchHub
}

// Project describes one row of the project registry.
type Project struct {
	ID           string
	Name         string
	RootPath     string
	LastAccessed time.Time
	HandleRef    string
}

// FileRecord is the full bookkeeping row for one stored file.
type FileRecord struct {
	Path               string
	Content            string
	LastModified       time.Time
	LastSyncedAt       *time.Time
	ExternallyModified bool
}

// Dirty reports whether the record satisfies the dirty invariant:
// never synced, or modified after the last sync.
func (r *FileRecord) Dirty() bool {
	return r.LastSyncedAt == nil || r.LastModified.After(*r.LastSyncedAt)
}

// Open creates a store at path scoped to the given project identifier.
//
// The database is opened in embedded mode with WAL for concurrent reads and
// created along with its schema when missing. The caller MUST call Close()
// when done.
func Open(path, project string) (*Store, error) {
	if project == "" {
		return nil, fmt.Errorf("project identifier cannot be empty")
	}

	// Ensure parent directory exists
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	conn, err := sql.Open("sqlite3", fmt.Sprintf("file:%s", path))
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := conn.Ping(); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	conn.SetMaxOpenConns(25)
	conn.SetMaxIdleConns(5)
	conn.SetConnMaxLifetime(5 * time.Minute)

	s := &Store{
		conn:    conn,
		path:    path,
		project: project,
		hub:     storage.NewWatchHub(),
	}

	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA foreign_keys=ON",
	} {
		if _, err := s.conn.Exec(pragma); err != nil {
			_ = s.Close()
			return nil, fmt.Errorf("failed to apply %q: %w", pragma, err)
		}
	}

	if err := s.initSchema(context.Background()); err != nil {
		_ = s.Close()
		return nil, err
	}

	return s, nil
}

// Close checkpoints the WAL, cancels watch subscriptions, and closes the
// connection.
func (s *Store) Close() error {
	if s.conn == nil {
		return nil
	}

	s.hub.Close()

	if _, err := s.conn.Exec("PRAGMA wal_checkpoint(TRUNCATE)"); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: failed to checkpoint WAL: %v\n", err)
	}

	if err := s.conn.Close(); err != nil {
		return fmt.Errorf("failed to close database: %w", err)
	}
	s.conn = nil
	return nil
}

// initSchema creates the tables and indexes. Idempotent.
func (s *Store) initSchema(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS files (
		project TEXT NOT NULL,
		path TEXT NOT NULL,
		content TEXT NOT NULL,
		last_modified INTEGER NOT NULL,      -- unix nanoseconds
		last_synced_at INTEGER,              -- NULL until first sync
		externally_modified INTEGER NOT NULL DEFAULT 0,
		PRIMARY KEY (project, path)
	);

	CREATE TABLE IF NOT EXISTS directories (
		project TEXT NOT NULL,
		path TEXT NOT NULL,
		created_at INTEGER NOT NULL,
		PRIMARY KEY (project, path)
	);

	CREATE TABLE IF NOT EXISTS projects (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		root_path TEXT NOT NULL,
		last_accessed INTEGER NOT NULL,
		handle_ref TEXT
	);

	CREATE INDEX IF NOT EXISTS idx_files_dirty
	    ON files(project, last_synced_at, last_modified);
	CREATE INDEX IF NOT EXISTS idx_files_ext_mod
	    ON files(project, externally_modified);
	`

	if _, err := s.conn.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to initialize schema: %w", err)
	}
	return nil
}

// Root implements storage.Adapter.
func (s *Store) Root() string { return "/" }

// ProjectID returns the namespace this store operates in.
func (s *Store) ProjectID() string { return s.project }

// ReadFile implements storage.Adapter.
func (s *Store) ReadFile(ctx context.Context, path string) (string, error) {
	p := storage.NormalizePath(path)
	var content string
	err := s.conn.QueryRowContext(ctx,
		`SELECT content FROM files WHERE project = ? AND path = ?`,
		s.project, p,
	).Scan(&content)
	if errors.Is(err, sql.ErrNoRows) {
		return "", storage.NewPathError("read", p, storage.ErrFileNotFound)
	}
	if err != nil {
		return "", fmt.Errorf("failed to read %s: %w", p, err)
	}
	return content, nil
}

// WriteFile implements storage.Adapter. Any write marks the file dirty by
// resetting last_synced_at; only MarkSynced clears it.
func (s *Store) WriteFile(ctx context.Context, path, content string) error {
	p := storage.NormalizePath(path)
	if p == "/" {
		return storage.NewPathError("write", p, storage.ErrInvalidOperation)
	}

	now := time.Now()

	tx, err := s.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if dir, err := s.hasDirectory(ctx, tx, p); err != nil {
		return err
	} else if dir {
		return storage.NewPathError("write", p, storage.ErrPathExists)
	}

	if err := s.ensureDirPath(ctx, tx, storage.ParentPath(p), now); err != nil {
		return err
	}

	var existed int
	if err := tx.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM files WHERE project = ? AND path = ?`,
		s.project, p,
	).Scan(&existed); err != nil {
		return fmt.Errorf("failed to check %s: %w", p, err)
	}

	// The externally-modified flag is orthogonal to dirtiness and is left
	// untouched by local writes.
	_, err = tx.ExecContext(ctx, `
		INSERT INTO files (project, path, content, last_modified, last_synced_at, externally_modified)
		VALUES (?, ?, ?, ?, NULL, 0)
		ON CONFLICT(project, path) DO UPDATE SET
			content = excluded.content,
			last_modified = excluded.last_modified,
			last_synced_at = NULL`,
		s.project, p, content, now.UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("failed to write %s: %w", p, err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit write: %w", err)
	}

	op := storage.OpModify
	if existed == 0 {
		op = storage.OpCreate
	}
	s.hub.Publish(storage.Event{Path: p, Op: op, At: now})
	return nil
}

// hasDirectory reports whether a directory row occupies path.
func (s *Store) hasDirectory(ctx context.Context, tx *sql.Tx, path string) (bool, error) {
	var n int
	err := tx.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM directories WHERE project = ? AND path = ?`,
		s.project, path,
	).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("failed to check directory %s: %w", path, err)
	}
	return n > 0, nil
}

// ensureDirPath inserts directory rows for path and every ancestor,
// enforcing that none of them is occupied by a file.
func (s *Store) ensureDirPath(ctx context.Context, tx *sql.Tx, path string, at time.Time) error {
	p := storage.NormalizePath(path)
	if p == "/" {
		return nil
	}
	dirs := append(storage.AncestorPaths(p), p)
	for _, dir := range dirs {
		if dir == "/" {
			continue
		}
		var n int
		if err := tx.QueryRowContext(ctx,
			`SELECT COUNT(*) FROM files WHERE project = ? AND path = ?`,
			s.project, dir,
		).Scan(&n); err != nil {
			return fmt.Errorf("failed to check ancestor %s: %w", dir, err)
		}
		if n > 0 {
			return storage.NewPathError("mkdir", dir, storage.ErrPathExists)
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO directories (project, path, created_at) VALUES (?, ?, ?)
			 ON CONFLICT(project, path) DO NOTHING`,
			s.project, dir, at.UnixNano(),
		); err != nil {
			return fmt.Errorf("failed to create ancestor %s: %w", dir, err)
		}
	}
	return nil
}

// ListDirectory implements storage.Adapter.
func (s *Store) ListDirectory(ctx context.Context, path string, opts storage.ListOptions) ([]storage.Entry, error) {
	p := storage.NormalizePath(path)

	if p != "/" {
		var n int
		if err := s.conn.QueryRowContext(ctx,
			`SELECT COUNT(*) FROM directories WHERE project = ? AND path = ?`,
			s.project, p,
		).Scan(&n); err != nil {
			return nil, fmt.Errorf("failed to check directory %s: %w", p, err)
		}
		if n == 0 {
			return nil, storage.NewPathError("list", p, storage.ErrDirectoryNotFound)
		}
	}

	prefix := p
	if prefix == "/" {
		prefix = ""
	}

	var entries []storage.Entry

	rows, err := s.conn.QueryContext(ctx,
		`SELECT path, created_at FROM directories
		 WHERE project = ? AND path LIKE ? ORDER BY path ASC`,
		s.project, prefix+"/%",
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list directories under %s: %w", p, err)
	}
	defer rows.Close()
	for rows.Next() {
		var dirPath string
		var createdAt int64
		if err := rows.Scan(&dirPath, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan directory: %w", err)
		}
		if !opts.Recursive && !isDirectChild(p, dirPath) {
			continue
		}
		entries = append(entries, storage.Entry{
			Path:    dirPath,
			Name:    storage.BaseName(dirPath),
			IsDir:   true,
			ModTime: time.Unix(0, createdAt),
		})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating directories: %w", err)
	}

	fileRows, err := s.conn.QueryContext(ctx,
		`SELECT path, LENGTH(content), last_modified FROM files
		 WHERE project = ? AND path LIKE ? ORDER BY path ASC`,
		s.project, prefix+"/%",
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list files under %s: %w", p, err)
	}
	defer fileRows.Close()
	for fileRows.Next() {
		var filePath string
		var size, modified int64
		if err := fileRows.Scan(&filePath, &size, &modified); err != nil {
			return nil, fmt.Errorf("failed to scan file: %w", err)
		}
		if !opts.Recursive && !isDirectChild(p, filePath) {
			continue
		}
		if opts.Extension != "" && !strings.HasSuffix(filePath, opts.Extension) {
			continue
		}
		entries = append(entries, storage.Entry{
			Path:    filePath,
			Name:    storage.BaseName(filePath),
			Size:    size,
			ModTime: time.Unix(0, modified),
		})
	}
	if err := fileRows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating files: %w", err)
	}

	return entries, nil
}

// isDirectChild reports whether child sits immediately under dir.
func isDirectChild(dir, child string) bool {
	return storage.ParentPath(child) == storage.NormalizePath(dir)
}

// Exists implements storage.Adapter.
func (s *Store) Exists(ctx context.Context, path string) (bool, error) {
	p := storage.NormalizePath(path)
	if p == "/" {
		return true, nil
	}
	var n int
	err := s.conn.QueryRowContext(ctx, `
		SELECT (SELECT COUNT(*) FROM files WHERE project = ? AND path = ?)
		     + (SELECT COUNT(*) FROM directories WHERE project = ? AND path = ?)`,
		s.project, p, s.project, p,
	).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("failed to check %s: %w", p, err)
	}
	return n > 0, nil
}

// Stat implements the optional storage.Stat extension.
func (s *Store) Stat(ctx context.Context, path string) (*storage.Entry, error) {
	p := storage.NormalizePath(path)
	if p == "/" {
		return &storage.Entry{Path: "/", Name: "/", IsDir: true}, nil
	}

	var size, modified int64
	err := s.conn.QueryRowContext(ctx,
		`SELECT LENGTH(content), last_modified FROM files WHERE project = ? AND path = ?`,
		s.project, p,
	).Scan(&size, &modified)
	if err == nil {
		return &storage.Entry{Path: p, Name: storage.BaseName(p), Size: size, ModTime: time.Unix(0, modified)}, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("failed to stat %s: %w", p, err)
	}

	var createdAt int64
	err = s.conn.QueryRowContext(ctx,
		`SELECT created_at FROM directories WHERE project = ? AND path = ?`,
		s.project, p,
	).Scan(&createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storage.NewPathError("stat", p, storage.ErrFileNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to stat %s: %w", p, err)
	}
	return &storage.Entry{Path: p, Name: storage.BaseName(p), IsDir: true, ModTime: time.Unix(0, createdAt)}, nil
}

// Mkdir implements storage.Adapter. Creating an existing directory is a
// no-op.
func (s *Store) Mkdir(ctx context.Context, path string) error {
	p := storage.NormalizePath(path)
	if p == "/" {
		return nil
	}

	now := time.Now()

	tx, err := s.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var fileCount int
	if err := tx.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM files WHERE project = ? AND path = ?`,
		s.project, p,
	).Scan(&fileCount); err != nil {
		return fmt.Errorf("failed to check %s: %w", p, err)
	}
	if fileCount > 0 {
		return storage.NewPathError("mkdir", p, storage.ErrPathExists)
	}

	existed, err := s.hasDirectory(ctx, tx, p)
	if err != nil {
		return err
	}

	if err := s.ensureDirPath(ctx, tx, p, now); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit mkdir: %w", err)
	}

	if !existed {
		s.hub.Publish(storage.Event{Path: p, Op: storage.OpCreate, At: now})
	}
	return nil
}

// Delete implements storage.Adapter.
//
// Recursive directory deletion is atomic: every descendant file and
// directory row is enumerated first, then removed together with the target
// in one transaction, so a mid-delete failure cannot leave a partially
// removed subtree observable.
func (s *Store) Delete(ctx context.Context, path string, recursive bool) error {
	p := storage.NormalizePath(path)
	if p == "/" {
		return storage.NewPathError("delete", p, storage.ErrInvalidOperation)
	}

	tx, err := s.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var isFile, isDir int
	if err := tx.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM files WHERE project = ? AND path = ?`,
		s.project, p,
	).Scan(&isFile); err != nil {
		return fmt.Errorf("failed to check %s: %w", p, err)
	}
	if err := tx.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM directories WHERE project = ? AND path = ?`,
		s.project, p,
	).Scan(&isDir); err != nil {
		return fmt.Errorf("failed to check %s: %w", p, err)
	}

	deleted := []storage.Event{}
	now := time.Now()

	switch {
	case isFile > 0:
		if _, err := tx.ExecContext(ctx,
			`DELETE FROM files WHERE project = ? AND path = ?`, s.project, p,
		); err != nil {
			return fmt.Errorf("failed to delete %s: %w", p, err)
		}
		deleted = append(deleted, storage.Event{Path: p, Op: storage.OpDelete, At: now})

	case isDir > 0:
		var children int
		if err := tx.QueryRowContext(ctx, `
			SELECT (SELECT COUNT(*) FROM files WHERE project = ? AND path LIKE ?)
			     + (SELECT COUNT(*) FROM directories WHERE project = ? AND path LIKE ?)`,
			s.project, p+"/%", s.project, p+"/%",
		).Scan(&children); err != nil {
			return fmt.Errorf("failed to count children of %s: %w", p, err)
		}
		if children > 0 && !recursive {
			return storage.NewPathError("delete", p, storage.ErrDirectoryNotEmpty)
		}

		// Enumerate descendants before removal so the watch events
		// reflect exactly what the transaction deleted.
		rows, err := tx.QueryContext(ctx,
			`SELECT path FROM files WHERE project = ? AND path LIKE ?`,
			s.project, p+"/%",
		)
		if err != nil {
			return fmt.Errorf("failed to enumerate %s: %w", p, err)
		}
		for rows.Next() {
			var fp string
			if err := rows.Scan(&fp); err != nil {
				rows.Close()
				return fmt.Errorf("failed to scan descendant: %w", err)
			}
			deleted = append(deleted, storage.Event{Path: fp, Op: storage.OpDelete, At: now})
		}
		if err := rows.Err(); err != nil {
			rows.Close()
			return fmt.Errorf("error iterating descendants: %w", err)
		}
		rows.Close()

		if _, err := tx.ExecContext(ctx,
			`DELETE FROM files WHERE project = ? AND path LIKE ?`,
			s.project, p+"/%",
		); err != nil {
			return fmt.Errorf("failed to delete files under %s: %w", p, err)
		}
		if _, err := tx.ExecContext(ctx,
			`DELETE FROM directories WHERE project = ? AND (path = ? OR path LIKE ?)`,
			s.project, p, p+"/%",
		); err != nil {
			return fmt.Errorf("failed to delete directories under %s: %w", p, err)
		}
		deleted = append(deleted, storage.Event{Path: p, Op: storage.OpDelete, At: now})

	default:
		return storage.NewPathError("delete", p, storage.ErrFileNotFound)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit delete: %w", err)
	}

	for _, evt := range deleted {
		s.hub.Publish(evt)
	}
	return nil
}

// Watch implements storage.Adapter via the shared debounce hub.
func (s *Store) Watch(path string, fn storage.WatchFunc, opts storage.WatchOptions) (storage.UnsubscribeFunc, error) {
	return s.hub.Subscribe(path, fn, opts), nil
}

// MarkSynced records a confirmed sync for path: last_synced_at is set to now
// and the externally-modified flag is cleared. Used only by the sync and
// conflict engines.
func (s *Store) MarkSynced(ctx context.Context, path string) error {
	p := storage.NormalizePath(path)
	res, err := s.conn.ExecContext(ctx,
		`UPDATE files SET last_synced_at = ?, externally_modified = 0
		 WHERE project = ? AND path = ?`,
		time.Now().UnixNano(), s.project, p,
	)
	if err != nil {
		return fmt.Errorf("failed to mark %s synced: %w", p, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to mark %s synced: %w", p, err)
	}
	if n == 0 {
		return storage.NewPathError("markSynced", p, storage.ErrFileNotFound)
	}
	return nil
}

// IsDirty reports whether path satisfies the dirty invariant.
func (s *Store) IsDirty(ctx context.Context, path string) (bool, error) {
	rec, err := s.GetRecord(ctx, path)
	if err != nil {
		return false, err
	}
	return rec.Dirty(), nil
}

// DirtyFiles returns every path that has never been synced or was modified
// after its last sync, in path order.
func (s *Store) DirtyFiles(ctx context.Context) ([]string, error) {
	rows, err := s.conn.QueryContext(ctx,
		`SELECT path FROM files
		 WHERE project = ? AND (last_synced_at IS NULL OR last_modified > last_synced_at)
		 ORDER BY path ASC`,
		s.project,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query dirty files: %w", err)
	}
	defer rows.Close()

	var paths []string
	for rows.Next() {
		var p string
		if err := rows.Scan(&p); err != nil {
			return nil, fmt.Errorf("failed to scan dirty path: %w", err)
		}
		paths = append(paths, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating dirty files: %w", err)
	}
	return paths, nil
}

// MarkExternallyModified flags path as possibly diverged on the external
// side. The flag is orthogonal to dirtiness; only MarkSynced or a conflict
// resolution clears it.
func (s *Store) MarkExternallyModified(ctx context.Context, path string) error {
	p := storage.NormalizePath(path)
	res, err := s.conn.ExecContext(ctx,
		`UPDATE files SET externally_modified = 1 WHERE project = ? AND path = ?`,
		s.project, p,
	)
	if err != nil {
		return fmt.Errorf("failed to flag %s: %w", p, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to flag %s: %w", p, err)
	}
	if n == 0 {
		return storage.NewPathError("markExternallyModified", p, storage.ErrFileNotFound)
	}
	return nil
}

// IsExternallyModified reads the externally-modified flag for path.
func (s *Store) IsExternallyModified(ctx context.Context, path string) (bool, error) {
	p := storage.NormalizePath(path)
	var flag int
	err := s.conn.QueryRowContext(ctx,
		`SELECT externally_modified FROM files WHERE project = ? AND path = ?`,
		s.project, p,
	).Scan(&flag)
	if errors.Is(err, sql.ErrNoRows) {
		return false, storage.NewPathError("isExternallyModified", p, storage.ErrFileNotFound)
	}
	if err != nil {
		return false, fmt.Errorf("failed to read flag for %s: %w", p, err)
	}
	return flag != 0, nil
}

// ExternallyModifiedFiles returns every flagged path in path order.
func (s *Store) ExternallyModifiedFiles(ctx context.Context) ([]string, error) {
	rows, err := s.conn.QueryContext(ctx,
		`SELECT path FROM files WHERE project = ? AND externally_modified = 1 ORDER BY path ASC`,
		s.project,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query flagged files: %w", err)
	}
	defer rows.Close()

	var paths []string
	for rows.Next() {
		var p string
		if err := rows.Scan(&p); err != nil {
			return nil, fmt.Errorf("failed to scan flagged path: %w", err)
		}
		paths = append(paths, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating flagged files: %w", err)
	}
	return paths, nil
}

// GetRecord returns the full bookkeeping row for path.
func (s *Store) GetRecord(ctx context.Context, path string) (*FileRecord, error) {
	p := storage.NormalizePath(path)

	var content string
	var modified int64
	var synced sql.NullInt64
	var extMod int
	err := s.conn.QueryRowContext(ctx,
		`SELECT content, last_modified, last_synced_at, externally_modified
		 FROM files WHERE project = ? AND path = ?`,
		s.project, p,
	).Scan(&content, &modified, &synced, &extMod)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storage.NewPathError("getRecord", p, storage.ErrFileNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load record %s: %w", p, err)
	}

	rec := &FileRecord{
		Path:               p,
		Content:            content,
		LastModified:       time.Unix(0, modified),
		ExternallyModified: extMod != 0,
	}
	if synced.Valid {
		t := time.Unix(0, synced.Int64)
		rec.LastSyncedAt = &t
	}
	return rec, nil
}

// RegisterProject inserts or refreshes the project registry row for this
// store's namespace.
func (s *Store) RegisterProject(ctx context.Context, name, rootPath string) error {
	_, err := s.conn.ExecContext(ctx, `
		INSERT INTO projects (id, name, root_path, last_accessed)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			root_path = excluded.root_path,
			last_accessed = excluded.last_accessed`,
		s.project, name, rootPath, time.Now().UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("failed to register project %s: %w", s.project, err)
	}
	return nil
}

// TouchProject bumps last_accessed for this store's project.
func (s *Store) TouchProject(ctx context.Context) error {
	_, err := s.conn.ExecContext(ctx,
		`UPDATE projects SET last_accessed = ? WHERE id = ?`,
		time.Now().UnixNano(), s.project,
	)
	if err != nil {
		return fmt.Errorf("failed to touch project %s: %w", s.project, err)
	}
	return nil
}

// SetProjectHandleRef links the project row to the coordinator's stored
// handle id. An empty ref clears the link.
func (s *Store) SetProjectHandleRef(ctx context.Context, ref string) error {
	_, err := s.conn.ExecContext(ctx,
		`UPDATE projects SET handle_ref = ? WHERE id = ?`,
		ref, s.project,
	)
	if err != nil {
		return fmt.Errorf("failed to set handle ref for %s: %w", s.project, err)
	}
	return nil
}

// GetProject loads the project registry row for this store's namespace.
// Returns nil when the project was never registered.
func (s *Store) GetProject(ctx context.Context) (*Project, error) {
	var p Project
	var accessed int64
	var handleRef sql.NullString
	err := s.conn.QueryRowContext(ctx,
		`SELECT id, name, root_path, last_accessed, handle_ref FROM projects WHERE id = ?`,
		s.project,
	).Scan(&p.ID, &p.Name, &p.RootPath, &accessed, &handleRef)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load project %s: %w", s.project, err)
	}
	p.LastAccessed = time.Unix(0, accessed)
	p.HandleRef = handleRef.String
	return &p, nil
}
