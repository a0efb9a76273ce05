package gpkg

import (
	"database/sql"
	"fmt"

	_ "github.com/mattn/go-sqlite3"
	"github.com/pkg/errors"
)

const busyTimeoutMillis = 5000

// Execer is satisfied by *sql.DB and *sql.Tx.
type Execer interface {
	Exec(query string, args ...interface{}) (sql.Result, error)
}

// InsertTile stores one tile blob in table through e. Callers bringing
// their own connection use it to write tiles in parallel with other
// processes.
func InsertTile(e Execer, table string, idx TileIndex, data []byte) error {
	_, err := e.Exec(insertTileSQL(table), idx.Zoom, idx.Column, idx.Row, data)
	return err
}

func insertTileSQL(table string) string {
	return fmt.Sprintf("INSERT INTO %s (zoom_level, tile_column, tile_row, tile_data) VALUES (?, ?, ?, ?)", quoteIdent(table))
}

// TileStore writes and reads the tiles of one table. Inserts made between
// BeginBatch and EndBatch share a transaction.
type TileStore struct {
	db    *sql.DB
	table string
	owned bool

	tx   *sql.Tx
	stmt *sql.Stmt
}

// NewTileStore writes through db. An open batch holds one of its
// connections until EndBatch, so a pool limited to one connection cannot
// serve other queries meanwhile.
func NewTileStore(db *sql.DB, table string) *TileStore {
	return &TileStore{db: db, table: table}
}

// OpenTileStore opens its own connection to the container at path. The
// tile table must already exist.
func OpenTileStore(path string, table string) (*TileStore, error) {
	var err error
	db, err := sql.Open("sqlite3", fmt.Sprintf("%s?_busy_timeout=%d&_foreign_keys=1", path, busyTimeoutMillis))
	if err != nil {
		return nil, err
	}
	defer func() {
		if err != nil {
			db.Close()
		}
	}()

	var n int
	err = db.QueryRow("SELECT count(*) FROM sqlite_master WHERE type = 'table' AND name = ?", table).Scan(&n)
	if err != nil {
		return nil, errors.Wrapf(err, "open tile store %s", path)
	}
	if n == 0 {
		err = errors.Errorf("%s: no tile table %q", path, table)
		return nil, err
	}
	return &TileStore{db: db, table: table, owned: true}, nil
}

func (s *TileStore) Table() string {
	return s.table
}

func (s *TileStore) InBatch() bool {
	return s.tx != nil
}

func (s *TileStore) BeginBatch() error {
	if s.tx != nil {
		return errors.New("batch already open")
	}
	tx, err := s.db.Begin()
	if err != nil {
		return errors.Wrap(err, "begin tile batch")
	}
	stmt, err := tx.Prepare(insertTileSQL(s.table))
	if err != nil {
		tx.Rollback()
		return errors.Wrap(err, "prepare tile insert")
	}
	s.tx, s.stmt = tx, stmt
	return nil
}

// InsertTile writes one tile, inside the open batch if there is one.
func (s *TileStore) InsertTile(idx TileIndex, data []byte) error {
	if s.stmt == nil {
		return InsertTile(s.db, s.table, idx, data)
	}
	_, err := s.stmt.Exec(idx.Zoom, idx.Column, idx.Row, data)
	return err
}

// EndBatch commits the open batch. It is a no-op without one.
func (s *TileStore) EndBatch() error {
	if s.tx == nil {
		return nil
	}
	tx, stmt := s.tx, s.stmt
	s.tx, s.stmt = nil, nil
	stmt.Close()
	return errors.Wrap(tx.Commit(), "commit tile batch")
}

// GetTileBlob returns the blob at idx, or nil when none is stored.
func (s *TileStore) GetTileBlob(idx TileIndex) ([]byte, error) {
	var b []byte
	stmt := fmt.Sprintf("SELECT tile_data FROM %s WHERE zoom_level = ? AND tile_column = ? AND tile_row = ?", quoteIdent(s.table))
	err := s.db.QueryRow(stmt, idx.Zoom, idx.Column, idx.Row).Scan(&b)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return b, err
}

func (s *TileStore) CountTiles(zoom int) (int, error) {
	var n int
	stmt := fmt.Sprintf("SELECT count(*) FROM %s WHERE zoom_level = ?", quoteIdent(s.table))
	err := s.db.QueryRow(stmt, zoom).Scan(&n)
	return n, err
}

// Close commits any open batch and releases a connection opened by
// OpenTileStore.
func (s *TileStore) Close() error {
	err := s.EndBatch()
	if s.owned {
		if cerr := s.db.Close(); err == nil {
			err = cerr
		}
	}
	return err
}
