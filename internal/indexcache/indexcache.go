// Package indexcache persists computed MXF edit-unit offset tables in a
// SQLite database under the cache dir. Variable-size files need a full
// KLV scan to index; caching the result keyed by (path, size, mtime)
// makes reopening O(1).
package indexcache

import (
	"database/sql"
	"encoding/binary"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"

	"github.com/ttxtool/ttx-tool/internal/mxf"
)

const schema = `
CREATE TABLE IF NOT EXISTS mxf_index (
	path           TEXT PRIMARY KEY,
	size           INTEGER NOT NULL,
	mtime_unix     INTEGER NOT NULL,
	edit_rate_num  INTEGER NOT NULL,
	edit_rate_den  INTEGER NOT NULL,
	body_offset    INTEGER NOT NULL,
	unit_count     INTEGER NOT NULL,
	constant_bytes INTEGER NOT NULL,
	offsets        BLOB
);`

// Cache is an open index cache.
type Cache struct {
	db *sql.DB
}

// Open creates the cache dir and database as needed.
func Open(cacheDir string) (*Cache, error) {
	if err := os.MkdirAll(cacheDir, 0o755); err != nil {
		return nil, fmt.Errorf("indexcache: create dir: %w", err)
	}
	db, err := sql.Open("sqlite", filepath.Join(cacheDir, "index.db"))
	if err != nil {
		return nil, fmt.Errorf("indexcache: open db: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("indexcache: init schema: %w", err)
	}
	return &Cache{db: db}, nil
}

// Close releases the database.
func (c *Cache) Close() error { return c.db.Close() }

// fileIdentity is what invalidates a cached row.
func fileIdentity(path string) (size, mtime int64, err error) {
	st, err := os.Stat(path)
	if err != nil {
		return 0, 0, err
	}
	return st.Size(), st.ModTime().Unix(), nil
}

// Get returns the cached index for path if the file is unchanged since it
// was stored.
func (c *Cache) Get(path string) (*mxf.Index, bool, error) {
	size, mtime, err := fileIdentity(path)
	if err != nil {
		return nil, false, err
	}
	row := c.db.QueryRow(`SELECT size, mtime_unix, edit_rate_num, edit_rate_den,
		body_offset, unit_count, constant_bytes, offsets
		FROM mxf_index WHERE path = ?`, path)

	var gotSize, gotMtime, constantBytes int64
	var x mxf.Index
	var offsets []byte
	err = row.Scan(&gotSize, &gotMtime, &x.EditRateNum, &x.EditRateDen,
		&x.BodyPartitionOffset, &x.EditUnitCount, &constantBytes, &offsets)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("indexcache: read: %w", err)
	}
	if gotSize != size || gotMtime != mtime {
		return nil, false, nil
	}
	if constantBytes > 0 {
		x.IsConstantByteSize = true
		x.ConstantEditUnitBytes = constantBytes
	} else {
		x.StreamOffsets = decodeOffsets(offsets)
		if int64(len(x.StreamOffsets)) != x.EditUnitCount {
			return nil, false, nil
		}
	}
	return &x, true, nil
}

// Put stores (or replaces) the index for path at its current identity.
func (c *Cache) Put(path string, x *mxf.Index) error {
	size, mtime, err := fileIdentity(path)
	if err != nil {
		return err
	}
	var constantBytes int64
	var offsets []byte
	if x.IsConstantByteSize {
		constantBytes = x.ConstantEditUnitBytes
	} else {
		offsets = encodeOffsets(x.StreamOffsets)
	}
	_, err = c.db.Exec(`INSERT OR REPLACE INTO mxf_index
		(path, size, mtime_unix, edit_rate_num, edit_rate_den,
		 body_offset, unit_count, constant_bytes, offsets)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		path, size, mtime, x.EditRateNum, x.EditRateDen,
		x.BodyPartitionOffset, x.EditUnitCount, constantBytes, offsets)
	if err != nil {
		return fmt.Errorf("indexcache: write: %w", err)
	}
	return nil
}

func encodeOffsets(offs []int64) []byte {
	b := make([]byte, 8*len(offs))
	for i, o := range offs {
		binary.BigEndian.PutUint64(b[i*8:], uint64(o))
	}
	return b
}

func decodeOffsets(b []byte) []int64 {
	offs := make([]int64, len(b)/8)
	for i := range offs {
		offs[i] = int64(binary.BigEndian.Uint64(b[i*8:]))
	}
	return offs
}
