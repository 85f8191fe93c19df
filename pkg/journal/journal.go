// SPDX-License-Identifier: GPL-2.0-or-later

package journal

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"retime/pkg/atom"

	"github.com/google/uuid"
	bolt "go.etcd.io/bbolt"
)

const (
	dbAPIversion = "1"
	// dbAPIversion = "-1" // Testing.
)

const (
	defaultMaxKeys = 10000
	defaultLimit   = 100
)

// Atom is a rewritten atom as stored in the journal.
type Atom struct {
	Tag          string  `json:"tag"`
	Offset       int     `json:"offset"`
	Version      uint8   `json:"version"`
	Scale        float64 `json:"scale"`
	OldTimescale uint32  `json:"oldTimescale"`
	NewTimescale uint32  `json:"newTimescale"`
	OldDuration  uint64  `json:"oldDuration"`
	NewDuration  uint64  `json:"newDuration"`
}

// Entry is one patch run.
type Entry struct {
	ID       uuid.UUID `json:"id"`
	Time     int64     `json:"time"` // Unix microseconds.
	Input    string    `json:"input"`
	Output   string    `json:"output"`
	Scale    string    `json:"scale"`
	DryRun   bool      `json:"dryRun,omitempty"`
	Atoms    []Atom    `json:"atoms"`
	Rejected int       `json:"rejected"`
	Error    string    `json:"error,omitempty"`
}

// NewEntry returns an entry for a finished run.
func NewEntry(input, output string, scale atom.ScaleFactor, res atom.Result, err error) Entry {
	e := Entry{
		Input:  input,
		Output: output,
		Scale:  scale.String(),
		Atoms:  make([]Atom, 0, len(res.Patches)),
	}
	for _, p := range res.Patches {
		e.Atoms = append(e.Atoms, Atom{
			Tag:          p.Tag.String(),
			Offset:       p.Offset,
			Version:      p.Version,
			Scale:        p.Scale,
			OldTimescale: p.OldTimescale,
			NewTimescale: p.NewTimescale,
			OldDuration:  p.OldDuration,
			NewDuration:  p.NewDuration,
		})
	}
	for _, n := range res.Rejected {
		e.Rejected += n
	}
	if err != nil {
		e.Error = err.Error()
	}
	return e
}

// DB patch history database.
type DB struct {
	dbPath  string
	maxKeys int

	db *bolt.DB
	wg *sync.WaitGroup

	newID func() (uuid.UUID, error)
	now   func() time.Time
}

// NewDB returns a journal stored at dbPath, it must be opened before use.
func NewDB(dbPath string, wg *sync.WaitGroup) *DB {
	return &DB{
		dbPath:  dbPath,
		maxKeys: defaultMaxKeys,
		wg:      wg,
		newID:   uuid.NewRandom,
		now:     time.Now,
	}
}

// Open opens the database. It's closed when ctx is canceled.
func (j *DB) Open(ctx context.Context) error {
	dbOpts := &bolt.Options{
		Timeout: 1 * time.Second,
	}

	db, err := bolt.Open(j.dbPath, 0o600, dbOpts)
	if err != nil {
		return fmt.Errorf("open database %v: %w", j.dbPath, err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists([]byte(dbAPIversion))
		return err
	})
	if err != nil {
		db.Close()
		return fmt.Errorf("create bucket %v: %w", dbAPIversion, err)
	}

	j.db = db

	j.wg.Add(1)
	go func() {
		defer j.wg.Done()
		<-ctx.Done()
		db.Close()
	}()

	return nil
}

// ErrNotOpen database has not been opened.
var ErrNotOpen = errors.New("journal is not open")

// Save stores the entry. The ID and time are set if missing.
// The oldest entry is dropped when the database is full.
func (j *DB) Save(e *Entry) error {
	if j.db == nil {
		return ErrNotOpen
	}
	if e.ID == uuid.Nil {
		id, err := j.newID()
		if err != nil {
			return fmt.Errorf("new id: %w", err)
		}
		e.ID = id
	}
	if e.Time == 0 {
		e.Time = j.now().UnixNano() / 1000
	}

	value, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("marshal entry: %w", err)
	}
	key := encodeKey(e.Time, e.ID)

	return j.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(dbAPIversion))

		if b.Stats().KeyN >= j.maxKeys {
			if err := deleteFirstKey(b); err != nil {
				return fmt.Errorf("delete first key: %w", err)
			}
		}
		return b.Put(key, value)
	})
}

func deleteFirstKey(b *bolt.Bucket) error {
	k, _ := b.Cursor().First()
	return b.Delete(k)
}

// Query journal query.
type Query struct {
	// Only entries older than this, in Unix microseconds. Zero means now.
	Before int64

	// Only entries with this input path.
	Input string

	Limit int
}

// Query returns matching entries, newest first.
func (j *DB) Query(q Query) ([]Entry, error) {
	if j.db == nil {
		return nil, ErrNotOpen
	}

	limit := q.Limit
	if limit <= 0 {
		limit = defaultLimit
	}

	var entries []Entry
	err := j.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket([]byte(dbAPIversion)).Cursor()

		var k, v []byte
		if q.Before == 0 {
			k, v = c.Last()
		} else {
			k, v = c.Seek(encodeTime(q.Before))
			if k == nil {
				k, v = c.Last()
			} else {
				k, v = c.Prev()
			}
		}

		for ; k != nil && len(entries) < limit; k, v = c.Prev() {
			var e Entry
			if err := json.Unmarshal(v, &e); err != nil {
				return fmt.Errorf("unmarshal entry: %w", err)
			}
			if q.Input != "" && e.Input != q.Input {
				continue
			}
			entries = append(entries, e)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return entries, nil
}

func encodeTime(t int64) []byte {
	output := make([]byte, 8)
	binary.BigEndian.PutUint64(output, uint64(t))
	return output
}

// Keys sort by time, the id keeps runs in the same microsecond apart.
func encodeKey(t int64, id uuid.UUID) []byte {
	return append(encodeTime(t), id[:]...)
}
