// Copyright 2024 The go-oslo Authors
// This file is part of the go-oslo library.
//
// The go-oslo library is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// The go-oslo library is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Lesser General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with the go-oslo library. If not, see <http://www.gnu.org/licenses/>.

package store

import (
	"sort"
	"sync"

	"github.com/syndtr/goleveldb/leveldb"
	ldberrors "github.com/syndtr/goleveldb/leveldb/errors"
	"github.com/syndtr/goleveldb/leveldb/storage"
	"github.com/syndtr/goleveldb/leveldb/util"
)

// LevelStore is a Store over a goleveldb database.
type LevelStore struct {
	db      *leveldb.DB
	writeMu sync.Mutex
}

// Open opens (or creates) a LevelDB-backed store at path.
func Open(path string) (*LevelStore, error) {
	db, err := leveldb.OpenFile(path, nil)
	if _, corrupted := err.(*ldberrors.ErrCorrupted); corrupted {
		db, err = leveldb.RecoverFile(path, nil)
	}
	if err != nil {
		return nil, err
	}
	return &LevelStore{db: db}, nil
}

// NewMemory returns a store over in-memory storage, for tests.
func NewMemory() *LevelStore {
	db, err := leveldb.Open(storage.NewMemStorage(), nil)
	if err != nil {
		panic(err)
	}
	return &LevelStore{db: db}
}

// Close releases the backing database.
func (s *LevelStore) Close() error {
	return s.db.Close()
}

// BeginRead opens a consistent snapshot.
func (s *LevelStore) BeginRead() ReadTransaction {
	snap, err := s.db.GetSnapshot()
	if err != nil {
		panic(err) // snapshot acquisition only fails on a closed database
	}
	return &readTxn{store: s, snap: snap}
}

// BeginWrite opens the exclusive write transaction. The tables argument is
// declarative; LevelDB locks the whole store.
func (s *LevelStore) BeginWrite(tables ...Table) WriteTransaction {
	s.writeMu.Lock()
	return &writeTxn{
		store:   s,
		pending: make(map[string][]byte),
		deleted: make(map[string]struct{}),
	}
}

type readTxn struct {
	store *LevelStore
	snap  *leveldb.Snapshot
}

func (t *readTxn) get(key []byte) ([]byte, bool) {
	data, err := t.snap.Get(key, nil)
	if err != nil {
		return nil, false
	}
	return data, true
}

func (t *readTxn) iterate(prefix []byte, fn func(key, value []byte) bool) {
	it := t.snap.NewIterator(util.BytesPrefix(prefix), nil)
	defer it.Release()
	for it.Next() {
		key := append([]byte(nil), it.Key()[len(prefix):]...)
		value := append([]byte(nil), it.Value()...)
		if !fn(key, value) {
			return
		}
	}
}

func (t *readTxn) Renew() {
	t.snap.Release()
	snap, err := t.store.db.GetSnapshot()
	if err != nil {
		panic(err)
	}
	t.snap = snap
}

func (t *readTxn) Discard() {
	t.snap.Release()
}

type writeTxn struct {
	store    *LevelStore
	pending  map[string][]byte
	deleted  map[string]struct{}
	finished bool
}

func (t *writeTxn) get(key []byte) ([]byte, bool) {
	if _, ok := t.deleted[string(key)]; ok {
		return nil, false
	}
	if v, ok := t.pending[string(key)]; ok {
		return v, true
	}
	data, err := t.store.db.Get(key, nil)
	if err != nil {
		return nil, false
	}
	return data, true
}

func (t *writeTxn) put(key, value []byte) {
	delete(t.deleted, string(key))
	t.pending[string(key)] = append([]byte(nil), value...)
}

func (t *writeTxn) delete(key []byte) {
	delete(t.pending, string(key))
	t.deleted[string(key)] = struct{}{}
}

// iterate merges the committed state with this transaction's own writes, so
// batch processors observe blocks they stored earlier in the same batch.
func (t *writeTxn) iterate(prefix []byte, fn func(key, value []byte) bool) {
	overlay := make([]string, 0)
	for k := range t.pending {
		if len(k) >= len(prefix) && k[:len(prefix)] == string(prefix) {
			overlay = append(overlay, k)
		}
	}
	sort.Strings(overlay)

	it := t.store.db.NewIterator(util.BytesPrefix(prefix), nil)
	defer it.Release()
	dbValid := it.Next()
	oi := 0
	for dbValid || oi < len(overlay) {
		var key string
		var value []byte
		switch {
		case !dbValid:
			key, value = overlay[oi], t.pending[overlay[oi]]
			oi++
		case oi >= len(overlay) || overlay[oi] > string(it.Key()):
			key, value = string(it.Key()), append([]byte(nil), it.Value()...)
			dbValid = it.Next()
		case overlay[oi] == string(it.Key()):
			key, value = overlay[oi], t.pending[overlay[oi]]
			oi++
			dbValid = it.Next()
		default:
			key, value = overlay[oi], t.pending[overlay[oi]]
			oi++
		}
		if _, del := t.deleted[key]; del {
			continue
		}
		k := append([]byte(nil), []byte(key)[len(prefix):]...)
		if !fn(k, value) {
			return
		}
	}
}

// Commit applies the buffered writes and ends the transaction.
func (t *writeTxn) Commit() error {
	if t.finished {
		return nil
	}
	err := t.flush()
	t.finished = true
	t.store.writeMu.Unlock()
	return err
}

// Renew applies the writes so far and keeps the transaction open.
func (t *writeTxn) Renew() error {
	err := t.flush()
	t.pending = make(map[string][]byte)
	t.deleted = make(map[string]struct{})
	return err
}

func (t *writeTxn) flush() error {
	batch := new(leveldb.Batch)
	for k, v := range t.pending {
		batch.Put([]byte(k), v)
	}
	for k := range t.deleted {
		batch.Delete([]byte(k))
	}
	return t.store.db.Write(batch, nil)
}
