package store

// snapshot.go implements explicit snapshots of the authoritative tier into
// an embedded Badger database.  A snapshot row is the entry's full encoded
// block — the same layout the slab holds — so identifiers, timestamps, hit
// counts and the binary value survive the round trip and a restore
// reinstalls mappings exactly as they were.
//
// Segments are walked concurrently (one goroutine per segment, errgroup
// collects the first failure); each walk copies its entries under the
// segment lock and writes them outside it, so snapshots never stall
// concurrent operations for longer than one segment copy.
//
// © 2025 ehcache3 authors. MIT License.

import (
	"context"
	"fmt"

	badger "github.com/dgraph-io/badger/v4"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// SnapshotTo writes every live mapping into db.  Mappings that expire or
// change mid-snapshot may be captured in either state; the snapshot is
// weakly consistent, like the iterator.
func (s *Store[K, V]) SnapshotTo(ctx context.Context, db *badger.DB) error {
    if s.closed.Load() {
        return ErrClosed
    }

    g, ctx := errgroup.WithContext(ctx)
    for _, seg := range s.backing.segs {
        seg := seg
        g.Go(func() error {
            entries := seg.snapshotEntries()
            wb := db.NewWriteBatch()
            defer wb.Cancel()
            for _, e := range entries {
                if err := ctx.Err(); err != nil {
                    return err
                }
                kb, err := s.keyCodec.Encode(e.key)
                if err != nil {
                    return newStoreAccessError("snapshot encode key", err)
                }
                row := make([]byte, entrySize(len(kb), len(e.holder.binary)))
                encodeBlock(row, e.holder, kb, e.holder.binary)
                if err := wb.Set(kb, row); err != nil {
                    return err
                }
            }
            return wb.Flush()
        })
    }
    if err := g.Wait(); err != nil {
        return err
    }
    s.log.Info("snapshot written", zap.Int64("entries", s.Stats().LongSize))
    return nil
}

// RestoreFrom reinstalls every row of db into an empty store via the
// install-mapping path, preserving holder metadata.  Rows that are already
// expired are dropped (their invalidation fires as usual).
func (s *Store[K, V]) RestoreFrom(ctx context.Context, db *badger.DB) error {
    if s.closed.Load() {
        return ErrClosed
    }
    if s.Stats().LongSize != 0 {
        return newStoreAccessError("restore", fmt.Errorf("store is not empty"))
    }

    restored := int64(0)
    err := db.View(func(txn *badger.Txn) error {
        it := txn.NewIterator(badger.DefaultIteratorOptions)
        defer it.Close()
        for it.Rewind(); it.Valid(); it.Next() {
            if err := ctx.Err(); err != nil {
                return err
            }
            var row []byte
            if err := it.Item().Value(func(b []byte) error {
                row = append(row[:0], b...)
                return nil
            }); err != nil {
                return err
            }

            id, creation, lastAccess, expiration, hits := decodeHeader(row)
            kb, vb := blockRegions(row)
            key, err := s.keyCodec.Decode(kb)
            if err != nil {
                return newStoreAccessError("restore decode key", err)
            }
            value, err := s.valCodec.Decode(vb)
            if err != nil {
                return newStoreAccessError("restore decode value", err)
            }

            binary := make([]byte, len(vb))
            copy(binary, vb)
            holder := NewDetachedHolder(id, creation, lastAccess, expiration, hits, value, binary)
            if _, err := s.InstallMapping(key, func(K) (*ValueHolder[V], error) {
                return holder, nil
            }); err != nil {
                return err
            }
            restored++
        }
        return nil
    })
    if err != nil {
        return err
    }
    s.log.Info("snapshot restored", zap.Int64("entries", restored))
    return nil
}
