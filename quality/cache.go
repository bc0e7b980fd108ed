package quality

import (
	"encoding/binary"
	"math"
	"time"

	bolt "go.etcd.io/bbolt"

	"github.com/Divergent-Discourses/dd-custom-preprocess/core"
	pperrors "github.com/Divergent-Discourses/dd-custom-preprocess/errors"
)

var (
	_ core.ScoreStore = (*BoltStore)(nil)
	_ core.ScoreStore = NopStore{}
)

var (
	bucketScores = []byte("scores")
	bucketMeta   = []byte("meta")
	keyScorer    = []byte("scorer")
)

// BoltStore persists quality scores in a single-file bbolt database keyed by
// cleaned absolute source path.  The file sits next to the images it
// describes, so deleting a corpus deletes its scores with it.  Scores are
// stored as big-endian IEEE-754 bits.
type BoltStore struct {
	db   *bolt.DB
	path string
}

// OpenBoltStore opens (creating if absent) the score database at path.  The
// open takes a short lock timeout so a concurrent run on the same source
// directory fails fast instead of hanging.
func OpenBoltStore(path string) (*BoltStore, error) {
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, pperrors.Wrap(pperrors.CategoryCache, "cache.open", err)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		if _, err := tx.CreateBucketIfNotExists(bucketScores); err != nil {
			return err
		}
		_, err := tx.CreateBucketIfNotExists(bucketMeta)
		return err
	})
	if err != nil {
		db.Close()
		return nil, pperrors.Wrap(pperrors.CategoryCache, "cache.init", err)
	}
	return &BoltStore{db: db, path: path}, nil
}

// Path returns the database file location.
func (s *BoltStore) Path() string { return s.path }

// Get looks up the cached score for path.
func (s *BoltStore) Get(path string) (float64, bool, error) {
	var (
		score float64
		ok    bool
	)
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketScores)
		if b == nil {
			return nil
		}
		v := b.Get([]byte(path))
		if len(v) != 8 {
			return nil
		}
		score = math.Float64frombits(binary.BigEndian.Uint64(v))
		ok = true
		return nil
	})
	if err != nil {
		return 0, false, pperrors.Wrap(pperrors.CategoryCache, "cache.get", err)
	}
	return score, ok, nil
}

// Put records the score for path, overwriting any previous value.
func (s *BoltStore) Put(path string, score float64) error {
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], math.Float64bits(score))
	err := s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketScores).Put([]byte(path), buf[:])
	})
	return pperrors.Wrap(pperrors.CategoryCache, "cache.put", err)
}

// AnnotateScorer records which scorer produced the cached values and returns
// the previously recorded one.  A caller seeing previous != "" and different
// from name should warn the operator: the cache now mixes two models.
func (s *BoltStore) AnnotateScorer(name string) (previous string, err error) {
	err = s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketMeta)
		previous = string(b.Get(keyScorer))
		return b.Put(keyScorer, []byte(name))
	})
	if err != nil {
		return "", pperrors.Wrap(pperrors.CategoryCache, "cache.annotate", err)
	}
	return previous, nil
}

// Len reports the number of cached scores.
func (s *BoltStore) Len() (int, error) {
	var n int
	err := s.db.View(func(tx *bolt.Tx) error {
		if b := tx.Bucket(bucketScores); b != nil {
			n = b.Stats().KeyN
		}
		return nil
	})
	return n, err
}

// Close flushes and closes the database.
func (s *BoltStore) Close() error {
	return s.db.Close()
}

// NopStore is the degraded cache used when the real one cannot be opened:
// every lookup misses and every write is dropped.  The run still works, it
// just recomputes scores.
type NopStore struct{}

func (NopStore) Get(string) (float64, bool, error) { return 0, false, nil }
func (NopStore) Put(string, float64) error         { return nil }
func (NopStore) Close() error                      { return nil }
