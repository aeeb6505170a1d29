package store

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	bolt "go.etcd.io/bbolt"
)

// buildsBucket holds one sub-bucket per job, keyed by big-endian build number.
const buildsBucket = "builds"

// BoltStore implements Store on a single BoltDB file.
//
// bbolt serializes writers, so concurrent upserts for distinct builds are
// safe without extra locking.
type BoltStore struct {
	db *bolt.DB
}

// boltRecord is the stored value. The console log lives beside the build so
// that replacing the build does not need to know about it.
type boltRecord struct {
	Build      Build  `json:"build"`
	ConsoleLog string `json:"console_log,omitempty"`
}

// NewBoltStore opens (or creates) a BoltDB-backed store at path.
func NewBoltStore(path string) (*BoltStore, error) {
	db, err := bolt.Open(path, 0600, &bolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("failed to open boltdb at %s: %w", path, err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		if _, err := tx.CreateBucketIfNotExists([]byte(buildsBucket)); err != nil {
			return fmt.Errorf("create builds bucket: %w", err)
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, err
	}

	return &BoltStore{db: db}, nil
}

func buildKey(number int) []byte {
	key := make([]byte, 8)
	binary.BigEndian.PutUint64(key, uint64(number))
	return key
}

// Upsert inserts or replaces a build in one write transaction.
func (s *BoltStore) Upsert(ctx context.Context, build *Build) error {
	if err := validateBuild(build); err != nil {
		return err
	}

	rec := boltRecord{Build: *build}
	rec.Build.Parameters = NormalizeParameters(build.Parameters)
	rec.Build.StartedAt = build.StartedAt.UTC()
	rec.Build.ConsoleLog = ""

	return s.db.Update(func(tx *bolt.Tx) error {
		jobBucket, err := tx.Bucket([]byte(buildsBucket)).CreateBucketIfNotExists([]byte(build.JobID))
		if err != nil {
			return fmt.Errorf("create job bucket %s: %w", build.JobID, err)
		}

		key := buildKey(build.Number)
		if existing := jobBucket.Get(key); existing != nil {
			var prev boltRecord
			if err := json.Unmarshal(existing, &prev); err != nil {
				return fmt.Errorf("unmarshal build %s#%d: %w", build.JobID, build.Number, err)
			}
			rec.ConsoleLog = prev.ConsoleLog
		}

		data, err := json.Marshal(&rec)
		if err != nil {
			return fmt.Errorf("marshal build: %w", err)
		}
		if err := jobBucket.Put(key, data); err != nil {
			return fmt.Errorf("put build %s#%d: %w", build.JobID, build.Number, err)
		}
		return nil
	})
}

// Get returns a single build with its cached console log.
func (s *BoltStore) Get(ctx context.Context, jobID string, number int) (*Build, error) {
	var build *Build

	err := s.db.View(func(tx *bolt.Tx) error {
		jobBucket := tx.Bucket([]byte(buildsBucket)).Bucket([]byte(jobID))
		if jobBucket == nil {
			return nil
		}
		data := jobBucket.Get(buildKey(number))
		if data == nil {
			return nil
		}

		var rec boltRecord
		if err := json.Unmarshal(data, &rec); err != nil {
			return fmt.Errorf("unmarshal build %s#%d: %w", jobID, number, err)
		}
		build = &rec.Build
		build.ConsoleLog = rec.ConsoleLog
		return nil
	})
	if err != nil {
		return nil, err
	}
	if build == nil {
		return nil, fmt.Errorf("%w: %s#%d", ErrNotFound, jobID, number)
	}

	return build, nil
}

// each decodes every build of jobID (or of all jobs) and passes it to fn.
func (s *BoltStore) each(jobID string, fn func(*Build)) error {
	return s.db.View(func(tx *bolt.Tx) error {
		root := tx.Bucket([]byte(buildsBucket))

		visit := func(name []byte) error {
			jobBucket := root.Bucket(name)
			if jobBucket == nil {
				return nil
			}
			return jobBucket.ForEach(func(k, v []byte) error {
				var rec boltRecord
				if err := json.Unmarshal(v, &rec); err != nil {
					return fmt.Errorf("unmarshal build %s#%d: %w", name, binary.BigEndian.Uint64(k), err)
				}
				fn(&rec.Build)
				return nil
			})
		}

		if jobID != "" {
			return visit([]byte(jobID))
		}
		return root.ForEach(func(name, v []byte) error {
			if v != nil {
				return nil
			}
			return visit(name)
		})
	})
}

// List returns one page of matching builds.
func (s *BoltStore) List(ctx context.Context, jobID string, f Filter, page, pageSize int) ([]*Build, int, error) {
	var matched []*Build
	err := s.each(jobID, func(b *Build) {
		if f.Matches(b) {
			matched = append(matched, b)
		}
	})
	if err != nil {
		return nil, 0, err
	}

	sortBuilds(matched)
	start, end := pageBounds(len(matched), page, pageSize)

	return matched[start:end], len(matched), nil
}

// DistinctParameterValues returns the sorted distinct values of a parameter.
func (s *BoltStore) DistinctParameterValues(ctx context.Context, jobID, name string) ([]string, error) {
	seen := make(map[string]struct{})
	err := s.each(jobID, func(b *Build) {
		for _, p := range b.Parameters {
			if p.Name == name {
				seen[p.Value] = struct{}{}
			}
		}
	})
	if err != nil {
		return nil, err
	}

	values := make([]string, 0, len(seen))
	for v := range seen {
		values = append(values, v)
	}
	sort.Strings(values)

	return values, nil
}

// Aggregate computes counts and duration totals over matching builds.
func (s *BoltStore) Aggregate(ctx context.Context, jobID string, f Filter) (*Aggregate, error) {
	agg := newAggregate()
	err := s.each(jobID, func(b *Build) {
		if f.Matches(b) {
			agg.addBuild(b)
		}
	})
	if err != nil {
		return nil, err
	}
	return agg, nil
}

// Daily groups matching builds by UTC day.
func (s *BoltStore) Daily(ctx context.Context, jobID string, f Filter) ([]DailyAggregate, error) {
	days := make(map[string]*Aggregate)
	err := s.each(jobID, func(b *Build) {
		if !f.Matches(b) {
			return
		}
		key := DayKey(b.StartedAt)
		agg, ok := days[key]
		if !ok {
			agg = newAggregate()
			days[key] = agg
		}
		agg.addBuild(b)
	})
	if err != nil {
		return nil, err
	}

	out := make([]DailyAggregate, 0, len(days))
	for day, agg := range days {
		out = append(out, DailyAggregate{Date: day, Aggregate: agg})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Date < out[j].Date })

	return out, nil
}

// SetConsoleLog caches the console output of an existing build.
func (s *BoltStore) SetConsoleLog(ctx context.Context, jobID string, number int, log string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		jobBucket := tx.Bucket([]byte(buildsBucket)).Bucket([]byte(jobID))
		if jobBucket == nil {
			return fmt.Errorf("%w: %s#%d", ErrNotFound, jobID, number)
		}
		key := buildKey(number)
		data := jobBucket.Get(key)
		if data == nil {
			return fmt.Errorf("%w: %s#%d", ErrNotFound, jobID, number)
		}

		var rec boltRecord
		if err := json.Unmarshal(data, &rec); err != nil {
			return fmt.Errorf("unmarshal build %s#%d: %w", jobID, number, err)
		}
		rec.ConsoleLog = log

		updated, err := json.Marshal(&rec)
		if err != nil {
			return fmt.Errorf("marshal build: %w", err)
		}
		return jobBucket.Put(key, updated)
	})
}

// Close releases resources held by the store.
func (s *BoltStore) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}
