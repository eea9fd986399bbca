// Package bolt persists cache entries in a BoltDB file so a CLI invocation can
// reuse list and book results fetched by the previous one.
package bolt

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	bolt "go.etcd.io/bbolt"

	pr "github.com/unkn0wn-root/querycache/provider"
)

var defaultBucket = []byte("querycache")

// stored value: expiry (i64 be, unix nano, 0 => none) | payload
const stampLen = 8

type Config struct {
	Path    string
	Bucket  string        // default "querycache"
	Timeout time.Duration // file lock timeout; default 1s
}

type Provider struct {
	db     *bolt.DB
	bucket []byte
	now    func() time.Time
}

var (
	_ pr.Provider = (*Provider)(nil)
	_ pr.Scanner  = (*Provider)(nil)
)

func New(cfg Config) (*Provider, error) {
	if cfg.Path == "" {
		return nil, errors.New("bolt provider: path is required")
	}
	if err := os.MkdirAll(filepath.Dir(cfg.Path), 0o755); err != nil {
		return nil, err
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = time.Second
	}
	db, err := bolt.Open(cfg.Path, 0o600, &bolt.Options{Timeout: timeout})
	if err != nil {
		return nil, fmt.Errorf("bolt provider: open %s: %w", cfg.Path, err)
	}

	bucket := defaultBucket
	if cfg.Bucket != "" {
		bucket = []byte(cfg.Bucket)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucket)
		return err
	})
	if err != nil {
		db.Close()
		return nil, err
	}
	return &Provider{db: db, bucket: bucket, now: time.Now}, nil
}

func (p *Provider) Get(_ context.Context, key string) ([]byte, bool, error) {
	var (
		out     []byte
		expired bool
	)
	err := p.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(p.bucket).Get([]byte(key))
		if v == nil {
			return nil
		}
		if len(v) < stampLen {
			// not ours; hand it back as-is and let wire validation drop it
			out = append([]byte(nil), v...)
			return nil
		}
		if p.expired(v) {
			expired = true
			return nil
		}
		// bolt memory is only valid inside the transaction
		out = append([]byte(nil), v[stampLen:]...)
		return nil
	})
	if err != nil {
		return nil, false, err
	}
	if expired {
		_ = p.del(key)
		return nil, false, nil
	}
	return out, out != nil, nil
}

func (p *Provider) Set(_ context.Context, key string, value []byte, _ int64, ttl time.Duration) (bool, error) {
	buf := make([]byte, stampLen+len(value))
	if ttl > 0 {
		binary.BigEndian.PutUint64(buf, uint64(p.now().Add(ttl).UnixNano()))
	}
	copy(buf[stampLen:], value)
	err := p.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(p.bucket).Put([]byte(key), buf)
	})
	if err != nil {
		return false, err
	}
	return true, nil
}

func (p *Provider) Del(_ context.Context, key string) error {
	return p.del(key)
}

func (p *Provider) del(key string) error {
	return p.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(p.bucket).Delete([]byte(key))
	})
}

// Keys walks the bucket from prefix with a cursor; bolt keeps keys sorted.
func (p *Provider) Keys(_ context.Context, prefix string) ([]string, error) {
	var out []string
	pfx := []byte(prefix)
	err := p.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket(p.bucket).Cursor()
		for k, v := c.Seek(pfx); k != nil && bytes.HasPrefix(k, pfx); k, v = c.Next() {
			if len(v) >= stampLen && p.expired(v) {
				continue
			}
			out = append(out, string(k))
		}
		return nil
	})
	return out, err
}

// Purge drops every expired entry. The CLI runs it on startup.
func (p *Provider) Purge(_ context.Context) (int, error) {
	n := 0
	err := p.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(p.bucket)
		var dead [][]byte
		_ = b.ForEach(func(k, v []byte) error {
			if len(v) >= stampLen && p.expired(v) {
				dead = append(dead, append([]byte(nil), k...))
			}
			return nil
		})
		for _, k := range dead {
			if err := b.Delete(k); err != nil {
				return err
			}
		}
		n = len(dead)
		return nil
	})
	return n, err
}

func (p *Provider) expired(v []byte) bool {
	exp := int64(binary.BigEndian.Uint64(v[:stampLen]))
	return exp != 0 && p.now().UnixNano() > exp
}

func (p *Provider) Close(_ context.Context) error {
	return p.db.Close()
}
