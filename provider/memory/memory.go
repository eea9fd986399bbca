// Package memory is a map-backed provider. It is the default store for the
// CLI and the store used throughout the tests.
package memory

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	pr "github.com/unkn0wn-root/querycache/provider"
)

type entry struct {
	v   []byte
	exp time.Time // zero => no TTL
}

type Provider struct {
	mu  sync.RWMutex
	m   map[string]entry
	now func() time.Time
}

var (
	_ pr.Provider = (*Provider)(nil)
	_ pr.Scanner  = (*Provider)(nil)
)

func New() *Provider {
	return &Provider{m: make(map[string]entry), now: time.Now}
}

func (p *Provider) Get(_ context.Context, key string) ([]byte, bool, error) {
	p.mu.RLock()
	e, ok := p.m[key]
	p.mu.RUnlock()
	if !ok {
		return nil, false, nil
	}
	if !e.exp.IsZero() && p.now().After(e.exp) {
		p.mu.Lock()
		if cur, ok := p.m[key]; ok && cur.exp.Equal(e.exp) {
			delete(p.m, key)
		}
		p.mu.Unlock()
		return nil, false, nil
	}
	return e.v, true, nil
}

func (p *Provider) Set(_ context.Context, key string, value []byte, _ int64, ttl time.Duration) (bool, error) {
	var exp time.Time
	if ttl > 0 {
		exp = p.now().Add(ttl)
	}
	p.mu.Lock()
	p.m[key] = entry{v: value, exp: exp}
	p.mu.Unlock()
	return true, nil
}

func (p *Provider) Del(_ context.Context, key string) error {
	p.mu.Lock()
	delete(p.m, key)
	p.mu.Unlock()
	return nil
}

// Keys returns the live keys under prefix in ascending order.
func (p *Provider) Keys(_ context.Context, prefix string) ([]string, error) {
	now := p.now()
	p.mu.RLock()
	out := make([]string, 0)
	for k, e := range p.m {
		if !strings.HasPrefix(k, prefix) {
			continue
		}
		if !e.exp.IsZero() && now.After(e.exp) {
			continue
		}
		out = append(out, k)
	}
	p.mu.RUnlock()
	sort.Strings(out)
	return out, nil
}

// Len reports the number of stored keys, expired ones included.
func (p *Provider) Len() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.m)
}

func (p *Provider) Close(_ context.Context) error { return nil }
