package store

import (
	"context"
	"sync"

	"github.com/YuminosukeSato/equipml/equipment"
	"github.com/YuminosukeSato/equipml/pkg/log"
)

type cacheEntry struct {
	version string
	bundle  *equipment.Bundle
}

// CachedLoader はキーとバージョンごとに読み込んだバンドルを使い回す
//
// バックエンドが Versioner を実装していない、またはバージョンが空の場合は
// 毎回読み込む。バンドルは読み取り専用なので返した値を共有してよい。
type CachedLoader struct {
	store BundleStore

	mu      sync.RWMutex
	entries map[string]cacheEntry
	hits    int
	misses  int
}

// NewCachedLoader は store を読み込み元とする CachedLoader を作る
func NewCachedLoader(store BundleStore) *CachedLoader {
	return &CachedLoader{store: store, entries: make(map[string]cacheEntry)}
}

// Load はキャッシュが現在のバージョンと一致すればそれを返し、そうでなければ読み込む
func (c *CachedLoader) Load(ctx context.Context, key string) (*equipment.Bundle, error) {
	version := ""
	if v, ok := c.store.(Versioner); ok {
		ver, err := v.Version(ctx, key)
		if err != nil {
			c.Invalidate(key)
			return nil, err
		}
		version = ver
	}

	if version != "" {
		c.mu.RLock()
		e, ok := c.entries[key]
		c.mu.RUnlock()
		if ok && e.version == version {
			c.mu.Lock()
			c.hits++
			c.mu.Unlock()
			return e.bundle, nil
		}
	}

	b, err := c.store.Load(ctx, key)
	if err != nil {
		c.Invalidate(key)
		return nil, err
	}

	c.mu.Lock()
	c.misses++
	if version != "" {
		c.entries[key] = cacheEntry{version: version, bundle: b}
	}
	c.mu.Unlock()

	log.GetLoggerWithName("store").Debug("bundle loaded",
		log.OperationKey, log.OperationLoad,
		log.BundleKey, key,
		"version", version,
	)
	return b, nil
}

// Invalidate はキーのキャッシュを破棄する
func (c *CachedLoader) Invalidate(key string) {
	c.mu.Lock()
	delete(c.entries, key)
	c.mu.Unlock()
}

// Stats はキャッシュのヒット数と読み込み数を返す
func (c *CachedLoader) Stats() (hits, misses int) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.hits, c.misses
}
