package store

import "sync"

type keyedMutex struct {
	mu   sync.Mutex
	refs int
}

// KeyedLocker はキーごとの排他ロック
// 同じキーの処理は直列化し、異なるキーは並行に動かす
type KeyedLocker struct {
	mu    sync.Mutex
	locks map[string]*keyedMutex
}

// NewKeyedLocker は空の KeyedLocker を作る
func NewKeyedLocker() *KeyedLocker {
	return &KeyedLocker{locks: make(map[string]*keyedMutex)}
}

// Lock はキーのロックを取得し、解放関数を返す
func (l *KeyedLocker) Lock(key string) (unlock func()) {
	l.mu.Lock()
	km, ok := l.locks[key]
	if !ok {
		km = &keyedMutex{}
		l.locks[key] = km
	}
	km.refs++
	l.mu.Unlock()

	km.mu.Lock()
	var once sync.Once
	return func() {
		once.Do(func() {
			km.mu.Unlock()
			l.mu.Lock()
			km.refs--
			if km.refs == 0 {
				delete(l.locks, key)
			}
			l.mu.Unlock()
		})
	}
}

// Len は保持しているキーの数
func (l *KeyedLocker) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.locks)
}
