package scrape

import "sync"

// keyedMutex はキーごとのミューテックスを提供する。
// ソースIDをキーにして、同一ソースのリコンサイル・再計算シーケンスを直列化する。
// エントリは解放されないが、キー空間はソース数に限られるため問題にならない。
type keyedMutex struct {
	mu      sync.Mutex
	entries map[string]*sync.Mutex
}

func newKeyedMutex() *keyedMutex {
	return &keyedMutex{entries: make(map[string]*sync.Mutex)}
}

// lockFor はキーに対応するミューテックスを返す。
func (k *keyedMutex) lockFor(key string) *sync.Mutex {
	k.mu.Lock()
	defer k.mu.Unlock()

	m, ok := k.entries[key]
	if !ok {
		m = &sync.Mutex{}
		k.entries[key] = m
	}
	return m
}
