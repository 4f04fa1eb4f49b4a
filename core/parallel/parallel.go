// Package parallel はアンサンブル学習などで使うCPUバウンドな並列実行ヘルパーを提供する
package parallel

import (
	"runtime"
	"sync"
)

// Parallelize は items 個の処理をCPUコア数に応じた区間 [start, end) に分割し、
// 各区間に対して fn を並列実行する。全ワーカーの終了を待って戻る
func Parallelize(items int, fn func(start, end int)) {
	if items <= 0 {
		return
	}

	numWorkers := runtime.NumCPU()
	if numWorkers > items {
		numWorkers = items
	}

	// 切り上げ除算
	chunkSize := (items + numWorkers - 1) / numWorkers

	var wg sync.WaitGroup
	for i := 0; i < numWorkers; i++ {
		start := i * chunkSize
		end := start + chunkSize
		if end > items {
			end = items
		}
		if start >= end {
			continue
		}

		wg.Add(1)
		go func(s, e int) {
			defer wg.Done()
			fn(s, e)
		}(start, end)
	}
	wg.Wait()
}

// ParallelizeWithThreshold は items が threshold を超える場合のみ並列化する
func ParallelizeWithThreshold(items int, threshold int, fn func(start, end int)) {
	if items <= threshold {
		fn(0, items)
		return
	}
	Parallelize(items, fn)
}

// ForEach は 0..items-1 の各インデックスについて fn を並列に呼び出し、
// 最初に発生したエラー（インデックスが最小のもの）を返す。
// fn は互いに独立した出力先にのみ書き込むこと
func ForEach(items int, fn func(i int) error) error {
	if items <= 0 {
		return nil
	}
	errs := make([]error, items)
	Parallelize(items, func(start, end int) {
		for i := start; i < end; i++ {
			errs[i] = fn(i)
		}
	})
	for _, err := range errs {
		if err != nil {
			return err
		}
	}
	return nil
}
