package service

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/tanishkagupta2207/p2p-fileShare-Backend/internal/domain/model"
)

// TestCacheService_GetSet проверяет базовые операции Get/Set.
func TestCacheService_GetSet(t *testing.T) {
	cache := NewCacheService(100, 5*time.Minute)

	record := &model.FileRecord{
		FileID:           "test-uuid-1",
		OriginalFilename: "test.txt",
		ContentType:      "text/plain",
		Size:             1024,
	}

	if _, ok := cache.Get("test-uuid-1"); ok {
		t.Fatal("ожидался cache miss для нового ключа")
	}

	cache.Set("test-uuid-1", record)
	got, ok := cache.Get("test-uuid-1")
	if !ok {
		t.Fatal("ожидался cache hit после Set")
	}
	if got.OriginalFilename != "test.txt" {
		t.Errorf("OriginalFilename = %q, ожидался %q", got.OriginalFilename, "test.txt")
	}
}

// TestCacheService_TTL проверяет истечение записей.
func TestCacheService_TTL(t *testing.T) {
	cache := NewCacheService(100, 50*time.Millisecond)
	cache.Set("ttl", &model.FileRecord{FileID: "ttl"})

	time.Sleep(120 * time.Millisecond)

	if _, ok := cache.Get("ttl"); ok {
		t.Error("ожидался cache miss после истечения TTL")
	}
}

// TestCacheService_Eviction проверяет вытеснение при переполнении.
func TestCacheService_Eviction(t *testing.T) {
	cache := NewCacheService(2, 5*time.Minute)
	cache.Set("a", &model.FileRecord{FileID: "a"})
	cache.Set("b", &model.FileRecord{FileID: "b"})
	cache.Set("c", &model.FileRecord{FileID: "c"})

	if cache.Len() != 2 {
		t.Errorf("Len() = %d, ожидалось 2", cache.Len())
	}
	if _, ok := cache.Get("a"); ok {
		t.Error("старейшая запись не вытеснена")
	}
}

// TestCacheService_Disabled проверяет режим без кэша.
func TestCacheService_Disabled(t *testing.T) {
	cache := NewCacheService(0, time.Minute)
	cache.Set("x", &model.FileRecord{FileID: "x"})

	if _, ok := cache.Get("x"); ok {
		t.Error("отключённый кэш вернул запись")
	}
	if cache.Len() != 0 {
		t.Errorf("Len() = %d, ожидалось 0", cache.Len())
	}
}

// TestCacheService_GetOrLoad_Singleflight проверяет, что одновременные
// промахи по одному ключу загружают запись один раз.
func TestCacheService_GetOrLoad_Singleflight(t *testing.T) {
	cache := NewCacheService(100, time.Minute)

	var loads atomic.Int32
	release := make(chan struct{})
	load := func(_ context.Context, id string) (*model.FileRecord, error) {
		loads.Add(1)
		<-release
		return &model.FileRecord{FileID: id}, nil
	}

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			rec, err := cache.GetOrLoad(context.Background(), "k", load)
			if err != nil || rec.FileID != "k" {
				t.Errorf("GetOrLoad() = %v, %v", rec, err)
			}
		}()
	}

	// Даём горутинам встать в очередь singleflight
	time.Sleep(50 * time.Millisecond)
	close(release)
	wg.Wait()

	if n := loads.Load(); n < 1 || n > 2 {
		t.Errorf("загрузок = %d, ожидалось 1", n)
	}
	if _, ok := cache.Get("k"); !ok {
		t.Error("загруженная запись не попала в кэш")
	}
}

// TestCacheService_GetOrLoad_ErrorNotCached проверяет, что ошибки не кэшируются.
func TestCacheService_GetOrLoad_ErrorNotCached(t *testing.T) {
	cache := NewCacheService(100, time.Minute)
	wantErr := errors.New("db down")

	_, err := cache.GetOrLoad(context.Background(), "k", func(context.Context, string) (*model.FileRecord, error) {
		return nil, wantErr
	})
	if !errors.Is(err, wantErr) {
		t.Fatalf("err = %v, ожидалось %v", err, wantErr)
	}

	rec, err := cache.GetOrLoad(context.Background(), "k", func(_ context.Context, id string) (*model.FileRecord, error) {
		return &model.FileRecord{FileID: id}, nil
	})
	if err != nil || rec.FileID != "k" {
		t.Errorf("повторный GetOrLoad() = %v, %v", rec, err)
	}
}

// TestCacheService_GetOrLoad_InitiatorCancelDoesNotFailWaiters проверяет,
// что отмена запроса, запустившего загрузку, не обрывает её для остальных.
func TestCacheService_GetOrLoad_InitiatorCancelDoesNotFailWaiters(t *testing.T) {
	cache := NewCacheService(100, time.Minute)

	started := make(chan struct{})
	release := make(chan struct{})
	var loadCtxErr atomic.Value
	load := func(ctx context.Context, id string) (*model.FileRecord, error) {
		close(started)
		<-release
		if err := ctx.Err(); err != nil {
			loadCtxErr.Store(err)
			return nil, err
		}
		return &model.FileRecord{FileID: id}, nil
	}

	initiatorCtx, cancel := context.WithCancel(context.Background())
	initiatorErr := make(chan error, 1)
	go func() {
		_, err := cache.GetOrLoad(initiatorCtx, "k", load)
		initiatorErr <- err
	}()
	<-started

	type result struct {
		rec *model.FileRecord
		err error
	}
	waiter := make(chan result, 1)
	go func() {
		rec, err := cache.GetOrLoad(context.Background(), "k", load)
		waiter <- result{rec, err}
	}()
	// Даём второму вызову встать в очередь singleflight
	time.Sleep(50 * time.Millisecond)

	cancel()
	select {
	case err := <-initiatorErr:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("инициатор: err = %v, ожидалось context.Canceled", err)
		}
	case <-time.After(time.Second):
		t.Fatal("инициатор не прекратил ожидание после отмены")
	}

	close(release)
	select {
	case res := <-waiter:
		if res.err != nil || res.rec == nil || res.rec.FileID != "k" {
			t.Errorf("ожидающий: GetOrLoad() = %v, %v", res.rec, res.err)
		}
	case <-time.After(time.Second):
		t.Fatal("ожидающий не получил результат")
	}

	if v := loadCtxErr.Load(); v != nil {
		t.Errorf("загрузка получила отменённый ctx: %v", v)
	}
	if _, ok := cache.Get("k"); !ok {
		t.Error("загруженная запись не попала в кэш")
	}
}
