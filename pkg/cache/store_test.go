package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"io"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/charmbracelet/log"

	lerrors "github.com/libbyhq/libby/pkg/errors"
)

func testStore(t *testing.T) *Store {
	t.Helper()
	s, err := New(t.TempDir(), Options{Logger: log.New(io.Discard)})
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}
	return s
}

func key(s string) string {
	h := sha256.Sum256([]byte(s))
	return hex.EncodeToString(h[:])
}

var meta = Meta{Coordinate: "com.example:lib:1.0", FileName: "lib-1.0.jar", Repository: "https://repo.example.com/"}

func TestPutGet(t *testing.T) {
	ctx := context.Background()
	s := testStore(t)
	k := key("lib")

	if _, err := s.Get(ctx, k); !errors.Is(err, ErrMiss) {
		t.Fatalf("Get() on empty store = %v, want ErrMiss", err)
	}

	put, err := s.Put(ctx, k, []byte("jar bytes"), meta)
	if err != nil {
		t.Fatalf("Put() error: %v", err)
	}
	got, err := s.Get(ctx, k)
	if err != nil {
		t.Fatalf("Get() error: %v", err)
	}
	if got.Path != put.Path || got.Checksum != put.Checksum || got.Size != 9 {
		t.Errorf("Get() = %+v, want %+v", got, put)
	}
	if want := filepath.Join(s.Root(), "artifacts", k[:2], k, "lib-1.0.jar"); got.Path != want {
		t.Errorf("Path = %s, want %s", got.Path, want)
	}
	data, _ := os.ReadFile(got.Path)
	if string(data) != "jar bytes" {
		t.Errorf("file content = %q", data)
	}
}

func TestPut_NeverOverwrites(t *testing.T) {
	ctx := context.Background()
	s := testStore(t)
	k := key("lib")

	first, err := s.Put(ctx, k, []byte("first"), meta)
	if err != nil {
		t.Fatal(err)
	}
	second, err := s.Put(ctx, k, []byte("second writer"), meta)
	if err != nil {
		t.Fatal(err)
	}
	if second.Size != first.Size || second.Checksum != first.Checksum {
		t.Error("Put() replaced a valid entry")
	}
	data, _ := os.ReadFile(first.Path)
	if string(data) != "first" {
		t.Errorf("content = %q, want first", data)
	}
}

func TestPut_NoTempLeftovers(t *testing.T) {
	ctx := context.Background()
	s := testStore(t)
	k := key("lib")
	if _, err := s.Put(ctx, k, []byte("x"), meta); err != nil {
		t.Fatal(err)
	}
	entries, _ := os.ReadDir(filepath.Join(s.Root(), "artifacts", k[:2]))
	if len(entries) != 1 || entries[0].Name() != k {
		t.Errorf("shard contains %v, want only the entry", entries)
	}
}

func TestGet_CorruptIsMiss(t *testing.T) {
	ctx := context.Background()
	tests := map[string]func(t *testing.T, e *Entry){
		"bad json": func(t *testing.T, e *Entry) {
			os.WriteFile(filepath.Join(filepath.Dir(e.Path), metadataFile), []byte("{"), 0o644)
		},
		"missing artifact": func(t *testing.T, e *Entry) {
			os.Remove(e.Path)
		},
		"truncated artifact": func(t *testing.T, e *Entry) {
			os.WriteFile(e.Path, []byte("x"), 0o644)
		},
		"missing metadata": func(t *testing.T, e *Entry) {
			os.Remove(filepath.Join(filepath.Dir(e.Path), metadataFile))
		},
	}

	for name, damage := range tests {
		t.Run(name, func(t *testing.T) {
			s := testStore(t)
			k := key(name)
			e, err := s.Put(ctx, k, []byte("original bytes"), meta)
			if err != nil {
				t.Fatal(err)
			}
			damage(t, e)

			if _, err := s.Get(ctx, k); !errors.Is(err, ErrMiss) {
				t.Fatalf("Get() = %v, want ErrMiss", err)
			}
			if _, err := s.read(k); !lerrors.Is(err, lerrors.ErrCodeCacheCorruption) {
				t.Errorf("read() = %v, want CACHE_CORRUPTION", err)
			}

			fixed, err := s.Put(ctx, k, []byte("fresh bytes"), meta)
			if err != nil {
				t.Fatalf("Put() over corrupt entry: %v", err)
			}
			if got, err := s.Get(ctx, k); err != nil || got.Size != fixed.Size {
				t.Errorf("Get() after repair = %v, %v", got, err)
			}
		})
	}
}

func TestInvalidKeys(t *testing.T) {
	s := testStore(t)
	for _, k := range []string{"", "../../etc", "zz" + key("x")[2:]} {
		if _, err := s.Get(context.Background(), k); !lerrors.Is(err, lerrors.ErrCodeInvalidInput) {
			t.Errorf("Get(%q) = %v, want INVALID_INPUT", k, err)
		}
	}
	if _, err := s.Put(context.Background(), key("x"), nil, Meta{FileName: "../x.jar"}); !lerrors.Is(err, lerrors.ErrCodeInvalidInput) {
		t.Errorf("Put() with traversal file name = %v", err)
	}
}

func TestDo_SingleFlight(t *testing.T) {
	ctx := context.Background()
	s := testStore(t)
	k := key("lib")

	var runs atomic.Int32
	release := make(chan struct{})
	fn := func(ctx context.Context) (*Entry, error) {
		runs.Add(1)
		<-release
		return s.Put(ctx, k, []byte("once"), meta)
	}

	const callers = 20
	var wg sync.WaitGroup
	results := make([]*Entry, callers)
	errs := make([]error, callers)
	for i := range callers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			results[i], _, errs[i] = s.Do(ctx, k, fn)
		}()
	}
	time.Sleep(50 * time.Millisecond)
	close(release)
	wg.Wait()

	if got := runs.Load(); got != 1 {
		t.Errorf("fn ran %d times, want 1", got)
	}
	for i := range callers {
		if errs[i] != nil || results[i].Path != results[0].Path {
			t.Errorf("caller %d: %v, %v", i, results[i], errs[i])
		}
	}
}

func TestDo_WaiterCancel(t *testing.T) {
	s := testStore(t)
	k := key("slow")
	block := make(chan struct{})
	defer close(block)

	go s.Do(context.Background(), k, func(context.Context) (*Entry, error) {
		<-block
		return nil, errors.New("never")
	})
	time.Sleep(10 * time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if _, _, err := s.Do(ctx, k, nil); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Do() = %v, want deadline exceeded", err)
	}
}

func TestListVerifyClear(t *testing.T) {
	ctx := context.Background()
	s := testStore(t)
	a, _ := s.Put(ctx, key("a"), []byte("aaa"), meta)
	b, _ := s.Put(ctx, key("b"), []byte("bbb"), meta)
	os.WriteFile(b.Path, []byte("BBB"), 0o644)

	entries, corrupt, err := s.List()
	if err != nil || len(entries) != 2 || len(corrupt) != 0 {
		t.Fatalf("List() = %d entries, %v corrupt, %v", len(entries), corrupt, err)
	}

	if err := s.Verify(ctx, a.Key); err != nil {
		t.Errorf("Verify(a) = %v", err)
	}
	if err := s.Verify(ctx, b.Key); !lerrors.Is(err, lerrors.ErrCodeCacheCorruption) {
		t.Errorf("Verify(tampered b) = %v, want CACHE_CORRUPTION", err)
	}

	if err := s.Remove(a.Key); err != nil {
		t.Fatal(err)
	}
	if err := s.Clear(); err != nil {
		t.Fatal(err)
	}
	if entries, _, _ := s.List(); len(entries) != 0 {
		t.Errorf("List() after Clear = %d entries", len(entries))
	}
}
