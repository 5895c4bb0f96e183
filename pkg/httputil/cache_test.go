package httputil

import (
	"errors"
	"os"
	"testing"
	"time"
)

func TestCache_GetSet(t *testing.T) {
	c, _ := NewCache(t.TempDir(), time.Hour)

	want := map[string]string{"group": "com.example", "artifact": "lib"}
	if err := c.Set("pom:com.example:lib:1.0", want); err != nil {
		t.Fatalf("Set() failed: %v", err)
	}

	var got map[string]string
	ok, err := c.Get("pom:com.example:lib:1.0", &got)
	if err != nil || !ok {
		t.Fatalf("Get() = %v, %v; want true, nil", ok, err)
	}
	if got["artifact"] != "lib" {
		t.Errorf("got %v, want %v", got, want)
	}
}

func TestCache_Bytes(t *testing.T) {
	c, _ := NewCache(t.TempDir(), 0)

	pom := []byte("<project><artifactId>lib</artifactId></project>")
	if err := c.SetBytes("k", pom); err != nil {
		t.Fatalf("SetBytes() failed: %v", err)
	}
	data, ok, err := c.GetBytes("k")
	if err != nil || !ok {
		t.Fatalf("GetBytes() = %v, %v", ok, err)
	}
	if string(data) != string(pom) {
		t.Errorf("GetBytes() = %q, want %q", data, pom)
	}

	entries, _ := os.ReadDir(c.Dir())
	if len(entries) != 1 {
		t.Errorf("expected exactly one file after atomic write, got %d", len(entries))
	}
}

func TestCache_Miss(t *testing.T) {
	c, _ := NewCache(t.TempDir(), time.Hour)
	var result string
	ok, err := c.Get("missing", &result)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ok {
		t.Error("Get() returned true for missing key")
	}
}

func TestCache_Expiration(t *testing.T) {
	c, _ := NewCache(t.TempDir(), 10*time.Millisecond)

	if err := c.SetBytes("key", []byte("value")); err != nil {
		t.Fatalf("SetBytes() failed: %v", err)
	}

	time.Sleep(20 * time.Millisecond)

	_, ok, err := c.GetBytes("key")
	if !errors.Is(err, ErrExpired) {
		t.Errorf("got error %v, want ErrExpired", err)
	}
	if ok {
		t.Error("expired entry reported as hit")
	}

	if _, ok, err := c.WithTTL(0).GetBytes("key"); !ok || err != nil {
		t.Errorf("WithTTL(0).GetBytes() = %v, %v; want hit", ok, err)
	}
}

func TestCache_Namespace(t *testing.T) {
	c, _ := NewCache(t.TempDir(), time.Hour)
	poms := c.Namespace("pom:")
	meta := c.Namespace("metadata:")

	if err := poms.SetBytes("g:a:1", []byte("pom")); err != nil {
		t.Fatal(err)
	}
	if _, ok, _ := meta.GetBytes("g:a:1"); ok {
		t.Error("namespaces should not share keys")
	}
	if _, ok, _ := c.GetBytes("pom:g:a:1"); !ok {
		t.Error("namespaced key should be visible with its prefix")
	}
}

func TestNewCache_RequiresDir(t *testing.T) {
	if _, err := NewCache("", time.Hour); err == nil {
		t.Error("NewCache(\"\") should fail")
	}
}
