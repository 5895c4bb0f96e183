// Package jartest builds small jars and class files for tests.
package jartest

import (
	"archive/zip"
	"bytes"
	"encoding/binary"
	"io"
	"testing"
	"time"
)

// Entry is one file in a jar.
type Entry struct {
	Name string
	Data []byte
}

// Class returns a minimal class file named name (internal form) extending
// java/lang/Object. Each ref becomes a class constant, and each literal a
// string constant.
func Class(name string, refs []string, literals ...string) []byte {
	var pool bytes.Buffer
	count := 1
	utf8 := func(s string) int {
		pool.WriteByte(1)
		binary.Write(&pool, binary.BigEndian, uint16(len(s)))
		pool.WriteString(s)
		count++
		return count - 1
	}
	ref := func(tag byte, idx int) int {
		pool.WriteByte(tag)
		binary.Write(&pool, binary.BigEndian, uint16(idx))
		count++
		return count - 1
	}

	this := ref(7, utf8(name))
	super := ref(7, utf8("java/lang/Object"))
	for _, r := range refs {
		ref(7, utf8(r))
	}
	for _, l := range literals {
		ref(8, utf8(l))
	}

	var out bytes.Buffer
	binary.Write(&out, binary.BigEndian, uint32(0xCAFEBABE))
	binary.Write(&out, binary.BigEndian, uint16(0))
	binary.Write(&out, binary.BigEndian, uint16(52))
	binary.Write(&out, binary.BigEndian, uint16(count))
	out.Write(pool.Bytes())
	for _, v := range []int{0x21, this, super, 0, 0, 0, 0} {
		binary.Write(&out, binary.BigEndian, uint16(v))
	}
	return out.Bytes()
}

// Jar zips entries in order with a fixed timestamp.
func Jar(t testing.TB, entries ...Entry) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for _, e := range entries {
		w, err := zw.CreateHeader(&zip.FileHeader{
			Name:     e.Name,
			Method:   zip.Deflate,
			Modified: time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC),
		})
		if err != nil {
			t.Fatalf("jartest: create %s: %v", e.Name, err)
		}
		if _, err := w.Write(e.Data); err != nil {
			t.Fatalf("jartest: write %s: %v", e.Name, err)
		}
	}
	if err := zw.Close(); err != nil {
		t.Fatalf("jartest: close: %v", err)
	}
	return buf.Bytes()
}

// Read unzips data into name -> content, preserving nothing but names and
// bytes. Order is returned separately.
func Read(t testing.TB, data []byte) (map[string][]byte, []string) {
	t.Helper()
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		t.Fatalf("jartest: open: %v", err)
	}
	files := make(map[string][]byte, len(zr.File))
	var order []string
	for _, f := range zr.File {
		rc, err := f.Open()
		if err != nil {
			t.Fatalf("jartest: open %s: %v", f.Name, err)
		}
		b, err := io.ReadAll(rc)
		rc.Close()
		if err != nil {
			t.Fatalf("jartest: read %s: %v", f.Name, err)
		}
		files[f.Name] = b
		order = append(order, f.Name)
	}
	return files, order
}
