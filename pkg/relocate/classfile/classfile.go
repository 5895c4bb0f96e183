// Package classfile rewrites the symbolic references in a JVM class file.
//
// Only the constant pool is decoded. Every reference a class makes to
// another type lives in a CONSTANT_Utf8 entry, so renaming a package means
// rewriting those strings and re-encoding their lengths. Pool indices never
// change, which is why the bytes after the pool (fields, methods, code,
// attributes) can be copied verbatim.
package classfile

import (
	"encoding/binary"
	"errors"
	"fmt"
	"regexp"
)

const magic = 0xCAFEBABE

// Constant pool tags.
const (
	tagUtf8               = 1
	tagInteger            = 3
	tagFloat              = 4
	tagLong               = 5
	tagDouble             = 6
	tagClass              = 7
	tagString             = 8
	tagFieldref           = 9
	tagMethodref          = 10
	tagInterfaceMethodref = 11
	tagNameAndType        = 12
	tagMethodHandle       = 15
	tagMethodType         = 16
	tagDynamic            = 17
	tagInvokeDynamic      = 18
	tagModule             = 19
	tagPackage            = 20
)

var (
	ErrNotClass  = errors.New("classfile: bad magic")
	ErrTruncated = errors.New("classfile: truncated constant pool")
)

// Mapper renames types.
type Mapper interface {
	// Map returns the new internal name (slash form) for a class, or the
	// input unchanged.
	Map(internalName string) string
	// MapValue rewrites a string constant that names a class or resource,
	// in dotted or slash form, or returns it unchanged.
	MapValue(s string) string
}

// usage records how the pool refers to a Utf8 entry.
type usage uint8

const (
	useOther usage = iota
	useClass
	useString
	useDescriptor
	usePackage
)

type entry struct {
	tag  byte
	data []byte // payload after the tag; for Utf8 the bytes without the length
}

// Rewrite returns data with every type reference passed through m. The
// boolean reports whether anything changed; when false the input slice is
// returned as is.
func Rewrite(data []byte, m Mapper) ([]byte, bool, error) {
	if len(data) < 10 || binary.BigEndian.Uint32(data) != magic {
		return nil, false, ErrNotClass
	}
	count := int(binary.BigEndian.Uint16(data[8:]))
	pool, end, err := parsePool(data, count)
	if err != nil {
		return nil, false, err
	}

	uses := classify(pool)
	changed := false
	for i := range pool {
		e := &pool[i]
		if e.tag != tagUtf8 {
			continue
		}
		s := string(e.data)
		var out string
		switch uses[i] {
		case useClass:
			if len(s) > 0 && s[0] == '[' {
				out = mapDescriptor(s, m)
			} else {
				out = m.Map(s)
			}
		case usePackage:
			out = m.Map(s)
		case useString:
			out = m.MapValue(s)
		case useDescriptor:
			out = mapDescriptor(s, m)
		default:
			// Member descriptors and signatures are referenced from
			// outside the pool. Only their type tokens change; member and
			// attribute names stay as they are.
			out = mapDescriptor(s, m)
		}
		if out != s {
			if len(out) > 0xFFFF {
				return nil, false, fmt.Errorf("classfile: constant #%d too long after relocation", i)
			}
			e.data = []byte(out)
			changed = true
		}
	}
	if !changed {
		return data, false, nil
	}

	buf := make([]byte, 0, len(data)+256)
	buf = append(buf, data[:10]...)
	for _, e := range pool {
		if e.tag == 0 {
			continue
		}
		buf = append(buf, e.tag)
		if e.tag == tagUtf8 {
			buf = binary.BigEndian.AppendUint16(buf, uint16(len(e.data)))
		}
		buf = append(buf, e.data...)
	}
	buf = append(buf, data[end:]...)
	return buf, true, nil
}

// ClassName returns the internal name of the class defined by data.
func ClassName(data []byte) (string, error) {
	if len(data) < 10 || binary.BigEndian.Uint32(data) != magic {
		return "", ErrNotClass
	}
	pool, end, err := parsePool(data, int(binary.BigEndian.Uint16(data[8:])))
	if err != nil {
		return "", err
	}
	if len(data) < end+4 {
		return "", ErrTruncated
	}
	this := int(binary.BigEndian.Uint16(data[end+2:]))
	if this <= 0 || this >= len(pool) || pool[this].tag != tagClass {
		return "", fmt.Errorf("classfile: this_class #%d is not a class constant", this)
	}
	name := int(binary.BigEndian.Uint16(pool[this].data))
	if name <= 0 || name >= len(pool) || pool[name].tag != tagUtf8 {
		return "", fmt.Errorf("classfile: class name #%d is not utf8", name)
	}
	return string(pool[name].data), nil
}

// parsePool decodes entries 1..count-1. Index 0 and the slot after a long
// or double are left with tag 0. It returns the offset of the first byte
// after the pool.
func parsePool(data []byte, count int) ([]entry, int, error) {
	pool := make([]entry, count)
	off := 10
	for i := 1; i < count; i++ {
		if off >= len(data) {
			return nil, 0, ErrTruncated
		}
		tag := data[off]
		off++
		var size int
		switch tag {
		case tagUtf8:
			if off+2 > len(data) {
				return nil, 0, ErrTruncated
			}
			n := int(binary.BigEndian.Uint16(data[off:]))
			off += 2
			if off+n > len(data) {
				return nil, 0, ErrTruncated
			}
			pool[i] = entry{tag: tag, data: data[off : off+n]}
			off += n
			continue
		case tagClass, tagString, tagMethodType, tagModule, tagPackage:
			size = 2
		case tagMethodHandle:
			size = 3
		case tagInteger, tagFloat, tagFieldref, tagMethodref, tagInterfaceMethodref,
			tagNameAndType, tagDynamic, tagInvokeDynamic:
			size = 4
		case tagLong, tagDouble:
			size = 8
		default:
			return nil, 0, fmt.Errorf("classfile: unknown constant tag %d at #%d", tag, i)
		}
		if off+size > len(data) {
			return nil, 0, ErrTruncated
		}
		pool[i] = entry{tag: tag, data: data[off : off+size]}
		off += size
		if tag == tagLong || tag == tagDouble {
			i++
		}
	}
	return pool, off, nil
}

func classify(pool []entry) []usage {
	uses := make([]usage, len(pool))
	mark := func(idx int, u usage) {
		if idx > 0 && idx < len(pool) && pool[idx].tag == tagUtf8 && uses[idx] == useOther {
			uses[idx] = u
		}
	}
	for _, e := range pool {
		switch e.tag {
		case tagClass:
			mark(int(binary.BigEndian.Uint16(e.data)), useClass)
		case tagString:
			mark(int(binary.BigEndian.Uint16(e.data)), useString)
		case tagMethodType:
			mark(int(binary.BigEndian.Uint16(e.data)), useDescriptor)
		case tagNameAndType:
			mark(int(binary.BigEndian.Uint16(e.data[2:])), useDescriptor)
		case tagPackage:
			mark(int(binary.BigEndian.Uint16(e.data)), usePackage)
		}
	}
	return uses
}

var typeToken = regexp.MustCompile(`L([A-Za-z0-9_$/\-]+)([;<])`)

// mapDescriptor rewrites every object type token in a field, method or
// generic signature.
func mapDescriptor(s string, m Mapper) string {
	return typeToken.ReplaceAllStringFunc(s, func(tok string) string {
		name := tok[1 : len(tok)-1]
		return "L" + m.Map(name) + tok[len(tok)-1:]
	})
}
