package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"hash"
	"io"
	"sort"
	"strconv"
)

// keyBytes is the number of SHA-256 bytes kept in a derived key.
// 16 bytes (32 hex chars) keeps keys short and file-name safe.
const keyBytes = 16

// Arg is a keyword-style argument. Named arguments are order-normalized:
// DeriveKey sorts them by Name, so callers may pass them in any order.
type Arg struct {
	Name  string
	Value any
}

// Named builds a keyword-style argument for DeriveKey and Wrap.
func Named(name string, value any) Arg { return Arg{Name: name, Value: value} }

// DeriveKey returns the deterministic cache key for a logical call.
//
// Positional args keep their order; Arg values are sorted by name, then
// by rendered value.
// Each value is rendered with its dynamic type and Go-syntax representation
// (fmt prints map keys in sorted order), so 1, int64(1), 1.0 and "1"
// all produce different keys. Pass values rather than pointers: a
// pointer renders as its address.
func DeriveKey(identity string, args []any) string {
	h := sha256.New()
	writeField(h, "id", identity)

	type field struct{ name, value string }
	var named []field
	pos := 0
	for _, a := range args {
		if n, ok := a.(Arg); ok {
			named = append(named, field{n.Name, render(n.Value)})
			continue
		}
		writeField(h, "p"+strconv.Itoa(pos), render(a))
		pos++
	}

	// Repeated names are ordered by value so the key never depends on
	// argument order.
	sort.Slice(named, func(i, j int) bool {
		if named[i].name != named[j].name {
			return named[i].name < named[j].name
		}
		return named[i].value < named[j].value
	})
	for _, n := range named {
		writeField(h, "k:"+n.name, n.value)
	}

	sum := h.Sum(nil)
	return hex.EncodeToString(sum[:keyBytes])
}

// writeField writes a length-prefixed label/value pair so that adjacent
// fields can never run into each other ("ab"+"c" vs "a"+"bc").
func writeField(h hash.Hash, label, value string) {
	_, _ = io.WriteString(h, strconv.Itoa(len(label)))
	_, _ = io.WriteString(h, ":")
	_, _ = io.WriteString(h, label)
	_, _ = io.WriteString(h, strconv.Itoa(len(value)))
	_, _ = io.WriteString(h, ":")
	_, _ = io.WriteString(h, value)
}

func render(v any) string {
	return fmt.Sprintf("%T|%#v", v, v)
}
