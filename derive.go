package revcache

import (
	"math"
	"reflect"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"
)

// maxMemoEntries bounds the identity memo. Key derivation stays correct when
// the memo resets; repeated inputs just pay the serialization again.
const maxMemoEntries = 1024

// opaqueSentinel is the canonical key fragment for composite inputs the
// deriver does not understand. Distinct from every other output: strings are
// always quoted, records brace-delimited, sequences bracket-delimited.
const opaqueSentinel = "[opaque]"

// Keyer derives a canonical key fragment for inputs the built-in deriver
// treats as opaque (structs, non-string-keyed maps, ...). See keyer/cborkey
// for a deterministic-encoding implementation.
type Keyer interface {
	Key(input any) (string, error)
}

// DeriveKey converts an arbitrary loader input into its canonical string
// identity. It is total (never panics, never fails) and deterministic:
// structurally equal inputs produce identical keys regardless of map
// iteration order or of nil-valued record keys being present or absent.
//
// Serialization rules:
//   - nil (including nil pointers) -> "null"
//   - strings are quoted, so the empty string stays distinct from nil
//   - numbers via strconv; float NaN/Inf keep their strconv spelling
//   - time.Time by epoch milliseconds, *regexp.Regexp by its textual form
//   - slices/arrays -> "[" + comma-joined elements + "]" (order-sensitive)
//   - string-keyed maps -> "{" + key-sorted `"k":v` pairs + "}", entries with
//     nil values omitted (so {"a": nil} and {} derive the same key)
//   - anything else -> a fixed opaque sentinel
func DeriveKey(input any) string {
	var b strings.Builder
	appendKey(&b, input, nil)
	return b.String()
}

// deriver is the registry-owned key deriver. It adds two things on top of
// DeriveKey: an optional Keyer for opaque composites, and an identity memo
// for pointer-shaped inputs so a loader called repeatedly with the same
// reference skips reserialization. Non-pointer inputs (primitives, maps and
// slices built fresh per call) are not identity-stable and bypass the memo.
type deriver struct {
	opaque Keyer

	mu   sync.Mutex
	memo map[any]string
}

func newDeriver(opaque Keyer) *deriver {
	return &deriver{opaque: opaque, memo: make(map[any]string)}
}

func (d *deriver) key(input any) string {
	memoizable := input != nil && reflect.TypeOf(input).Kind() == reflect.Pointer
	if memoizable {
		d.mu.Lock()
		k, ok := d.memo[input]
		d.mu.Unlock()
		if ok {
			return k
		}
	}

	var b strings.Builder
	appendKey(&b, input, d.opaque)
	k := b.String()

	if memoizable {
		d.mu.Lock()
		if len(d.memo) >= maxMemoEntries {
			d.memo = make(map[any]string)
		}
		d.memo[input] = k
		d.mu.Unlock()
	}
	return k
}

func appendKey(b *strings.Builder, v any, opaque Keyer) {
	if v == nil {
		b.WriteString("null")
		return
	}

	switch x := v.(type) {
	case string:
		b.WriteString(strconv.Quote(x))
		return
	case bool:
		b.WriteString(strconv.FormatBool(x))
		return
	case int:
		b.WriteString(strconv.FormatInt(int64(x), 10))
		return
	case int64:
		b.WriteString(strconv.FormatInt(x, 10))
		return
	case float64:
		appendFloat(b, x)
		return
	case float32:
		appendFloat(b, float64(x))
		return
	case time.Time:
		b.WriteString(strconv.FormatInt(x.UnixMilli(), 10))
		return
	case *regexp.Regexp:
		if x == nil {
			b.WriteString("null")
			return
		}
		b.WriteString(x.String())
		return
	}

	// named primitive types and the remaining composites go through reflect
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.String:
		b.WriteString(strconv.Quote(rv.String()))
	case reflect.Bool:
		b.WriteString(strconv.FormatBool(rv.Bool()))
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		b.WriteString(strconv.FormatInt(rv.Int(), 10))
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
		b.WriteString(strconv.FormatUint(rv.Uint(), 10))
	case reflect.Float32, reflect.Float64:
		appendFloat(b, rv.Float())
	case reflect.Pointer, reflect.Interface:
		if rv.IsNil() {
			b.WriteString("null")
			return
		}
		appendKey(b, rv.Elem().Interface(), opaque)
	case reflect.Slice, reflect.Array:
		b.WriteByte('[')
		for i := 0; i < rv.Len(); i++ {
			if i > 0 {
				b.WriteByte(',')
			}
			appendKey(b, rv.Index(i).Interface(), opaque)
		}
		b.WriteByte(']')
	case reflect.Map:
		if rv.Type().Key().Kind() != reflect.String {
			appendOpaque(b, v, opaque)
			return
		}
		appendRecord(b, rv, opaque)
	default:
		appendOpaque(b, v, opaque)
	}
}

func appendFloat(b *strings.Builder, f float64) {
	if math.IsNaN(f) {
		b.WriteString("NaN")
		return
	}
	b.WriteString(strconv.FormatFloat(f, 'g', -1, 64))
}

// appendRecord serializes a string-keyed map: keys sorted, nil-valued keys
// omitted. Omission makes the cache insensitive to "absent vs explicitly nil".
func appendRecord(b *strings.Builder, rv reflect.Value, opaque Keyer) {
	keys := make([]string, 0, rv.Len())
	vals := make(map[string]any, rv.Len())
	iter := rv.MapRange()
	for iter.Next() {
		ev := iter.Value()
		val := ev.Interface()
		if val == nil || isNilValue(ev) {
			continue
		}
		k := iter.Key().String()
		keys = append(keys, k)
		vals[k] = val
	}
	sort.Strings(keys)

	b.WriteByte('{')
	for i, k := range keys {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(strconv.Quote(k))
		b.WriteByte(':')
		appendKey(b, vals[k], opaque)
	}
	b.WriteByte('}')
}

func isNilValue(v reflect.Value) bool {
	for v.Kind() == reflect.Interface {
		if v.IsNil() {
			return true
		}
		v = v.Elem()
	}
	switch v.Kind() {
	case reflect.Pointer, reflect.Map, reflect.Slice, reflect.Chan, reflect.Func:
		return v.IsNil()
	}
	return false
}

func appendOpaque(b *strings.Builder, v any, opaque Keyer) {
	if opaque != nil {
		if k, err := opaque.Key(v); err == nil {
			b.WriteByte('#')
			b.WriteString(k)
			return
		}
		// Keyer failure degrades to the sentinel; derivation stays total.
	}
	b.WriteString(opaqueSentinel)
}
