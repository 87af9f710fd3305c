package membership

import (
    "bytes"
    "encoding/json"
    "fmt"
    "math"
    "sort"
)

// Kind identifies which variant a Value holds.
type Kind uint8

const (
    KindInvalid Kind = iota
    KindString
    KindNumber
    KindBool
    KindList
    KindMap
)

func (k Kind) String() string {
    switch k {
    case KindString:
        return "string"
    case KindNumber:
        return "number"
    case KindBool:
        return "bool"
    case KindList:
        return "list"
    case KindMap:
        return "map"
    default:
        return "invalid"
    }
}

// Value is a JSON-compatible metadata value: a string, number, bool, list or
// map. The zero Value is invalid and cannot be encoded.
type Value struct {
    kind Kind
    str  string
    num  float64
    b    bool
    list []Value
    m    map[string]Value
}

func String(s string) Value  { return Value{kind: KindString, str: s} }
func Number(f float64) Value { return Value{kind: KindNumber, num: f} }
func Int(i int64) Value      { return Value{kind: KindNumber, num: float64(i)} }
func Bool(b bool) Value      { return Value{kind: KindBool, b: b} }

func List(vs ...Value) Value {
    out := make([]Value, len(vs))
    copy(out, vs)
    return Value{kind: KindList, list: out}
}

func Map(m map[string]Value) Value {
    out := make(map[string]Value, len(m))
    for k, v := range m { out[k] = v }
    return Value{kind: KindMap, m: out}
}

func (v Value) Kind() Kind { return v.kind }

func (v Value) Str() (string, bool)  { return v.str, v.kind == KindString }
func (v Value) Num() (float64, bool) { return v.num, v.kind == KindNumber }
func (v Value) Boolean() (bool, bool) { return v.b, v.kind == KindBool }

// Items returns a copy of the list elements.
func (v Value) Items() ([]Value, bool) {
    if v.kind != KindList { return nil, false }
    return List(v.list...).list, true
}

// Fields returns a copy of the map entries.
func (v Value) Fields() (map[string]Value, bool) {
    if v.kind != KindMap { return nil, false }
    return Map(v.m).m, true
}

// Clone returns a deep copy.
func (v Value) Clone() Value {
    switch v.kind {
    case KindList:
        out := make([]Value, len(v.list))
        for i, e := range v.list { out[i] = e.Clone() }
        return Value{kind: KindList, list: out}
    case KindMap:
        out := make(map[string]Value, len(v.m))
        for k, e := range v.m { out[k] = e.Clone() }
        return Value{kind: KindMap, m: out}
    }
    return v
}

// Equal reports deep equality.
func (v Value) Equal(o Value) bool {
    if v.kind != o.kind { return false }
    switch v.kind {
    case KindString:
        return v.str == o.str
    case KindNumber:
        return v.num == o.num
    case KindBool:
        return v.b == o.b
    case KindList:
        if len(v.list) != len(o.list) { return false }
        for i := range v.list {
            if !v.list[i].Equal(o.list[i]) { return false }
        }
        return true
    case KindMap:
        if len(v.m) != len(o.m) { return false }
        for k, e := range v.m {
            oe, ok := o.m[k]
            if !ok || !e.Equal(oe) { return false }
        }
        return true
    }
    return true
}

// Any converts v to plain Go values (string, float64, bool, []any, map[string]any).
func (v Value) Any() any {
    switch v.kind {
    case KindString:
        return v.str
    case KindNumber:
        return v.num
    case KindBool:
        return v.b
    case KindList:
        out := make([]any, len(v.list))
        for i, e := range v.list { out[i] = e.Any() }
        return out
    case KindMap:
        out := make(map[string]any, len(v.m))
        for k, e := range v.m { out[k] = e.Any() }
        return out
    }
    return nil
}

// FromAny converts decoded JSON or plain Go values into a Value. nil is rejected.
func FromAny(x any) (Value, error) {
    switch t := x.(type) {
    case Value:
        if t.kind == KindInvalid { return Value{}, fmt.Errorf("membership: invalid metadata value") }
        return t.Clone(), nil
    case string:
        return String(t), nil
    case bool:
        return Bool(t), nil
    case float64:
        return Number(t), nil
    case float32:
        return Number(float64(t)), nil
    case int:
        return Int(int64(t)), nil
    case int32:
        return Int(int64(t)), nil
    case int64:
        return Int(t), nil
    case uint:
        return Number(float64(t)), nil
    case uint32:
        return Number(float64(t)), nil
    case uint64:
        return Number(float64(t)), nil
    case json.Number:
        f, err := t.Float64()
        if err != nil { return Value{}, fmt.Errorf("membership: bad number %q: %w", t, err) }
        return Number(f), nil
    case []any:
        out := make([]Value, len(t))
        for i, e := range t {
            ev, err := FromAny(e)
            if err != nil { return Value{}, err }
            out[i] = ev
        }
        return Value{kind: KindList, list: out}, nil
    case []string:
        out := make([]Value, len(t))
        for i, e := range t { out[i] = String(e) }
        return Value{kind: KindList, list: out}, nil
    case map[string]any:
        out := make(map[string]Value, len(t))
        for k, e := range t {
            ev, err := FromAny(e)
            if err != nil { return Value{}, fmt.Errorf("%s: %w", k, err) }
            out[k] = ev
        }
        return Value{kind: KindMap, m: out}, nil
    case map[string]string:
        out := make(map[string]Value, len(t))
        for k, e := range t { out[k] = String(e) }
        return Value{kind: KindMap, m: out}, nil
    case nil:
        return Value{}, fmt.Errorf("membership: null metadata values are not allowed")
    }
    return Value{}, fmt.Errorf("membership: unsupported metadata value of type %T", x)
}

func (v Value) MarshalJSON() ([]byte, error) {
    switch v.kind {
    case KindString:
        return json.Marshal(v.str)
    case KindNumber:
        if math.IsNaN(v.num) || math.IsInf(v.num, 0) {
            return nil, fmt.Errorf("membership: number %v is not representable in JSON", v.num)
        }
        return json.Marshal(v.num)
    case KindBool:
        return json.Marshal(v.b)
    case KindList:
        if v.list == nil { return []byte("[]"), nil }
        return json.Marshal(v.list)
    case KindMap:
        if v.m == nil { return []byte("{}"), nil }
        return json.Marshal(v.m)
    }
    return nil, fmt.Errorf("membership: invalid metadata value")
}

func (v *Value) UnmarshalJSON(b []byte) error {
    dec := json.NewDecoder(bytes.NewReader(b))
    dec.UseNumber()
    var raw any
    if err := dec.Decode(&raw); err != nil { return err }
    out, err := FromAny(raw)
    if err != nil { return err }
    *v = out
    return nil
}

// Metadata is the free-form key/value payload a node advertises about itself.
type Metadata map[string]Value

// Clone returns a deep copy. A nil receiver yields an empty, non-nil map.
func (m Metadata) Clone() Metadata {
    out := make(Metadata, len(m))
    for k, v := range m { out[k] = v.Clone() }
    return out
}

func (m Metadata) Equal(o Metadata) bool {
    if len(m) != len(o) { return false }
    for k, v := range m {
        ov, ok := o[k]
        if !ok || !v.Equal(ov) { return false }
    }
    return true
}

// Merge returns a copy of m with every key of patch set (shallow merge).
func (m Metadata) Merge(patch Metadata) Metadata {
    out := m.Clone()
    for k, v := range patch { out[k] = v.Clone() }
    return out
}

// Keys returns the keys in sorted order.
func (m Metadata) Keys() []string {
    keys := make([]string, 0, len(m))
    for k := range m { keys = append(keys, k) }
    sort.Strings(keys)
    return keys
}

// Encode returns the canonical JSON encoding (keys sorted).
func (m Metadata) Encode() ([]byte, error) {
    if m == nil { return []byte("{}"), nil }
    return json.Marshal(map[string]Value(m))
}

// Size is the length in bytes of the canonical JSON encoding.
func (m Metadata) Size() (int, error) {
    b, err := m.Encode()
    if err != nil { return 0, err }
    return len(b), nil
}

// MetadataFromMap converts plain Go values to Metadata.
func MetadataFromMap(in map[string]any) (Metadata, error) {
    out := make(Metadata, len(in))
    for k, x := range in {
        v, err := FromAny(x)
        if err != nil { return nil, fmt.Errorf("metadata key %q: %w", k, err) }
        out[k] = v
    }
    return out, nil
}

// StringMetadata builds Metadata from string pairs.
func StringMetadata(in map[string]string) Metadata {
    out := make(Metadata, len(in))
    for k, v := range in { out[k] = String(v) }
    return out
}
