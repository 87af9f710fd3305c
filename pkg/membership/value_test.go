package membership

import (
    "encoding/json"
    "strings"
    "testing"
)

func TestValueJSONRoundTrip(t *testing.T) {
    in := `{"dc":"eu-1","load":0.75,"ready":true,"roles":["cache","api"],"limits":{"cpu":4,"tags":{"tier":"gold"}}}`
    var md Metadata
    if err := json.Unmarshal([]byte(in), &md); err != nil { t.Fatalf("unmarshal: %v", err) }
    if s, ok := md["dc"].Str(); !ok || s != "eu-1" { t.Fatalf("dc=%v", md["dc"]) }
    if n, ok := md["load"].Num(); !ok || n != 0.75 { t.Fatalf("load=%v", md["load"]) }
    if b, ok := md["ready"].Boolean(); !ok || !b { t.Fatalf("ready=%v", md["ready"]) }
    roles, ok := md["roles"].Items()
    if !ok || len(roles) != 2 { t.Fatalf("roles=%v", md["roles"]) }
    limits, ok := md["limits"].Fields()
    if !ok || limits["tags"].Kind() != KindMap { t.Fatalf("limits=%v", md["limits"]) }

    out, err := md.Encode()
    if err != nil { t.Fatalf("encode: %v", err) }
    var again Metadata
    if err := json.Unmarshal(out, &again); err != nil { t.Fatalf("re-unmarshal: %v", err) }
    if !again.Equal(md) { t.Fatalf("round trip mismatch: %s", out) }
}

func TestValueRejectsNull(t *testing.T) {
    var md Metadata
    if err := json.Unmarshal([]byte(`{"a":null}`), &md); err == nil {
        t.Fatalf("expected error for null value")
    }
    if err := json.Unmarshal([]byte(`{"a":[1,null]}`), &md); err == nil {
        t.Fatalf("expected error for nested null")
    }
    if _, err := (Value{}).MarshalJSON(); err == nil {
        t.Fatalf("expected error for zero Value")
    }
}

func TestMetadataEncodeIsCanonical(t *testing.T) {
    a := Metadata{"b": Int(1), "a": String("x")}
    b := Metadata{"a": String("x"), "b": Number(1)}
    ea, _ := a.Encode()
    eb, _ := b.Encode()
    if string(ea) != string(eb) { t.Fatalf("%s != %s", ea, eb) }
    if string(ea) != `{"a":"x","b":1}` { t.Fatalf("unexpected encoding %s", ea) }
    if n, _ := Metadata(nil).Size(); n != 2 { t.Fatalf("empty size=%d", n) }
}

func TestCloneIsDeep(t *testing.T) {
    md := Metadata{"l": List(String("a")), "m": Map(map[string]Value{"k": Bool(true)})}
    c := md.Clone()
    c["l"].list[0] = String("changed")
    c["m"].m["k"] = Bool(false)
    if s, _ := md["l"].list[0].Str(); s != "a" { t.Fatalf("list aliased") }
    if b, _ := md["m"].m["k"].Boolean(); !b { t.Fatalf("map aliased") }
}

func TestFromAny(t *testing.T) {
    md, err := MetadataFromMap(map[string]any{
        "s": "x", "i": 3, "f": 1.5, "b": false,
        "l": []any{"a", 2}, "m": map[string]any{"k": "v"},
    })
    if err != nil { t.Fatalf("from map: %v", err) }
    if len(md) != 6 { t.Fatalf("len=%d", len(md)) }
    if _, err := MetadataFromMap(map[string]any{"bad": struct{}{}}); err == nil ||
        !strings.Contains(err.Error(), "bad") {
        t.Fatalf("expected unsupported type error, got %v", err)
    }
}
