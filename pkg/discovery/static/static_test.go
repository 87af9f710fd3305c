package static

import (
    "context"
    "testing"
)

func TestParse(t *testing.T) {
    cases := []struct {
        in   string
        want []string
    }{
        {"", nil},
        {"a:7946", []string{"a:7946"}},
        {" a:7946 , b:7946 ", []string{"a:7946", "b:7946"}},
        {",,a:7946, ,b:7946,", []string{"a:7946", "b:7946"}},
    }
    for _, c := range cases {
        got := Parse(c.in)
        if len(got) != len(c.want) {
            t.Fatalf("len mismatch for %q: got %d want %d", c.in, len(got), len(c.want))
        }
        for i := range got {
            if got[i] != c.want[i] { t.Fatalf("[%q] item %d: got %q want %q", c.in, i, got[i], c.want[i]) }
        }
    }
}

func TestNewReturnsCopy(t *testing.T) {
    d := New(" a:7946 ", "", "b:7946")
    got, err := d.Seeds(context.Background())
    if err != nil { t.Fatal(err) }
    if len(got) != 2 || got[0] != "a:7946" || got[1] != "b:7946" {
        t.Fatalf("unexpected seeds: %#v", got)
    }
    got[0] = "x"
    got2, _ := d.Seeds(context.Background())
    if got2[0] != "a:7946" { t.Fatalf("expected a copy, got %#v", got2) }
}

func TestFromCSVEmpty(t *testing.T) {
    got, err := FromCSV(" , ").Seeds(context.Background())
    if err != nil || len(got) != 0 { t.Fatalf("got %#v, %v", got, err) }
}
