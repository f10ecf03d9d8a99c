package pkcodec

import (
	"strings"
	"testing"
)

func packed(fields ...string) []byte {
	return []byte(strings.Join(fields, "\x00"))
}

func TestSplit(t *testing.T) {
	got, err := Split(packed("1", "'bob'"), 2)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := []string{"1", "'bob'"}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("field %d = %q, want %q", i, got[i], want[i])
		}
	}
}

func TestSplit_ArityMismatch(t *testing.T) {
	_, err := Split(packed("1"), 2)
	if err == nil {
		t.Fatal("expected arity mismatch error")
	}
}

func TestSplit_EmptyField(t *testing.T) {
	_, err := Split(packed("1", ""), 2)
	if err == nil {
		t.Fatal("expected malformed field error")
	}
}

func TestSplit_EmptyPacked(t *testing.T) {
	_, err := Split(nil, 1)
	if err == nil {
		t.Fatal("expected empty packed value error")
	}
}

func TestDecode_SingleColumnPK(t *testing.T) {
	d, fields, err := Decode(packed("1"), []string{"id"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if d.WhereList != `"id"=1` {
		t.Fatalf("WhereList = %q", d.WhereList)
	}
	if d.ValsStr != "1" {
		t.Fatalf("ValsStr = %q", d.ValsStr)
	}
	if d.IdentifierList != `"id"` {
		t.Fatalf("IdentifierList = %q", d.IdentifierList)
	}
	if fields[0] != "1" {
		t.Fatalf("fields[0] = %q", fields[0])
	}
}

func TestDecode_CompositePK(t *testing.T) {
	d, _, err := Decode(packed("1", "'a'"), []string{"tenant", "name"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if d.WhereList != `"tenant"=1 AND "name"='a'` {
		t.Fatalf("WhereList = %q", d.WhereList)
	}
	if d.ValsStr != "1, 'a'" {
		t.Fatalf("ValsStr = %q", d.ValsStr)
	}
	if d.IdentifierList != `"tenant", "name"` {
		t.Fatalf("IdentifierList = %q", d.IdentifierList)
	}
}

func TestQuote_EscapesSpecialCharacters(t *testing.T) {
	got := Quote("o'brien\n\\end")
	want := `'o\'brien\n\\end'`
	if got != want {
		t.Fatalf("Quote = %q, want %q", got, want)
	}
}

func TestQuoteIdentifierList(t *testing.T) {
	got := QuoteIdentifierList([]string{"tenant", "name"})
	if got != `"tenant", "name"` {
		t.Fatalf("QuoteIdentifierList = %q", got)
	}
}

func TestQuoteBytes(t *testing.T) {
	if got := QuoteBytes(nil); got != "NULL" {
		t.Fatalf("QuoteBytes(nil) = %q", got)
	}
	if got := QuoteBytes([]byte{0x01, 0xff}); got != "x'01ff'" {
		t.Fatalf("QuoteBytes = %q", got)
	}
}
