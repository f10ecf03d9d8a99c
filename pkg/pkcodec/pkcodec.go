// Package pkcodec decodes the packed primary-key and single-value blobs
// carried on a change record and holds the literal quoters (Quote,
// QuoteBytes) through which raw values are turned into SQL literal text.
//
// The merge engine composes dynamic SQL because table and column names
// vary per CRR and cannot be bound as parameters. Raw values (such as a
// site id) are embedded through Quote/QuoteBytes. Pk and value fields
// arrive already quoted and are embedded as Split returns them; Split
// does not check that a field is a well-formed SQL literal.
package pkcodec

import (
	"strconv"
	"strings"

	"github.com/aphrodite-sh/cf-sqlite/pkg/crrerrors"
)

// Split divides a packed blob into exactly n fields, each already a
// complete SQL literal (e.g. `'alice'`, `123`, `NULL`, `x'0102'`).
// Fields in the wire format are separated by a single 0x00 byte; this
// mirrors the convention used by the virtual-table argv marshaller that
// produces the packed representation (out of scope here, but its output
// is what Split consumes). Split checks the field count and rejects
// empty fields; it does not validate the quoting inside a field.
func Split(packed []byte, n int) ([]string, error) {
	if n <= 0 {
		return nil, crrerrors.NewPkDecodeError("arity must be positive")
	}
	if len(packed) == 0 {
		return nil, crrerrors.NewPkDecodeError("empty packed value")
	}
	parts := strings.Split(string(packed), "\x00")
	if len(parts) != n {
		return nil, crrerrors.NewPkDecodeError(
			"arity mismatch: expected " + strconv.Itoa(n) + " fields, got " + strconv.Itoa(len(parts)))
	}
	for _, p := range parts {
		if p == "" {
			return nil, crrerrors.NewPkDecodeError("malformed empty field in packed value")
		}
	}
	return parts, nil
}

// Decoded holds the three SQL-text forms PkCodec must produce from a
// decoded primary-key tuple (§4.4).
type Decoded struct {
	WhereList      string // `"c1"=v1 AND "c2"=v2 ...`
	ValsStr        string // `v1, v2, ...`
	IdentifierList string // `"c1", "c2", ...`
}

// Decode splits packed against the declared pk arity (len(pkNames)) and
// derives the WHERE predicate, value list, and identifier list used
// throughout the merge sub-protocols.
func Decode(packed []byte, pkNames []string) (Decoded, []string, error) {
	fields, err := Split(packed, len(pkNames))
	if err != nil {
		return Decoded{}, nil, err
	}

	var where, vals, idents strings.Builder
	for i, name := range pkNames {
		if i > 0 {
			where.WriteString(" AND ")
			vals.WriteString(", ")
			idents.WriteString(", ")
		}
		where.WriteByte('"')
		where.WriteString(name)
		where.WriteString(`"=`)
		where.WriteString(fields[i])

		vals.WriteString(fields[i])

		idents.WriteByte('"')
		idents.WriteString(name)
		idents.WriteByte('"')
	}

	return Decoded{
		WhereList:      where.String(),
		ValsStr:        vals.String(),
		IdentifierList: idents.String(),
	}, fields, nil
}

// Quote escapes a raw string value and wraps it as an SQL string literal.
// The merge path itself never calls this: pk and value fields arrive on
// the wire already split and quoted (Split, Decode), since the virtual-
// table argv marshaller — out of scope here — owns that quoting step.
// Quote exists for collaborators that hand PkCodec raw values instead of
// pre-quoted fragments (e.g. a future local-write path assembling a
// change record before it is packed), so the escape boundary has
// exactly one implementation rather than being re-derived at each call
// site.
func Quote(s string) string {
	var b strings.Builder
	b.Grow(len(s) + 2)
	b.WriteByte('\'')
	escapeInto(&b, s)
	b.WriteByte('\'')
	return b.String()
}

// QuoteBytes escapes a raw byte value and wraps it as an SQL blob
// literal (x'...' form).
func QuoteBytes(v []byte) string {
	if v == nil {
		return "NULL"
	}
	var b strings.Builder
	b.Grow(len(v)*2 + 3)
	b.WriteString("x'")
	const hex = "0123456789abcdef"
	for _, c := range v {
		b.WriteByte(hex[c>>4])
		b.WriteByte(hex[c&0x0f])
	}
	b.WriteByte('\'')
	return b.String()
}

// QuoteIdentifierList renders a column name list as a comma-separated,
// double-quoted identifier list, e.g. `"tenant", "name"`.
func QuoteIdentifierList(names []string) string {
	var b strings.Builder
	for i, n := range names {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteByte('"')
		b.WriteString(n)
		b.WriteByte('"')
	}
	return b.String()
}

// escapeInto backslash-escapes characters that are meaningful inside an
// SQL string literal, the same set guarded by the engine's SQL-building
// helpers: NUL, newline, carriage return, backslash, single quote,
// double quote, and 0x1a.
func escapeInto(b *strings.Builder, s string) {
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch c {
		case 0:
			b.WriteString(`\0`)
		case '\n':
			b.WriteString(`\n`)
		case '\r':
			b.WriteString(`\r`)
		case '\\':
			b.WriteString(`\\`)
		case '\'':
			b.WriteString(`\'`)
		case '"':
			b.WriteString(`\"`)
		case 0x1a:
			b.WriteString(`\Z`)
		default:
			b.WriteByte(c)
		}
	}
}
