package record

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"io"
	"strings"
	"time"
)

// CanonicalCSV renders the five signed fields as a single canonical CSV
// row: start,end,sip,owner,mdate. This is the exact byte sequence that
// is hashed for signing and re-derived for verification — the signer
// and verifier must use this function and no other serialization path.
func CanonicalCSV(start, end, sip, owner string, mdate time.Time) ([]byte, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	row := []string{start, end, sip, owner, mdate.UTC().Format(ISOLayout)}
	if err := w.Write(row); err != nil {
		return nil, fmt.Errorf("canonicalizing record: %w", err)
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return nil, err
	}
	return bytes.TrimRight(buf.Bytes(), "\r\n"), nil
}

// FullCSVRow renders all six fields (the five signed fields plus Sig),
// the wire format used by the record-exchange adapter's
// get_all/get_since/get_unsigned/receive operations.
func (r Record) FullCSVRow() []string {
	return []string{r.Start, r.End, r.SIP, r.Owner, r.MdateText(), r.Sig}
}

// WriteCSV writes a sequence of records as CSV rows, one per record, in
// the order given. Callers that need a specific order (by start, as
// get_all/get_since require) must sort before calling this.
func WriteCSV(w io.Writer, records []Record) error {
	cw := csv.NewWriter(w)
	for _, r := range records {
		if err := cw.Write(r.FullCSVRow()); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// ParseCSV parses a CSV batch in the wire format produced by FullCSVRow.
// A row must have at least 5 fields (start,end,sip,owner,mdate); the Sig
// field is optional and defaults to empty, matching the original
// parse_csv_data's tolerance for unsigned submissions awaiting signing.
func ParseCSV(r io.Reader) ([]Record, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	rows, err := cr.ReadAll()
	if err != nil {
		return nil, err
	}
	out := make([]Record, 0, len(rows))
	for _, row := range rows {
		if len(row) < 5 {
			return nil, fmt.Errorf("invalid record: %v", row)
		}
		mdate, err := ParseISODateTime(row[4])
		if err != nil {
			return nil, err
		}
		rec := Record{Start: row[0], End: row[1], SIP: row[2], Owner: row[3], Mdate: mdate}
		if len(row) >= 6 {
			rec.Sig = row[5]
		}
		out = append(out, rec)
	}
	return out, nil
}

// ParseISODateTime parses the canonical ISO-8601 form (with or without
// a fractional-second component — a peer on an older clock resolution
// may omit it), matching utils.py's parse_datetime_iso tolerance.
func ParseISODateTime(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, fmt.Errorf("%w: empty mdate", ErrMalformedNumber)
	}
	layouts := []string{
		ISOLayout,
		"2006-01-02T15:04:05.999999",
		"2006-01-02T15:04:05",
	}
	var lastErr error
	for _, layout := range layouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		} else {
			lastErr = err
		}
	}
	return time.Time{}, fmt.Errorf("parsing mdate %q: %w", s, lastErr)
}
