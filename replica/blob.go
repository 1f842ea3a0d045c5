package replica

import (
	"bufio"
	"bytes"
	"fmt"
	"strings"

	"github.com/freeconet/numbex/record"
)

const (
	hdrStart  = "Range-start"
	hdrEnd    = "Range-end"
	hdrSIP    = "Sip-address"
	hdrOwner  = "Owner"
	hdrMdate  = "Date-modified"
	hdrSig    = "Signature"
	headerSep = ": "
)

// EncodeBlob renders a record as the six-line header block, in fixed
// order.
func EncodeBlob(r record.Record) []byte {
	var buf bytes.Buffer
	fmt.Fprintf(&buf, "%s%s%s\n", hdrStart, headerSep, r.Start)
	fmt.Fprintf(&buf, "%s%s%s\n", hdrEnd, headerSep, r.End)
	fmt.Fprintf(&buf, "%s%s%s\n", hdrSIP, headerSep, r.SIP)
	fmt.Fprintf(&buf, "%s%s%s\n", hdrOwner, headerSep, r.Owner)
	fmt.Fprintf(&buf, "%s%s%s\n", hdrMdate, headerSep, r.MdateText())
	fmt.Fprintf(&buf, "%s%s%s\n", hdrSig, headerSep, r.Sig)
	return buf.Bytes()
}

// DecodeBlob parses a record blob written by EncodeBlob. Header order is
// not required on read, only presence of all six headers.
func DecodeBlob(data []byte) (record.Record, error) {
	fields := map[string]string{}
	sc := bufio.NewScanner(bytes.NewReader(data))
	for sc.Scan() {
		line := sc.Text()
		if line == "" {
			continue
		}
		idx := strings.Index(line, ":")
		if idx < 0 {
			return record.Record{}, fmt.Errorf("malformed record blob line: %q", line)
		}
		key := line[:idx]
		val := strings.TrimPrefix(line[idx+1:], " ")
		fields[key] = val
	}
	if err := sc.Err(); err != nil {
		return record.Record{}, err
	}

	for _, want := range []string{hdrStart, hdrEnd, hdrSIP, hdrOwner, hdrMdate, hdrSig} {
		if _, ok := fields[want]; !ok {
			return record.Record{}, fmt.Errorf("record blob missing header %q", want)
		}
	}

	mdate, err := record.ParseISODateTime(fields[hdrMdate])
	if err != nil {
		return record.Record{}, err
	}

	return record.Record{
		Start: fields[hdrStart],
		End:   fields[hdrEnd],
		SIP:   fields[hdrSIP],
		Owner: fields[hdrOwner],
		Mdate: mdate,
		Sig:   fields[hdrSig],
	}, nil
}
