// Package record implements the spool message record format: plain text,
// one "key = value" field per line, with repeatable destination and command
// keys and free-text comment lines.
package record

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
)

// Recognized field keys.
const (
	KeyCreated  = "created"
	KeySrcHost  = "src_host"
	KeyDstHost  = "dst_host"
	KeyCmd      = "cmd"
	KeyComments = "comments"
)

// ErrUnreadable is returned when a record file cannot be opened or read.
var ErrUnreadable = errors.New("unreadable record")

// Field is one passthrough key/value pair not interpreted by the dispatcher.
type Field struct {
	Key   string
	Value string
}

// Record is one unit of work. DstHosts order is priority order for the
// failover routing; Commands run in sequence for local execution.
type Record struct {
	Created  string
	SrcHost  string
	DstHosts []string
	Commands []string
	Comments []string
	Other    []Field // unknown keys, first-seen order, last write wins
}

// SetOther stores an unknown key, overwriting a prior value for the same key
// while keeping its original position.
func (r *Record) SetOther(key, value string) {
	for i := range r.Other {
		if r.Other[i].Key == key {
			r.Other[i].Value = value
			return
		}
	}
	r.Other = append(r.Other, Field{Key: key, Value: value})
}

// GetOther returns the stored value for an unknown key.
func (r *Record) GetOther(key string) (string, bool) {
	for i := range r.Other {
		if r.Other[i].Key == key {
			return r.Other[i].Value, true
		}
	}
	return "", false
}

// NormalizeHost maps localhost spellings to the daemon's own hostname.
// Comparison is case-insensitive.
func NormalizeHost(host, localHost string) string {
	switch strings.ToLower(host) {
	case "localhost", "127.0.0.1":
		return localHost
	}
	return host
}

// ParseFile reads the record at path. localHost is substituted for
// localhost/127.0.0.1 destinations. The only failure mode is an unreadable
// file; a file with zero fields is a valid all-comments record.
func ParseFile(path, localHost string) (*Record, error) {
	f, err := os.Open(path) // #nosec G304 -- spool paths come from the store
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnreadable, err)
	}
	defer func() { _ = f.Close() }()
	rec, err := Parse(f, localHost)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnreadable, err)
	}
	return rec, nil
}

// Parse reads a record from r. A line with no '=' separator is kept verbatim
// as a comment. Repeated dst_host/cmd keys append; any other repeated key
// overwrites (last write wins).
func Parse(r io.Reader, localHost string) (*Record, error) {
	rec := &Record{}
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		line := sc.Text()
		key, value, ok := strings.Cut(line, "=")
		if !ok {
			rec.Comments = append(rec.Comments, line)
			continue
		}
		key = strings.TrimSpace(key)
		value = strings.TrimSpace(value)
		switch key {
		case KeyCreated:
			rec.Created = value
		case KeySrcHost:
			rec.SrcHost = value
		case KeyDstHost:
			rec.DstHosts = append(rec.DstHosts, NormalizeHost(value, localHost))
		case KeyCmd:
			rec.Commands = append(rec.Commands, value)
		case KeyComments:
			rec.Comments = append(rec.Comments, strings.ReplaceAll(value, "=", ""))
		default:
			rec.SetOther(key, value)
		}
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	return rec, nil
}

// Marshal serializes the record to its on-disk form. Sequence fields emit one
// line per element in order; comments are emitted as raw lines with any '='
// stripped so they cannot be mistaken for fields on re-parse.
func (r *Record) Marshal() []byte {
	var b bytes.Buffer
	if r.Created != "" {
		writeField(&b, KeyCreated, r.Created)
	}
	if r.SrcHost != "" {
		writeField(&b, KeySrcHost, r.SrcHost)
	}
	for _, h := range r.DstHosts {
		writeField(&b, KeyDstHost, h)
	}
	for _, c := range r.Commands {
		writeField(&b, KeyCmd, c)
	}
	for _, f := range r.Other {
		writeField(&b, f.Key, f.Value)
	}
	for _, c := range r.Comments {
		b.WriteString(strings.ReplaceAll(c, "=", ""))
		b.WriteByte('\n')
	}
	return b.Bytes()
}

func writeField(b *bytes.Buffer, key, value string) {
	b.WriteString(key)
	b.WriteString(" = ")
	b.WriteString(value)
	b.WriteByte('\n')
}
