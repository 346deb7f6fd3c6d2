// Package models defines the records formlog writes.
package models

import (
	"strings"
	"time"
)

// TimestampLayout is the local-clock layout that prefixes every line.
const TimestampLayout = "2006-01-02 15:04:05"

// LogLine is one recorded submission: a timestamp and the submitted values
// in encounter order. Field names are not kept.
type LogLine struct {
	Timestamp time.Time
	Fields    []string
}

// NewLogLine creates a LogLine stamped with t.
func NewLogLine(t time.Time, fields []string) *LogLine {
	return &LogLine{
		Timestamp: t,
		Fields:    fields,
	}
}

// FormattedTimestamp returns the timestamp as YYYY-MM-DD HH:MM:SS in the
// timestamp's own location.
func (l *LogLine) FormattedTimestamp() string {
	return l.Timestamp.Format(TimestampLayout)
}

// Encoding selects how field values are written into a line.
type Encoding int

const (
	// EncodingRaw joins values verbatim. A value containing a comma adds
	// columns and a value containing a newline splits the record.
	EncodingRaw Encoding = iota
	// EncodingRFC4180 quotes values that contain separators, quotes or
	// line breaks and doubles embedded quotes.
	EncodingRFC4180
)

// formulaTriggers are the leading characters spreadsheets evaluate.
const formulaTriggers = "=+-@\t\r"

// Encoder serializes LogLines into CSV records.
type Encoder struct {
	Encoding Encoding
	// NeutralizeFormulas prefixes values that start with a formula trigger
	// with a single quote. Only applied with EncodingRFC4180.
	NeutralizeFormulas bool
}

// Encode renders line as "timestamp,value1,...,valueN\n".
func (e Encoder) Encode(line *LogLine) []byte {
	var b strings.Builder
	b.WriteString(line.FormattedTimestamp())
	for _, v := range line.Fields {
		b.WriteByte(',')
		if e.Encoding == EncodingRFC4180 {
			if e.NeutralizeFormulas {
				v = neutralize(v)
			}
			writeQuoted(&b, v)
			continue
		}
		b.WriteString(v)
	}
	b.WriteByte('\n')
	return []byte(b.String())
}

func neutralize(v string) string {
	if v != "" && strings.ContainsRune(formulaTriggers, rune(v[0])) {
		return "'" + v
	}
	return v
}

func writeQuoted(b *strings.Builder, v string) {
	if !strings.ContainsAny(v, ",\"\r\n") && !strings.HasPrefix(v, " ") {
		b.WriteString(v)
		return
	}
	b.WriteByte('"')
	b.WriteString(strings.ReplaceAll(v, `"`, `""`))
	b.WriteByte('"')
}
