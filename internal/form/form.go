// Package form decodes POST bodies into an ordered list of fields.
//
// net/http's ParseForm returns url.Values, a map, which loses the order the
// client sent fields in. Logged lines keep values in encounter order, so the
// body is decoded here instead.
package form

import (
	"errors"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"net/url"
	"strings"
)

// ArrayValue replaces the value of a bracketed field such as "tags[]".
const ArrayValue = "Array"

// ErrBodyTooLarge is returned when the body exceeds the configured limit.
var ErrBodyTooLarge = errors.New("request body too large")

// Field is a single decoded form field.
type Field struct {
	Name  string
	Value string
}

// Values returns the values of fields in order.
func Values(fields []Field) []string {
	out := make([]string, len(fields))
	for i, f := range fields {
		out[i] = f.Value
	}
	return out
}

// Decoder reads form fields from HTTP requests.
type Decoder struct {
	// MaxBodyBytes caps the body size. Zero or negative means no cap.
	MaxBodyBytes int64
}

// Decode returns the ordered POST fields of r. Requests that are not POST,
// or whose content type is not a form encoding, have no fields.
func (d Decoder) Decode(r *http.Request) ([]Field, error) {
	if r.Method != http.MethodPost || r.Body == nil {
		return nil, nil
	}

	mediaType, params, err := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if err != nil {
		return nil, nil
	}

	switch mediaType {
	case "application/x-www-form-urlencoded":
		body, err := d.readBody(r.Body)
		if err != nil {
			return nil, err
		}
		return ParseURLEncoded(string(body)), nil
	case "multipart/form-data":
		boundary := params["boundary"]
		if boundary == "" {
			return nil, fmt.Errorf("multipart body without boundary")
		}
		return d.decodeMultipart(r.Body, boundary)
	default:
		return nil, nil
	}
}

func (d Decoder) readBody(body io.Reader) ([]byte, error) {
	if d.MaxBodyBytes <= 0 {
		data, err := io.ReadAll(body)
		if err != nil {
			return nil, fmt.Errorf("reading body: %w", err)
		}
		return data, nil
	}

	data, err := io.ReadAll(io.LimitReader(body, d.MaxBodyBytes+1))
	if err != nil {
		return nil, fmt.Errorf("reading body: %w", err)
	}
	if int64(len(data)) > d.MaxBodyBytes {
		return nil, ErrBodyTooLarge
	}
	return data, nil
}

func (d Decoder) decodeMultipart(body io.Reader, boundary string) ([]Field, error) {
	if d.MaxBodyBytes > 0 {
		body = &limitedReader{r: body, n: d.MaxBodyBytes}
	}

	mr := multipart.NewReader(body, boundary)
	b := newBuilder()
	for {
		part, err := mr.NextPart()
		if err == io.EOF {
			break
		}
		if err != nil {
			if errors.Is(err, ErrBodyTooLarge) {
				return nil, ErrBodyTooLarge
			}
			return nil, fmt.Errorf("reading multipart body: %w", err)
		}

		// File uploads are not form values.
		if part.FileName() != "" {
			_ = part.Close()
			continue
		}

		value, err := io.ReadAll(part)
		_ = part.Close()
		if err != nil {
			if errors.Is(err, ErrBodyTooLarge) {
				return nil, ErrBodyTooLarge
			}
			return nil, fmt.Errorf("reading multipart field: %w", err)
		}
		b.add(part.FormName(), string(value))
	}
	return b.fields(), nil
}

// ParseURLEncoded decodes an application/x-www-form-urlencoded body.
//
// Pairs are split on '&' and then on the first '='; a pair without '=' has
// an empty value. Names that are empty after decoding are dropped. A name
// seen again keeps its first position and takes the later value. Bracketed
// names collapse to their base name with the value ArrayValue.
func ParseURLEncoded(body string) []Field {
	b := newBuilder()
	for _, pair := range strings.Split(body, "&") {
		if pair == "" {
			continue
		}
		name, value, _ := strings.Cut(pair, "=")
		b.add(unescape(name), unescape(value))
	}
	return b.fields()
}

func unescape(s string) string {
	if u, err := url.QueryUnescape(s); err == nil {
		return u
	}
	// Malformed escapes are kept as sent, with '+' still meaning space.
	return strings.ReplaceAll(s, "+", " ")
}

// builder accumulates fields, applying the duplicate and bracket rules.
type builder struct {
	order []Field
	index map[string]int
}

func newBuilder() *builder {
	return &builder{index: make(map[string]int)}
}

func (b *builder) add(name, value string) {
	if i := strings.IndexByte(name, '['); i > 0 && strings.Contains(name[i:], "]") {
		name = name[:i]
		value = ArrayValue
	}
	if name == "" || name[0] == '[' {
		return
	}

	if i, ok := b.index[name]; ok {
		b.order[i].Value = value
		return
	}
	b.index[name] = len(b.order)
	b.order = append(b.order, Field{Name: name, Value: value})
}

func (b *builder) fields() []Field {
	if len(b.order) == 0 {
		return nil
	}
	return b.order
}

// limitedReader fails with ErrBodyTooLarge once more than n bytes are read.
type limitedReader struct {
	r io.Reader
	n int64
}

func (l *limitedReader) Read(p []byte) (int, error) {
	if l.n < 0 {
		return 0, ErrBodyTooLarge
	}
	if int64(len(p)) > l.n+1 {
		p = p[:l.n+1]
	}
	n, err := l.r.Read(p)
	l.n -= int64(n)
	if l.n < 0 {
		return n, ErrBodyTooLarge
	}
	return n, err
}
