// Package formparse extracts form fields from HTTP request bodies. It
// supports urlencoded, multipart, and JSON submissions under the size and
// depth constraints the data plane enforces.
package formparse

import (
	"encoding/json"
	"io"
	"mime"
	"net/http"
	"net/url"
	"sort"
	"strings"

	"github.com/tidwall/gjson"

	"github.com/dobrevit/formwaf/internal/werrors"
)

const (
	// DefaultMaxBodyBytes caps the whole request body.
	DefaultMaxBodyBytes = 10 << 20
	// MaxMultipartFieldBytes caps a single multipart field. Exceeding it
	// aborts parsing with a validation error and no partial state.
	MaxMultipartFieldBytes = 1 << 20
	// MaxJSONDepth caps nesting of JSON submissions.
	MaxJSONDepth = 10
)

// Options configures parsing.
type Options struct {
	MaxBodyBytes int64
}

// Form is a parsed submission. Fields are flattened to string values;
// nested JSON keys join with ".". For JSON bodies the decoded tree is
// kept too, for consumers that address it by path.
type Form struct {
	Fields      map[string]string
	ContentType string
	JSON        interface{}
}

// FieldNames returns the field names in sorted order.
func (f *Form) FieldNames() []string {
	names := make([]string, 0, len(f.Fields))
	for k := range f.Fields {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}

// Parse reads and parses the request body according to its content type.
// Unsupported content types yield an empty form, not an error; the WAF
// still classifies on headers and client address.
func Parse(r *http.Request, opts Options) (*Form, error) {
	maxBody := opts.MaxBodyBytes
	if maxBody <= 0 {
		maxBody = DefaultMaxBodyBytes
	}

	mediaType := ""
	if ct := r.Header.Get("Content-Type"); ct != "" {
		if mt, _, err := mime.ParseMediaType(ct); err == nil {
			mediaType = mt
		}
	}

	form := &Form{Fields: make(map[string]string), ContentType: mediaType}
	if r.Body == nil {
		return form, nil
	}

	switch mediaType {
	case "application/x-www-form-urlencoded":
		return parseURLEncoded(r, form, maxBody)
	case "multipart/form-data":
		return parseMultipart(r, form, maxBody)
	case "application/json":
		return parseJSON(r, form, maxBody)
	default:
		return form, nil
	}
}

func readBody(r *http.Request, maxBody int64) ([]byte, error) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBody+1))
	if err != nil {
		return nil, werrors.Validation("failed to read request body", nil)
	}
	if int64(len(body)) > maxBody {
		return nil, werrors.Validation("request body exceeds the configured maximum", []string{"body"})
	}
	return body, nil
}

func parseURLEncoded(r *http.Request, form *Form, maxBody int64) (*Form, error) {
	body, err := readBody(r, maxBody)
	if err != nil {
		return nil, err
	}
	values, err := url.ParseQuery(string(body))
	if err != nil {
		return nil, werrors.Validation("malformed urlencoded body", []string{"body"})
	}
	for k, vs := range values {
		if len(vs) > 0 {
			form.Fields[k] = vs[0]
		}
	}
	return form, nil
}

func parseMultipart(r *http.Request, form *Form, maxBody int64) (*Form, error) {
	mr, err := r.MultipartReader()
	if err != nil {
		return nil, werrors.Validation("malformed multipart body", []string{"body"})
	}

	var total int64
	for {
		part, err := mr.NextPart()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, werrors.Validation("malformed multipart body", []string{"body"})
		}
		name := part.FormName()
		if name == "" || part.FileName() != "" {
			// File parts contribute their name only; contents are not
			// classified.
			if name != "" {
				form.Fields[name] = part.FileName()
			}
			_, _ = io.Copy(io.Discard, io.LimitReader(part, MaxMultipartFieldBytes))
			continue
		}

		value, err := io.ReadAll(io.LimitReader(part, MaxMultipartFieldBytes+1))
		if err != nil {
			return nil, werrors.Validation("failed to read multipart field", []string{name})
		}
		if len(value) > MaxMultipartFieldBytes {
			return nil, werrors.Validation("multipart field exceeds the per-field size cap", []string{name})
		}
		total += int64(len(value))
		if total > maxBody {
			return nil, werrors.Validation("request body exceeds the configured maximum", []string{"body"})
		}
		form.Fields[name] = string(value)
	}
	return form, nil
}

func parseJSON(r *http.Request, form *Form, maxBody int64) (*Form, error) {
	body, err := readBody(r, maxBody)
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(string(body)) == "" {
		return form, nil
	}
	if !gjson.ValidBytes(body) {
		return nil, werrors.Validation("malformed JSON body", []string{"body"})
	}
	parsed := gjson.ParseBytes(body)
	if err := flattenJSON(parsed, "", 1, form.Fields); err != nil {
		return nil, err
	}
	// Depth is already bounded; the tree decode cannot exceed it.
	_ = json.Unmarshal(body, &form.JSON)
	return form, nil
}

// flattenJSON walks a gjson value, joining nested keys with "." and
// enforcing the depth cap.
func flattenJSON(v gjson.Result, prefix string, depth int, out map[string]string) error {
	if depth > MaxJSONDepth {
		return werrors.Validation("JSON body exceeds the nesting depth limit", []string{prefix})
	}

	switch {
	case v.IsObject():
		var walkErr error
		v.ForEach(func(key, value gjson.Result) bool {
			k := key.String()
			if prefix != "" {
				k = prefix + "." + k
			}
			if err := flattenJSON(value, k, depth+1, out); err != nil {
				walkErr = err
				return false
			}
			return true
		})
		return walkErr
	case v.IsArray():
		var walkErr error
		i := 0
		v.ForEach(func(_, value gjson.Result) bool {
			k := prefix
			if k == "" {
				k = "0"
			}
			if err := flattenJSON(value, k, depth+1, out); err != nil {
				walkErr = err
				return false
			}
			i++
			return true
		})
		return walkErr
	default:
		if prefix == "" {
			prefix = "value"
		}
		if existing, ok := out[prefix]; ok {
			out[prefix] = existing + " " + v.String()
		} else {
			out[prefix] = v.String()
		}
		return nil
	}
}
