// Package transform turns raw webhook bodies into agent parameters:
// body parsing per content type, path-based field mapping, per-field
// value transforms, sandboxed custom logic, and target validation.
package transform

import (
	"bytes"
	"encoding/json"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"net/url"
	"strings"
)

// ErrNotAnObject rejects JSON bodies whose top level is not an object.
var ErrNotAnObject = errors.New("payload must be a JSON object")

// ParseBody parses the raw body per content type into a payload map.
func ParseBody(contentType string, body []byte) (map[string]any, error) {
	media := strings.ToLower(strings.TrimSpace(contentType))
	if idx := strings.IndexByte(media, ';'); idx >= 0 {
		media = strings.TrimSpace(media[:idx])
	}

	switch media {
	case "application/json":
		return parseJSON(body)
	case "application/xml", "text/xml":
		return parseXML(body)
	case "application/x-www-form-urlencoded":
		return parseForm(body)
	default:
		return nil, fmt.Errorf("unsupported content type %q", contentType)
	}
}

func parseJSON(body []byte) (map[string]any, error) {
	var parsed any
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, fmt.Errorf("invalid JSON: %w", err)
	}
	obj, ok := parsed.(map[string]any)
	if !ok {
		return nil, ErrNotAnObject
	}
	return obj, nil
}

// parseXML converts an XML document into a map. Namespaces are stripped
// from element names, repeated siblings collapse into lists, and
// text-only elements become strings.
func parseXML(body []byte) (map[string]any, error) {
	decoder := xml.NewDecoder(bytes.NewReader(body))

	for {
		tok, err := decoder.Token()
		if err == io.EOF {
			return nil, errors.New("empty XML document")
		}
		if err != nil {
			return nil, fmt.Errorf("invalid XML: %w", err)
		}
		start, ok := tok.(xml.StartElement)
		if !ok {
			continue
		}
		value, err := parseXMLElement(decoder, start)
		if err != nil {
			return nil, fmt.Errorf("invalid XML: %w", err)
		}
		return map[string]any{localName(start.Name): value}, nil
	}
}

// parseXMLElement consumes one element and its subtree.
func parseXMLElement(decoder *xml.Decoder, start xml.StartElement) (any, error) {
	children := make(map[string]any)
	var text strings.Builder

	for {
		tok, err := decoder.Token()
		if err != nil {
			return nil, err
		}
		switch t := tok.(type) {
		case xml.StartElement:
			value, err := parseXMLElement(decoder, t)
			if err != nil {
				return nil, err
			}
			appendChild(children, localName(t.Name), value)
		case xml.CharData:
			text.Write(t)
		case xml.EndElement:
			if len(children) > 0 {
				return children, nil
			}
			return strings.TrimSpace(text.String()), nil
		}
	}
}

// appendChild inserts a child value; repeated names become lists.
func appendChild(parent map[string]any, name string, value any) {
	existing, ok := parent[name]
	if !ok {
		parent[name] = value
		return
	}
	if list, isList := existing.([]any); isList {
		parent[name] = append(list, value)
		return
	}
	parent[name] = []any{existing, value}
}

func localName(name xml.Name) string {
	return name.Local
}

// parseForm decodes a urlencoded body; single-value lists collapse to
// their value.
func parseForm(body []byte) (map[string]any, error) {
	values, err := url.ParseQuery(string(body))
	if err != nil {
		return nil, fmt.Errorf("invalid form body: %w", err)
	}

	out := make(map[string]any, len(values))
	for key, list := range values {
		if len(list) == 1 {
			out[key] = list[0]
			continue
		}
		many := make([]any, len(list))
		for i, v := range list {
			many[i] = v
		}
		out[key] = many
	}
	return out, nil
}
