// Package notice resolves selectors against alert payloads. XML payloads are
// addressed with XPath and JSON payloads with JSONPath. A selector either
// resolves to the first matching scalar or to nothing.
package notice

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/PaesslerAG/jsonpath"
	"github.com/antchfx/xmlquery"
	"github.com/antchfx/xpath"
)

// Format identifies the payload encoding of a stream.
type Format string

const (
	XML  Format = "xml"
	JSON Format = "json"
)

// Valid reports whether f is a known format.
func (f Format) Valid() bool { return f == XML || f == JSON }

// Document is a parsed payload that can be queried repeatedly.
type Document interface {
	// Query returns the first scalar matched by selector. The boolean is false
	// when the selector matches nothing or cannot be evaluated.
	Query(selector string) (any, bool)
}

// Parse decodes payload according to format.
func Parse(format Format, payload []byte) (Document, error) {
	switch format {
	case XML:
		root, err := xmlquery.Parse(bytes.NewReader(payload))
		if err != nil {
			return nil, fmt.Errorf("parse xml: %w", err)
		}
		return &xmlDocument{root: root, namespaces: namespaces(root)}, nil
	case JSON:
		var v any
		if err := json.Unmarshal(payload, &v); err != nil {
			return nil, fmt.Errorf("parse json: %w", err)
		}
		return &jsonDocument{value: v}, nil
	default:
		return nil, fmt.Errorf("unsupported format %q", format)
	}
}

type xmlDocument struct {
	root       *xmlquery.Node
	namespaces map[string]string
}

func (d *xmlDocument) Query(selector string) (any, bool) {
	if selector == "" {
		return nil, false
	}
	expr, err := xpath.CompileWithNS(selector, d.namespaces)
	if err != nil {
		return nil, false
	}
	switch res := expr.Evaluate(xmlquery.CreateXPathNavigator(d.root)).(type) {
	case *xpath.NodeIterator:
		if res.MoveNext() {
			return res.Current().Value(), true
		}
		return nil, false
	case nil:
		return nil, false
	default:
		return res, true
	}
}

// namespaces collects the prefixes declared on the document element so that
// selectors such as /voe:VOEvent resolve.
func namespaces(root *xmlquery.Node) map[string]string {
	ns := map[string]string{}
	for n := root.FirstChild; n != nil; n = n.NextSibling {
		if n.Type != xmlquery.ElementNode {
			continue
		}
		for _, attr := range n.Attr {
			if attr.Name.Space == "xmlns" {
				ns[attr.Name.Local] = attr.Value
			}
		}
		break
	}
	return ns
}

type jsonDocument struct {
	value any
}

func (d *jsonDocument) Query(selector string) (any, bool) {
	if selector == "" {
		return nil, false
	}
	res, err := jsonpath.Get(selector, d.value)
	if err != nil {
		return nil, false
	}
	if list, ok := res.([]any); ok {
		if len(list) == 0 {
			return nil, false
		}
		res = list[0]
	}
	if res == nil {
		return nil, false
	}
	return res, true
}
