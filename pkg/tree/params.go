package tree

import (
	"context"
	"net/url"
	"strings"
)

// ResolveParams merges the params of seg and its ancestors, nearest first.
// On a key collision within a kind the first occurrence wins, so a leaf
// overrides its group which overrides the root. Order is preserved.
func (t *Tree) ResolveParams(ctx context.Context, seg *Segment) ([]Param, error) {
	ancestors, err := t.Ancestors(ctx, seg)
	if err != nil {
		return nil, err
	}

	type key struct {
		kind ParamKind
		name string
	}
	seen := make(map[key]bool)
	var out []Param
	for _, s := range append([]*Segment{seg}, ancestors...) {
		for _, p := range s.Params {
			k := key{p.Kind, p.Key}
			if seen[k] {
				continue
			}
			seen[k] = true
			out = append(out, p)
		}
	}
	return out, nil
}

// QueryString encodes the resolved query params of seg, or "" when there are none
func (t *Tree) QueryString(ctx context.Context, seg *Segment) (string, error) {
	params, err := t.ResolveParams(ctx, seg)
	if err != nil {
		return "", err
	}
	return EncodeQuery(Filter(params, ParamQuery)), nil
}

// Headers returns the resolved header params of seg
func (t *Tree) Headers(ctx context.Context, seg *Segment) (map[string]string, error) {
	params, err := t.ResolveParams(ctx, seg)
	if err != nil {
		return nil, err
	}
	headers := make(map[string]string)
	for _, p := range Filter(params, ParamHeader) {
		headers[p.Key] = p.Value
	}
	return headers, nil
}

// Filter keeps the params of one kind
func Filter(params []Param, kind ParamKind) []Param {
	var out []Param
	for _, p := range params {
		if p.Kind == kind {
			out = append(out, p)
		}
	}
	return out
}

// EncodeQuery form-encodes params in their given order
func EncodeQuery(params []Param) string {
	var b strings.Builder
	for i, p := range params {
		if i > 0 {
			b.WriteByte('&')
		}
		b.WriteString(url.QueryEscape(p.Key))
		b.WriteByte('=')
		b.WriteString(url.QueryEscape(p.Value))
	}
	return b.String()
}
