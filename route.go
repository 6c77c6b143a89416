/************************************************************************************
 *
 * perch, a minimal Go client for the Discord gateway
 *
 * SPDX-License-Identifier: BSD-3-Clause
 *
 ************************************************************************************/

package perch

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"
)

// Route template holes (spec.md §6.1), reimplemented from
// original_source/src/encode/urls.rs's ExtractSnowflake/WriteUrl capability
// traits as a small interpolation language instead of the per-endpoint
// string concatenation those per-endpoint REST wrappers used in practice:
//
//   {#name}  snowflake-extraction hole: the argument must carry an id
//            (an ExtractSnowflake implementer in the original), formatted
//            as a bare decimal string.
//   {+name}  URL-write hole: the argument is percent-encoded as a path
//            segment (the original's WriteUrl capability).
//   {name}   bare hole: the argument's string form is substituted verbatim,
//            no encoding applied.
//
// Holes named "guild", "channel" or "webhook" are additionally captured as
// the route's major parameter for rate-limit bucketing (spec.md §4.1/§6.1).

// RouteArg is one value supplied to RouteTemplate.Build, paired with the hole name
// it fills.
type RouteArg struct {
	Name  string
	Value any
}

// Snowflaker is implemented by any value a {#name} hole can extract an id
// from, mirroring ExtractSnowflake in the original Rust encoder.
type Snowflaker interface {
	SnowflakeID() Snowflake
}

// RouteTemplate is a parsed route pattern, ready to be filled in with
// RouteArgs. Parsing happens once per call site (templates are declared as
// package-level vars), so Build only walks the already-split segment list.
type RouteTemplate struct {
	method  string
	raw     string
	parts   []routePart
	hasMajor bool
}

type routePartKind int

const (
	partLiteral routePartKind = iota
	partSnowflake
	partURLWrite
	partBare
)

type routePart struct {
	kind  routePartKind
	text  string // literal text, or hole name for non-literal kinds
	major bool
}

// NewRoute parses a template string such as
// "/guilds/{#guild}/channels/{+name}" into a reusable RouteTemplate.
func NewRoute(method, pattern string) *RouteTemplate {
	t := &RouteTemplate{method: method, raw: pattern}
	i := 0
	for i < len(pattern) {
		open := strings.IndexByte(pattern[i:], '{')
		if open == -1 {
			t.parts = append(t.parts, routePart{kind: partLiteral, text: pattern[i:]})
			break
		}
		open += i
		if open > i {
			t.parts = append(t.parts, routePart{kind: partLiteral, text: pattern[i:open]})
		}
		close := strings.IndexByte(pattern[open:], '}')
		if close == -1 {
			t.parts = append(t.parts, routePart{kind: partLiteral, text: pattern[open:]})
			break
		}
		close += open
		hole := pattern[open+1 : close]

		var part routePart
		switch {
		case strings.HasPrefix(hole, "#"):
			part = routePart{kind: partSnowflake, text: hole[1:]}
		case strings.HasPrefix(hole, "+"):
			part = routePart{kind: partURLWrite, text: hole[1:]}
		default:
			part = routePart{kind: partBare, text: hole}
		}
		if isMajorParamName(part.text) {
			part.major = true
			t.hasMajor = true
		}
		t.parts = append(t.parts, part)

		i = close + 1
	}
	return t
}

func isMajorParamName(name string) bool {
	switch name {
	case "guild", "channel", "webhook":
		return true
	}
	return false
}

// Build fills the template's holes with args, returning the request path
// and the major parameter value (empty if the route has none).
func (t *RouteTemplate) Build(args ...RouteArg) (path string, major string) {
	byName := make(map[string]any, len(args))
	for _, a := range args {
		byName[a.Name] = a.Value
	}

	var b strings.Builder
	b.Grow(len(t.raw))

	for _, p := range t.parts {
		switch p.kind {
		case partLiteral:
			b.WriteString(p.text)
			continue
		}

		v, ok := byName[p.text]
		var rendered string
		switch p.kind {
		case partSnowflake:
			rendered = renderSnowflakeHole(v, ok)
		case partURLWrite:
			rendered = renderURLWriteHole(v, ok)
		case partBare:
			rendered = renderBareHole(v, ok)
		}
		b.WriteString(rendered)
		if p.major {
			major = rendered
		}
	}

	return b.String(), major
}

func renderSnowflakeHole(v any, ok bool) string {
	if !ok {
		return ""
	}
	switch id := v.(type) {
	case Snowflake:
		return id.String()
	case Snowflaker:
		return id.SnowflakeID().String()
	case string:
		return id
	default:
		return ""
	}
}

func renderURLWriteHole(v any, ok bool) string {
	if !ok {
		return ""
	}
	s, _ := v.(string)
	return url.PathEscape(s)
}

func renderBareHole(v any, ok bool) string {
	if !ok {
		return ""
	}
	switch x := v.(type) {
	case string:
		return x
	case Snowflake:
		return x.String()
	case int:
		return strconv.Itoa(x)
	case int64:
		return strconv.FormatInt(x, 10)
	default:
		return fmt.Sprint(x)
	}
}

// TemplateKey identifies which RouteTemplate a request used, independent of
// the interpolated values. The HTTP Gate keys its route-hint cache
// (spec.md §9) on this rather than the built path, since two requests
// against the same template but different major parameters must still
// share the learned bucket id once Discord reveals it.
func (t *RouteTemplate) TemplateKey() string {
	return t.method + " " + t.raw
}
