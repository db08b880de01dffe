// Package parser turns raw subscription payloads and literal node lines
// into normalized nodes. The proxy-URI grammar itself is not interpreted
// beyond scheme and display name; the connection URL stays opaque.
package parser

import (
	"encoding/base64"
	"net/url"
	"regexp"
	"strings"

	log "github.com/sirupsen/logrus"

	"subhub/models"
)

// Options control per-source parsing behaviour.
type Options struct {
	// Exclude is a regular expression; nodes whose name matches are
	// dropped. An empty or invalid pattern excludes nothing.
	Exclude string

	// PrependName prefixes each node name with the source name.
	PrependName bool
}

// Parse converts a raw feed payload into nodes. The payload may be plain
// proxy-URI lines or a base64 wrapping of them; both are accepted.
func Parse(raw string, source string, opts Options) []models.Node {
	if decoded, ok := decodePayload(raw); ok {
		raw = decoded
	}

	lines := strings.FieldsFunc(raw, func(r rune) bool {
		return r == '\n' || r == '\r'
	})

	var exclude *regexp.Regexp
	if opts.Exclude != "" {
		re, err := regexp.Compile(opts.Exclude)
		if err != nil {
			log.WithFields(log.Fields{
				"source":  source,
				"pattern": opts.Exclude,
				"error":   err,
			}).Warn("Invalid exclusion pattern, ignoring")
		} else {
			exclude = re
		}
	}

	nodes := make([]models.Node, 0, len(lines))
	for _, line := range lines {
		node, ok := parseLine(line, source)
		if !ok {
			continue
		}
		if exclude != nil && exclude.MatchString(node.Name) {
			continue
		}
		if opts.PrependName && source != "" {
			node.Name = source + " | " + node.Name
		}
		nodes = append(nodes, node)
	}

	return nodes
}

// ParseLines converts literal node lines (manual entries) into nodes.
// No exclusion or prefixing applies; the lines were entered by hand.
func ParseLines(lines []string, source string) []models.Node {
	nodes := make([]models.Node, 0, len(lines))
	for _, line := range lines {
		if node, ok := parseLine(line, source); ok {
			nodes = append(nodes, node)
		}
	}
	return nodes
}

// Encode wraps text in standard base64, the universal raw output format.
func Encode(text string) string {
	return base64.StdEncoding.EncodeToString([]byte(text))
}

// parseLine builds a node from a single proxy URI. Lines without a scheme
// are not nodes and are dropped silently.
func parseLine(line string, source string) (models.Node, bool) {
	line = strings.TrimSpace(line)
	if line == "" || !strings.Contains(line, "://") {
		return models.Node{}, false
	}

	name := displayName(line)
	if name == "" {
		name = source
	}

	return models.Node{
		URL:    line,
		Name:   name,
		Source: source,
	}, true
}

// displayName extracts the conventional name carried in the URI fragment,
// falling back to the host part for fragment-less links.
func displayName(link string) string {
	if idx := strings.LastIndex(link, "#"); idx >= 0 {
		if name, err := url.QueryUnescape(link[idx+1:]); err == nil {
			return strings.TrimSpace(name)
		}
		return strings.TrimSpace(link[idx+1:])
	}
	if u, err := url.Parse(link); err == nil && u.Host != "" {
		return u.Host
	}
	return ""
}

// decodePayload tries to interpret the payload as a base64-wrapped node
// list, the common encoding for subscription feeds. Plain-text payloads
// that already contain proxy URIs are returned unchanged.
func decodePayload(raw string) (string, bool) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" || strings.Contains(trimmed, "://") {
		return "", false
	}
	// Feeds disagree on padding and alphabet; try the usual variants.
	for _, enc := range []*base64.Encoding{
		base64.StdEncoding,
		base64.RawStdEncoding,
		base64.URLEncoding,
		base64.RawURLEncoding,
	} {
		if decoded, err := enc.DecodeString(trimmed); err == nil {
			return string(decoded), true
		}
	}
	return "", false
}
