// Package parser extracts frontmatter, page links, and tags from Markdown content.
package parser

import (
	"bytes"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"
)

var (
	pagelinkRe = regexp.MustCompile(`\[\[(.*?)\]\]`)
	tagRe      = regexp.MustCompile(`(?:^|\s)@([A-Za-z][A-Za-z0-9_-]*)`)
)

// LinkRef is one page link found in a body. Target is the raw link text
// before resolution: a leading colon marks an absolute page name, a colon
// inside the name a relative one, and a bare name a floating link that is
// resolved against the source page's namespace.
type LinkRef struct {
	Target string
	Text   string
}

// Result holds the output of parsing a page file.
type Result struct {
	Frontmatter map[string]interface{}
	Body        string
	Links       []LinkRef
	Tags        []string
	Title       string
}

// Parse extracts frontmatter, body, page links, and tags from raw Markdown bytes.
func Parse(data []byte) (*Result, error) {
	fm, body, err := splitFrontmatter(data)
	if err != nil {
		return nil, err
	}

	return &Result{
		Frontmatter: fm,
		Body:        body,
		Links:       extractLinks(body),
		Tags:        extractTags(body, fm),
		Title:       deriveTitle(fm, body),
	}, nil
}

// splitFrontmatter separates YAML frontmatter (between leading --- delimiters)
// from the Markdown body. If no frontmatter is found the entire content is body.
func splitFrontmatter(data []byte) (map[string]interface{}, string, error) {
	const delim = "---"
	trimmed := bytes.TrimLeft(data, "\n\r")

	if !bytes.HasPrefix(trimmed, []byte(delim)) {
		return nil, string(data), nil
	}

	rest := trimmed[len(delim):]
	idx := bytes.Index(rest, []byte("\n"+delim))
	if idx < 0 {
		// No closing delimiter, treat everything as body.
		return nil, string(data), nil
	}

	yamlBlock := rest[:idx]
	afterDelim := rest[idx+1+len(delim):]
	body := strings.TrimLeft(string(afterDelim), "\n\r")

	var fm map[string]interface{}
	if err := yaml.Unmarshal(yamlBlock, &fm); err != nil {
		// Invalid YAML is tolerated: the page still indexes as plain body.
		return nil, string(data), nil
	}

	return fm, body, nil
}

// extractLinks returns page links in document order, deduplicated by target.
// [[Target|Text]] carries a display text; [[Target]] displays the target itself.
func extractLinks(body string) []LinkRef {
	matches := pagelinkRe.FindAllStringSubmatch(body, -1)
	seen := make(map[string]struct{}, len(matches))
	var out []LinkRef
	for _, m := range matches {
		raw := m[1]
		target, text := raw, raw
		if i := strings.Index(raw, "|"); i >= 0 {
			target = raw[:i]
			text = raw[i+1:]
		}
		target = strings.TrimSpace(target)
		text = strings.TrimSpace(text)
		if target == "" {
			continue
		}
		if _, ok := seen[target]; ok {
			continue
		}
		seen[target] = struct{}{}
		if text == "" {
			text = target
		}
		out = append(out, LinkRef{Target: target, Text: text})
	}
	return out
}

// extractTags collects @tags from the body and the frontmatter "tags" field.
func extractTags(body string, fm map[string]interface{}) []string {
	seen := make(map[string]struct{})
	var out []string

	add := func(s string) {
		s = strings.TrimSpace(s)
		if s == "" {
			return
		}
		if _, dup := seen[s]; dup {
			return
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}

	if fm != nil {
		if raw, ok := fm["tags"]; ok {
			if list, ok := raw.([]interface{}); ok {
				for _, item := range list {
					if s, ok := item.(string); ok {
						add(s)
					}
				}
			}
		}
	}

	for _, m := range tagRe.FindAllStringSubmatch(body, -1) {
		add(m[1])
	}

	return out
}

// deriveTitle returns the frontmatter "title" if present, otherwise the first
// H1 heading, otherwise empty string.
func deriveTitle(fm map[string]interface{}, body string) string {
	if fm != nil {
		if t, ok := fm["title"]; ok {
			if s, ok := t.(string); ok && s != "" {
				return s
			}
		}
	}
	for _, line := range strings.Split(body, "\n") {
		trimmed := strings.TrimSpace(line)
		if strings.HasPrefix(trimmed, "# ") {
			return strings.TrimSpace(trimmed[2:])
		}
	}
	return ""
}
