package webdriver

import (
	"encoding/xml"
	"fmt"
	"io"
	"strconv"
	"strings"
	"unicode"
)

const typePrefix = "XCUIElementType"

// sourceNode is an element of the page source tree.
type sourceNode struct {
	Type     string // Tag name, e.g. XCUIElementTypeButton
	XPath    string // Absolute xpath with per-type sibling indexes
	X, Y     int
	Width    int
	Height   int
	Visible  bool
	Children []*sourceNode
}

func (n *sourceNode) contains(x, y int) bool {
	return x >= n.X && x < n.X+n.Width && y >= n.Y && y < n.Y+n.Height
}

// parseSource parses the page source XML into a tree.
func parseSource(data string) (*sourceNode, error) {
	decoder := xml.NewDecoder(strings.NewReader(data))

	var root *sourceNode
	var stack []*sourceNode
	var counts []map[string]int

	for {
		token, err := decoder.Token()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("invalid page source: %w", err)
		}

		switch t := token.(type) {
		case xml.StartElement:
			node := &sourceNode{Type: t.Name.Local, Visible: true}
			for _, attr := range t.Attr {
				switch attr.Name.Local {
				case "x":
					node.X = atoi(attr.Value)
				case "y":
					node.Y = atoi(attr.Value)
				case "width":
					node.Width = atoi(attr.Value)
				case "height":
					node.Height = atoi(attr.Value)
				case "visible", "hittable":
					if attr.Value == "false" {
						node.Visible = false
					}
				}
			}

			if len(stack) == 0 {
				node.XPath = "/" + node.Type
				root = node
			} else {
				parent := stack[len(stack)-1]
				siblings := counts[len(counts)-1]
				siblings[node.Type]++
				node.XPath = fmt.Sprintf("%s/%s[%d]", parent.XPath, node.Type, siblings[node.Type])
				parent.Children = append(parent.Children, node)
			}
			stack = append(stack, node)
			counts = append(counts, map[string]int{})

		case xml.EndElement:
			if len(stack) > 0 {
				stack = stack[:len(stack)-1]
				counts = counts[:len(counts)-1]
			}
		}
	}

	if root == nil {
		return nil, fmt.Errorf("empty page source")
	}
	return root, nil
}

// deepestAt returns the deepest visible node containing the point.
func deepestAt(n *sourceNode, x, y int) *sourceNode {
	if !n.Visible || !n.contains(x, y) {
		return nil
	}
	for i := len(n.Children) - 1; i >= 0; i-- {
		if hit := deepestAt(n.Children[i], x, y); hit != nil {
			return hit
		}
	}
	return n
}

func atoi(s string) int {
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0
	}
	return int(f)
}

// elementType maps a role such as "text_field" to "XCUIElementTypeTextField".
// An empty role matches any element type.
func elementType(role string) string {
	if role == "" {
		return "*"
	}
	if strings.HasPrefix(role, typePrefix) {
		return role
	}
	var b strings.Builder
	b.WriteString(typePrefix)
	for _, part := range strings.Split(role, "_") {
		if part == "" {
			continue
		}
		b.WriteString(strings.ToUpper(part[:1]))
		b.WriteString(strings.ToLower(part[1:]))
	}
	return b.String()
}

// roleOf maps "XCUIElementTypeTextField" back to "text_field".
func roleOf(tag string) string {
	name := strings.TrimPrefix(tag, typePrefix)
	var b strings.Builder
	for i, r := range name {
		if unicode.IsUpper(r) {
			if i > 0 {
				b.WriteByte('_')
			}
			r = unicode.ToLower(r)
		}
		b.WriteRune(r)
	}
	return b.String()
}

// pathToXPath converts a structural path such as "window[0]/button[1]" to
// an absolute xpath. Indexes count siblings of the same role from zero.
func pathToXPath(path string) (string, error) {
	segments := strings.Split(strings.Trim(path, "/"), "/")
	parts := []string{"", typePrefix + "Application"}
	for _, seg := range segments {
		role, idx := seg, 0
		if open := strings.IndexByte(seg, '['); open >= 0 {
			if !strings.HasSuffix(seg, "]") {
				return "", fmt.Errorf("invalid path segment %q", seg)
			}
			n, err := strconv.Atoi(seg[open+1 : len(seg)-1])
			if err != nil || n < 0 {
				return "", fmt.Errorf("invalid index in path segment %q", seg)
			}
			role, idx = seg[:open], n
		}
		if role == "" {
			return "", fmt.Errorf("invalid path segment %q", seg)
		}
		parts = append(parts, fmt.Sprintf("%s[%d]", elementType(role), idx+1))
	}
	return strings.Join(parts, "/"), nil
}

// xpathLiteral quotes s for use in an xpath expression.
func xpathLiteral(s string) string {
	if !strings.Contains(s, `"`) {
		return `"` + s + `"`
	}
	if !strings.Contains(s, "'") {
		return "'" + s + "'"
	}
	parts := strings.Split(s, `"`)
	return `concat("` + strings.Join(parts, `", '"', "`) + `")`
}

// predicateLiteral quotes s for use in an NSPredicate string.
func predicateLiteral(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	s = strings.ReplaceAll(s, `'`, `\'`)
	return "'" + s + "'"
}
