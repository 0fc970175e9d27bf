package capture

import "fmt"

// StylePreset selects how many computed style properties a layout snapshot
// carries per node.
type StylePreset string

const (
	PresetMinimal  StylePreset = "minimal"
	PresetBalanced StylePreset = "balanced"
	PresetFull     StylePreset = "full"
)

var presetProperties = map[StylePreset][]string{
	PresetMinimal: {"display", "visibility", "position"},
	PresetBalanced: {
		"display", "visibility", "position", "z-index", "opacity",
		"font-size", "font-weight", "color", "background-color",
	},
	PresetFull: {
		"display", "visibility", "position", "z-index", "opacity",
		"font-size", "font-weight", "font-family", "line-height", "text-align",
		"color", "background-color", "margin", "padding", "border",
		"overflow", "cursor", "pointer-events",
	},
}

// Properties returns the computed style properties captured by p.
func (p StylePreset) Properties() ([]string, error) {
	props, ok := presetProperties[p]
	if !ok {
		return nil, fmt.Errorf("capture: unknown style preset %q", p)
	}
	return append([]string(nil), props...), nil
}

// layoutScript walks the rendered DOM and returns a tree of visible nodes with
// bounding boxes, the requested computed styles, their own visible text and
// image sources.
const layoutScript = `(arg) => {
  const props = arg.props;
  const maxText = arg.maxText;
  const walk = (el, depth) => {
    const rect = el.getBoundingClientRect();
    const style = window.getComputedStyle(el);
    if (style.display === 'none' || style.visibility === 'hidden') return null;
    const node = {
      tag: el.tagName.toLowerCase(),
      box: [Math.round(rect.x), Math.round(rect.y), Math.round(rect.width), Math.round(rect.height)],
      styles: {},
    };
    for (const p of props) node.styles[p] = style.getPropertyValue(p);
    let text = '';
    for (const c of el.childNodes) {
      if (c.nodeType === Node.TEXT_NODE) text += c.textContent;
    }
    text = text.replace(/\s+/g, ' ').trim();
    if (text) node.text = text.slice(0, maxText);
    if (el.tagName === 'IMG') node.src = el.currentSrc || el.src;
    if (el.id) node.id = el.id;
    const children = [];
    if (depth < 64) {
      for (const c of el.children) {
        if (['SCRIPT', 'STYLE', 'NOSCRIPT', 'TEMPLATE'].includes(c.tagName)) continue;
        const child = walk(c, depth + 1);
        if (child) children.push(child);
      }
    }
    if (children.length) node.children = children;
    return node;
  };
  return walk(document.body || document.documentElement, 0);
}`

// countNodes counts the nodes of a layout tree decoded from JSON.
func countNodes(v interface{}) int {
	node, ok := v.(map[string]interface{})
	if !ok {
		return 0
	}
	n := 1
	if children, ok := node["children"].([]interface{}); ok {
		for _, c := range children {
			n += countNodes(c)
		}
	}
	return n
}
