package capture

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/entrhq/wayfinder/pkg/browser"
	"github.com/entrhq/wayfinder/pkg/session"
)

const (
	KindClickable = "clickable"
	KindFillable  = "fillable"

	maxElementText = 80
)

const interactiveSelector = `a[href], button, input, select, textarea, [role="button"], [role="link"], [onclick], [contenteditable="true"]`

var cssIdent = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_-]*$`)

// EnumerateElements lists the clickable and fillable elements of an HTML
// document with a best-guess CSS selector for each.
func EnumerateElements(rawHTML string) ([]session.Element, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(rawHTML))
	if err != nil {
		return nil, fmt.Errorf("capture: parse html: %w", err)
	}

	var out []session.Element
	doc.Find(interactiveSelector).Each(func(i int, s *goquery.Selection) {
		tag := goquery.NodeName(s)
		inputType := strings.ToLower(s.AttrOr("type", "text"))
		if tag == "input" && inputType == "hidden" {
			return
		}
		if _, disabled := s.Attr("disabled"); disabled {
			return
		}
		out = append(out, session.Element{
			Tag:      tag,
			Text:     elementText(s),
			Selector: bestSelector(s, tag),
			Kind:     elementKind(tag, inputType, s),
		})
	})
	return out, nil
}

func elementKind(tag, inputType string, s *goquery.Selection) string {
	switch tag {
	case "textarea", "select":
		return KindFillable
	case "input":
		switch inputType {
		case "button", "submit", "reset", "checkbox", "radio", "image", "file":
			return KindClickable
		}
		return KindFillable
	}
	if s.AttrOr("contenteditable", "") == "true" {
		return KindFillable
	}
	return KindClickable
}

func elementText(s *goquery.Selection) string {
	text := strings.Join(strings.Fields(s.Text()), " ")
	if text == "" {
		for _, attr := range []string{"aria-label", "placeholder", "value", "title", "alt"} {
			if v := strings.TrimSpace(s.AttrOr(attr, "")); v != "" {
				text = v
				break
			}
		}
	}
	if len(text) > maxElementText {
		text = browser.Truncate(text, maxElementText)
	}
	return text
}

// bestSelector prefers stable attributes: id, test id, name, then class, and
// falls back to a positional selector under the parent.
func bestSelector(s *goquery.Selection, tag string) string {
	if id, ok := s.Attr("id"); ok && id != "" {
		if cssIdent.MatchString(id) {
			return "#" + id
		}
		return fmt.Sprintf(`[id=%q]`, id)
	}
	for _, attr := range []string{"data-testid", "data-test", "data-qa"} {
		if v, ok := s.Attr(attr); ok && v != "" {
			return fmt.Sprintf(`[%s=%q]`, attr, v)
		}
	}
	if name, ok := s.Attr("name"); ok && name != "" {
		return fmt.Sprintf(`%s[name=%q]`, tag, name)
	}
	if class, ok := s.Attr("class"); ok {
		for _, c := range strings.Fields(class) {
			if cssIdent.MatchString(c) {
				return tag + "." + c
			}
		}
	}

	pos := s.PrevAllFiltered(tag).Length() + 1
	parent := s.Parent()
	if parent.Length() == 0 {
		return fmt.Sprintf("%s:nth-of-type(%d)", tag, pos)
	}
	return fmt.Sprintf("%s > %s:nth-of-type(%d)", goquery.NodeName(parent), tag, pos)
}
