package browser

import (
	"context"
	"fmt"
)

// Perform issues one action against page.
func Perform(ctx context.Context, page Page, a Action) error {
	switch a.Type {
	case ActionNavigate:
		if a.Selector == "" {
			return fmt.Errorf("navigate: url is required")
		}
		return page.Navigate(ctx, a.Selector)
	case ActionClick:
		if a.Selector == "" {
			return fmt.Errorf("click: selector is required")
		}
		return page.Click(ctx, a.Selector)
	case ActionFill:
		if a.Selector == "" {
			return fmt.Errorf("fill: selector is required")
		}
		return page.Fill(ctx, a.Selector, a.Value)
	case ActionScroll:
		return page.Scroll(ctx, 0, DefaultScrollDelta)
	case ActionWait:
		if a.Selector == "" {
			return page.WaitForSettle(ctx)
		}
		return page.WaitForSelector(ctx, a.Selector)
	default:
		return fmt.Errorf("unknown action type %q", a.Type)
	}
}
