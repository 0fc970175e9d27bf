// Package browser provides the page automation capability used for capture
// and execution.
//
// # Architecture
//
// The package is built around three pieces:
//
//  1. Page: the interface the rest of the module drives (navigate, act, wait,
//     screenshot, read the DOM, evaluate scripts)
//  2. PlaywrightPage: the Playwright-backed implementation
//  3. Manager: owns the Playwright driver and one isolated browser per page
//
// Every Page method takes a context. Playwright itself works with millisecond
// timeouts, so PlaywrightPage converts the context deadline into the timeout
// of each call.
//
// # Page Lifecycle
//
//  1. Initialize: Manager.Initialize installs and starts the driver
//  2. Open: Manager.NewPage launches a browser with its own context
//  3. Use: capture and execution drive the page through the Page interface
//  4. Close: Manager.ClosePage, or Manager.Shutdown for every page
//
// # Example Usage
//
//	m := browser.NewManager()
//	if err := m.Initialize(); err != nil {
//	    return err
//	}
//	defer m.Shutdown()
//
//	page, err := m.NewPage("checkout", browser.PageOptions{Headless: true})
//	if err != nil {
//	    return err
//	}
//	err = browser.Perform(ctx, page, browser.Action{Type: browser.ActionClick, Selector: "#buy"})
package browser
