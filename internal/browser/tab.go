package browser

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/stealth"
)

// Tab wraps the Rod page hosting the embedded document.
type Tab struct {
	Page    *rod.Page
	PageURL string
	PageID  string
}

// OpenTab creates a tab with stealth applied and navigates to the URL.
func OpenTab(ctx context.Context, mgr *Manager, pageURL, pageID string) (*Tab, error) {
	b := mgr.Browser()
	if b == nil {
		return nil, fmt.Errorf("browser: no active browser")
	}

	page, err := stealth.Page(b)
	if err != nil {
		return nil, fmt.Errorf("browser: create tab: %w", err)
	}

	navCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	if err := page.Context(navCtx).Navigate(pageURL); err != nil {
		page.Close()
		return nil, fmt.Errorf("browser: navigate %s: %w", pageURL, err)
	}
	if err := page.Context(navCtx).WaitLoad(); err != nil {
		mgr.cfg.Logger.Warn("browser: wait load timeout", "url", pageURL, "error", err)
	}

	return &Tab{Page: page, PageURL: pageURL, PageID: pageID}, nil
}

// Eval runs JavaScript in the page and returns the expression's value as
// JSON. This is the Evaluator the overlay layer renders through.
func (t *Tab) Eval(ctx context.Context, js string, args ...any) (json.RawMessage, error) {
	res, err := t.Page.Context(ctx).Eval(js, args...)
	if err != nil {
		return nil, fmt.Errorf("browser: eval: %w", err)
	}
	data, err := json.Marshal(res.Value.Val())
	if err != nil {
		return nil, fmt.Errorf("browser: eval result: %w", err)
	}
	return data, nil
}

// OuterHTML returns the serialised markup of the element at the given
// structural path, or "" when it no longer resolves.
func (t *Tab) OuterHTML(ctx context.Context, path string) (string, error) {
	res, err := t.Eval(ctx, `(xpath) => {
		const el = window.__domselect_overlay
			? window.__domselect_overlay.resolve(xpath)
			: document.evaluate(xpath, document, null, XPathResult.FIRST_ORDERED_NODE_TYPE, null).singleNodeValue;
		return el ? el.outerHTML : "";
	}`, path)
	if err != nil {
		return "", err
	}
	var html string
	if err := json.Unmarshal(res, &html); err != nil {
		return "", fmt.Errorf("browser: outer html result: %w", err)
	}
	return html, nil
}

// Close closes the tab.
func (t *Tab) Close() error {
	if t.Page != nil {
		return t.Page.Close()
	}
	return nil
}
