package overlay

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// Evaluator runs JavaScript in the page and returns the JSON value of the
// expression. Implemented by the browser tab; faked in tests.
type Evaluator interface {
	Eval(ctx context.Context, js string, args ...any) (json.RawMessage, error)
}

// CategoryForTag maps a tag name to a coarse category label. Pure and
// total: unrecognised tags get the default label.
func CategoryForTag(tag string) string {
	switch lowerASCII(tag) {
	case "input", "textarea", "select", "option", "form", "label", "fieldset":
		return "form"
	case "a", "button", "details", "summary":
		return "interactive"
	case "img", "picture", "video", "audio", "canvas", "svg", "iframe":
		return "media"
	case "h1", "h2", "h3", "h4", "h5", "h6", "p", "span", "em", "strong",
		"blockquote", "pre", "code", "li":
		return "text"
	case "table", "thead", "tbody", "tr", "td", "th":
		return "table"
	case "div", "section", "article", "main", "aside", "header", "footer",
		"nav", "ul", "ol":
		return "container"
	default:
		return "element"
	}
}

// IconForCategory names the icon used for a category badge.
func IconForCategory(category string) string {
	switch category {
	case "form":
		return "text-cursor-input"
	case "interactive":
		return "mouse-pointer-click"
	case "media":
		return "image"
	case "text":
		return "type"
	case "table":
		return "table"
	case "container":
		return "box"
	default:
		return "square"
	}
}

// Icons loads the icon-rendering capability into the page at most once per
// page lifetime. All callers share the outcome of the single load; failure
// substitutes text placeholders and is never fatal.
type Icons struct {
	page    Evaluator
	url     string
	timeout time.Duration
	logger  *slog.Logger

	mu   sync.Mutex
	done bool
	err  error
}

// NewIcons creates the icon loader. url is the icon library script
// location; empty disables icon loading entirely (placeholders only).
func NewIcons(page Evaluator, url string, timeout time.Duration, logger *slog.Logger) *Icons {
	if logger == nil {
		logger = slog.Default()
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Icons{page: page, url: url, timeout: timeout, logger: logger}
}

// Ensure performs the one-time load. A caller arriving while the load is
// in flight blocks and shares its outcome; later callers reuse the
// completed result. A failed load is remembered, warned about once, and
// never blocks selection.
func (ic *Icons) Ensure(ctx context.Context) error {
	ic.mu.Lock()
	defer ic.mu.Unlock()
	if ic.done {
		return ic.err
	}
	ic.done = true

	if ic.url == "" {
		ic.err = fmt.Errorf("overlay: no icon script configured")
		return ic.err
	}
	loadCtx, cancel := context.WithTimeout(ctx, ic.timeout)
	defer cancel()

	if _, err := ic.page.Eval(loadCtx, iconLoadJS, ic.url); err != nil {
		ic.err = fmt.Errorf("overlay: load icon script: %w", err)
		ic.logger.Warn("overlay: icon load failed, using text placeholders",
			"url", ic.url, "error", err)
		return ic.err
	}
	ic.logger.Debug("overlay: icon capability loaded", "url", ic.url)
	return nil
}

// Available reports whether the capability loaded. False before the first
// Ensure and after a failed one.
func (ic *Icons) Available() bool {
	ic.mu.Lock()
	defer ic.mu.Unlock()
	return ic.done && ic.err == nil
}

// RenderAll asks the library to (re)render every icon placeholder in the
// page. Idempotent and safe to call redundantly; failures are warnings.
func (ic *Icons) RenderAll(ctx context.Context) {
	if !ic.Available() {
		return
	}
	if _, err := ic.page.Eval(ctx, `() => { if (window.lucide && window.lucide.createIcons) lucide.createIcons(); }`); err != nil {
		ic.logger.Warn("overlay: icon render failed", "error", err)
	}
}

// iconLoadJS injects the icon library script and resolves when it is
// usable, rejecting on script error or timeout.
const iconLoadJS = `(url) => new Promise((resolve, reject) => {
	if (window.lucide && window.lucide.createIcons) { resolve(true); return; }
	const s = document.createElement('script');
	s.src = url;
	s.onload = () => {
		if (window.lucide && window.lucide.createIcons) resolve(true);
		else reject(new Error('icon library loaded but unusable'));
	};
	s.onerror = () => reject(new Error('icon script failed to load'));
	document.head.appendChild(s);
})`

func lowerASCII(s string) string {
	b := []byte(s)
	changed := false
	for i, c := range b {
		if c >= 'A' && c <= 'Z' {
			b[i] = c + 'a' - 'A'
			changed = true
		}
	}
	if !changed {
		return s
	}
	return string(b)
}
