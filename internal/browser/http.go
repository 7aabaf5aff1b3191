package browser

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/codeGROOVE-dev/retry"
)

const maxBodySize = 5 * 1024 * 1024

var errNoPage = errors.New("no page loaded")

// HTTPClient is the interface for performing HTTP requests.
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// Options tune the HTTP transport.
type Options struct {
	UserAgent string
	Attempts  uint
	Delay     time.Duration
}

// HTTP is a Transport for server-rendered pages. Forms are filled and
// submitted from the parsed markup and links are followed on click. The page
// does not grow on scroll, so pagination relies on next-page links.
type HTTP struct {
	client HTTPClient
	opts   Options
	log    *slog.Logger

	url    *url.URL
	markup string
	doc    *goquery.Document
	values url.Values
}

// NewHTTP creates an HTTP transport. Zero options fall back to three
// attempts one second apart.
func NewHTTP(client HTTPClient, opts Options, log *slog.Logger) *HTTP {
	if opts.Attempts == 0 {
		opts.Attempts = 3
	}
	if opts.Delay == 0 {
		opts.Delay = time.Second
	}
	if opts.UserAgent == "" {
		opts.UserAgent = defaultUserAgent
	}
	return &HTTP{client: client, opts: opts, log: log}
}

// Fetch loads url with GET and makes it the current page.
func (h *HTTP) Fetch(ctx context.Context, rawURL string) (string, error) {
	if err := h.navigate(ctx, http.MethodGet, rawURL, ""); err != nil {
		return "", err
	}
	return h.markup, nil
}

// Fill records a value for the named form control matched by selector.
// For a select, value may be either an option's value or its visible text.
func (h *HTTP) Fill(_ context.Context, selector, value string) error {
	if h.doc == nil {
		return errNoPage
	}
	sel := h.doc.Find(selector).First()
	if sel.Length() == 0 {
		return fmt.Errorf("%w: %s", ErrElementNotFound, selector)
	}
	name, _ := sel.Attr("name")
	if name == "" {
		return fmt.Errorf("control %s has no name", selector)
	}
	if goquery.NodeName(sel) == "select" {
		value = optionValue(sel, value)
	}
	h.values.Set(name, value)
	return nil
}

// Click follows a link or submits the form that owns the matched element.
func (h *HTTP) Click(ctx context.Context, selector string) error {
	if h.doc == nil {
		return errNoPage
	}
	sel := h.doc.Find(selector).First()
	if sel.Length() == 0 {
		return fmt.Errorf("%w: %s", ErrElementNotFound, selector)
	}

	if goquery.NodeName(sel) == "a" {
		href, _ := sel.Attr("href")
		if href == "" || strings.HasPrefix(href, "#") || strings.HasPrefix(href, "javascript:") {
			return fmt.Errorf("link %s has no target", selector)
		}
		target, err := h.resolve(href)
		if err != nil {
			return err
		}
		return h.navigate(ctx, http.MethodGet, target, "")
	}

	form := sel.Closest("form")
	if form.Length() == 0 {
		return fmt.Errorf("element %s is not a link or form control", selector)
	}
	return h.submit(ctx, form, sel)
}

// ScrollToBottom is a no-op: server-rendered pages do not load more content.
func (h *HTTP) ScrollToBottom(context.Context) error {
	if h.doc == nil {
		return errNoPage
	}
	return nil
}

// CurrentHeight approximates the document height by the markup length.
func (h *HTTP) CurrentHeight(context.Context) (int, error) {
	if h.doc == nil {
		return 0, errNoPage
	}
	return len(h.markup), nil
}

// Content returns the current page markup.
func (h *HTTP) Content(context.Context) (string, error) {
	if h.doc == nil {
		return "", errNoPage
	}
	return h.markup, nil
}

// URL returns the current page address.
func (h *HTTP) URL() string {
	if h.url == nil {
		return ""
	}
	return h.url.String()
}

// Close drops the current page.
func (h *HTTP) Close() error {
	h.url, h.markup, h.doc, h.values = nil, "", nil, nil
	return nil
}

func (h *HTTP) submit(ctx context.Context, form, submitter *goquery.Selection) error {
	values := formDefaults(form)
	if name, ok := submitter.Attr("name"); ok && name != "" {
		v, _ := submitter.Attr("value")
		values.Set(name, v)
	}
	for name, v := range h.values {
		values[name] = v
	}

	action, _ := form.Attr("action")
	target, err := h.resolve(action)
	if err != nil {
		return err
	}

	method := strings.ToUpper(strings.TrimSpace(form.AttrOr("method", http.MethodGet)))
	if method == http.MethodPost {
		return h.navigate(ctx, http.MethodPost, target, values.Encode())
	}

	u, err := url.Parse(target)
	if err != nil {
		return fmt.Errorf("parse form action: %w", err)
	}
	u.RawQuery = values.Encode()
	return h.navigate(ctx, http.MethodGet, u.String(), "")
}

func (h *HTTP) navigate(ctx context.Context, method, target, body string) error {
	markup, err := h.load(ctx, method, target, body)
	if err != nil {
		return &TransportError{URL: target, Err: err}
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(markup))
	if err != nil {
		return &TransportError{URL: target, Err: fmt.Errorf("parse html: %w", err)}
	}
	u, err := url.Parse(target)
	if err != nil {
		return &TransportError{URL: target, Err: err}
	}

	h.url, h.markup, h.doc = u, markup, doc
	h.values = url.Values{}
	return nil
}

func (h *HTTP) load(ctx context.Context, method, target, body string) (string, error) {
	var markup string
	var lastErr error

	err := retry.Do(
		func() error {
			markup, lastErr = h.do(ctx, method, target, body)
			return lastErr
		},
		retry.Attempts(h.opts.Attempts),
		retry.Delay(h.opts.Delay),
		retry.Context(ctx),
		retry.OnRetry(func(n uint, err error) {
			h.log.Info("retrying page load", "attempt", n+1, "url", target, "error", err)
		}),
		retry.RetryIf(func(err error) bool {
			return !IsForbidden(err)
		}),
	)
	if err != nil {
		if lastErr == nil {
			lastErr = err
		}
		return "", fmt.Errorf("after retries: %w", lastErr)
	}
	return markup, nil
}

func (h *HTTP) do(ctx context.Context, method, target, body string) (string, error) {
	var reader io.Reader = http.NoBody
	if body != "" {
		reader = strings.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, target, reader)
	if err != nil {
		return "", retry.Unrecoverable(fmt.Errorf("create request: %w", err))
	}
	setBrowserHeaders(req, h.opts.UserAgent)
	if body != "" {
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	}

	start := time.Now()
	resp, err := h.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("http %s: %w", strings.ToLower(method), err)
	}
	defer func() { _ = resp.Body.Close() }()

	h.log.Debug("page loaded",
		"method", method,
		"url", target,
		"status_code", resp.StatusCode,
		"duration_ms", time.Since(start).Milliseconds())

	if resp.StatusCode == http.StatusForbidden {
		return "", ErrForbidden
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("unexpected status %d", resp.StatusCode)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
	if err != nil {
		return "", fmt.Errorf("read body: %w", err)
	}
	return string(data), nil
}

func (h *HTTP) resolve(ref string) (string, error) {
	r, err := url.Parse(strings.TrimSpace(ref))
	if err != nil {
		return "", fmt.Errorf("parse url %q: %w", ref, err)
	}
	if h.url == nil {
		return r.String(), nil
	}
	return h.url.ResolveReference(r).String(), nil
}

// formDefaults collects the values a form would submit untouched.
func formDefaults(form *goquery.Selection) url.Values {
	values := url.Values{}
	form.Find("input[name], select[name], textarea[name]").Each(func(_ int, s *goquery.Selection) {
		name, _ := s.Attr("name")
		switch goquery.NodeName(s) {
		case "select":
			opt := s.Find("option[selected]").First()
			if opt.Length() == 0 {
				opt = s.Find("option").First()
			}
			if opt.Length() > 0 {
				values.Set(name, opt.AttrOr("value", strings.TrimSpace(opt.Text())))
			}
		case "textarea":
			values.Set(name, s.Text())
		default:
			switch strings.ToLower(s.AttrOr("type", "text")) {
			case "submit", "button", "image", "file", "reset":
				return
			case "checkbox", "radio":
				if _, checked := s.Attr("checked"); !checked {
					return
				}
				values.Add(name, s.AttrOr("value", "on"))
				return
			}
			values.Set(name, s.AttrOr("value", ""))
		}
	})
	return values
}

func optionValue(sel *goquery.Selection, want string) string {
	result := want
	sel.Find("option").EachWithBreak(func(_ int, opt *goquery.Selection) bool {
		text := strings.TrimSpace(opt.Text())
		v, hasValue := opt.Attr("value")
		if (hasValue && v == want) || strings.EqualFold(text, strings.TrimSpace(want)) {
			if hasValue {
				result = v
			} else {
				result = text
			}
			return false
		}
		return true
	})
	return result
}

const defaultUserAgent = "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/131.0.0.0 Safari/537.36"

// setBrowserHeaders makes requests look like a desktop browser navigation.
func setBrowserHeaders(req *http.Request, userAgent string) {
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,image/avif,image/webp,*/*;q=0.8")
	req.Header.Set("Accept-Language", "es-ES,es;q=0.9,en;q=0.8")
	req.Header.Set("Sec-Fetch-Dest", "document")
	req.Header.Set("Sec-Fetch-Mode", "navigate")
	req.Header.Set("Sec-Fetch-Site", "none")
	req.Header.Set("Upgrade-Insecure-Requests", "1")
}
