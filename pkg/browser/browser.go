package browser

import (
	"context"
	"time"
)

// Cookie is the engine-neutral cookie representation persisted by the
// session layer.
type Cookie struct {
	Name     string    `json:"name"`
	Value    string    `json:"value"`
	Domain   string    `json:"domain"`
	Path     string    `json:"path"`
	Expires  time.Time `json:"expires"`
	HTTPOnly bool      `json:"http_only"`
	Secure   bool      `json:"secure"`
}

// ContextOptions configures a fresh browser context. The anti-detection
// layer fills these from a generated fingerprint.
type ContextOptions struct {
	UserAgent      string
	ViewportWidth  int
	ViewportHeight int
	Locale         string
	TimezoneID     string
	Latitude       float64
	Longitude      float64
	ExtraHeaders   map[string]string
}

// Driver is the narrow contract the core depends on instead of a
// specific automation engine.
type Driver interface {
	NewContext(ctx context.Context, opts ContextOptions) (Context, error)
	Close() error
}

// Context is one isolated browser context (cookie jar, storage, pages).
type Context interface {
	AddCookies(ctx context.Context, cookies []Cookie) error
	Cookies(ctx context.Context) ([]Cookie, error)
	// AddInitScript registers a script evaluated before any page script
	// in every new page of this context.
	AddInitScript(script string) error
	NewPage(ctx context.Context) (Page, error)
	Close() error
}

// Element is a handle to one matched DOM node.
type Element interface {
	Text(ctx context.Context) (string, error)
	Attribute(ctx context.Context, name string) (string, error)
	// Query finds the first descendant matching selector, or (nil, nil)
	// when that descendant does not exist.
	Query(ctx context.Context, selector string) (Element, error)
}

// Page drives one tab. Every call is bounded by the context deadline;
// exceeding it surfaces a timeout-typed error through the normal
// retry/breaker machinery.
type Page interface {
	Goto(ctx context.Context, url string) error
	WaitForSelector(ctx context.Context, selector string) error
	Click(ctx context.Context, selector string) error
	// TypeText types text into the matched element with a fixed per-key
	// delay. The behavior simulator layers human cadence on top by
	// issuing one call per character.
	TypeText(ctx context.Context, selector, text string, delay time.Duration) error
	Press(ctx context.Context, selector, key string) error
	Fill(ctx context.Context, selector, value string) error
	Text(ctx context.Context, selector string) (string, error)
	Attribute(ctx context.Context, selector, name string) (string, error)
	QueryAll(ctx context.Context, selector string) ([]Element, error)
	MouseMove(ctx context.Context, x, y float64) error
	Screenshot(ctx context.Context, path string) error
	URL() string
	Close() error
}
