package antidetect

import (
	"context"
	"fmt"
	mrand "math/rand"

	"marketwatcher/pkg/browser"
	errs "marketwatcher/pkg/errors"
	"marketwatcher/pkg/logger"
)

// Manager applies a fingerprint to browser contexts and exposes the
// human input simulation primitives. Constructed once at process start
// and injected wherever evasion is needed.
type Manager struct {
	generator *Generator
	simulator *Simulator
	logger    logger.Logger
}

// NewManager creates an anti-detection manager. A nil rng uses a
// time-seeded source.
func NewManager(rng *mrand.Rand, log logger.Logger) *Manager {
	if log == nil {
		log = logger.GetLogger()
	}
	return &Manager{
		generator: NewGenerator(rng),
		simulator: NewSimulator(rng, log),
		logger:    log,
	}
}

// Simulator returns the behavior simulator.
func (m *Manager) Simulator() *Simulator {
	return m.simulator
}

// NewFingerprint produces a fresh fingerprint for one browser context.
func (m *Manager) NewFingerprint() (*Fingerprint, error) {
	return m.generator.NewFingerprint()
}

// ConfigureContext creates a browser context carrying the fingerprint:
// user agent, viewport, locale, timezone, jittered geolocation, matching
// headers, and the startup scripts that hide automation markers. A
// failed script injection is logged and swallowed; evasion is
// best-effort and never blocks the session.
func (m *Manager) ConfigureContext(ctx context.Context, driver browser.Driver, fp *Fingerprint) (browser.Context, error) {
	opts := browser.ContextOptions{
		UserAgent:      fp.UserAgent,
		ViewportWidth:  fp.ViewportWidth,
		ViewportHeight: fp.ViewportHeight,
		Locale:         fp.Language,
		TimezoneID:     fp.Timezone,
		Latitude:       fp.Latitude,
		Longitude:      fp.Longitude,
		ExtraHeaders: map[string]string{
			"Accept-Language": fmt.Sprintf("%s,%s;q=0.9,en;q=0.8", fp.Language, fp.Language[:2]),
		},
	}

	bc, err := driver.NewContext(ctx, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to create hardened context: %w", err)
	}

	for name, script := range stealthScripts(fp) {
		if err := bc.AddInitScript(script); err != nil {
			// Non-fatal: a bare context is still usable.
			werr := errs.Wrap(err, errs.ErrorTypeEvasion, errs.SeverityLow, "configure_context",
				"init script rejected")
			m.logger.WithError(werr).WarnWithFields("evasion script injection failed",
				map[string]interface{}{"script": name})
		}
	}

	return bc, nil
}

// stealthScripts builds the startup scripts hiding automation markers
// and echoing the fingerprint back from GPU and canvas queries.
func stealthScripts(fp *Fingerprint) map[string]string {
	return map[string]string{
		"webdriver": `
Object.defineProperty(navigator, 'webdriver', { get: () => undefined });
window.chrome = window.chrome || { runtime: {} };
Object.defineProperty(navigator, 'plugins', {
  get: () => [1, 2, 3, 4, 5],
});
`,
		"platform": fmt.Sprintf(`
Object.defineProperty(navigator, 'platform', { get: () => %q });
Object.defineProperty(navigator, 'language', { get: () => %q });
Object.defineProperty(navigator, 'languages', { get: () => [%q, 'en'] });
Object.defineProperty(screen, 'width', { get: () => %d });
Object.defineProperty(screen, 'height', { get: () => %d });
`, fp.Platform, fp.Language, fp.Language, fp.ScreenWidth, fp.ScreenHeight),
		"webgl": fmt.Sprintf(`
const getParameter = WebGLRenderingContext.prototype.getParameter;
WebGLRenderingContext.prototype.getParameter = function (parameter) {
  if (parameter === 37445) return %q; // UNMASKED_VENDOR_WEBGL
  if (parameter === 37446) return %q; // UNMASKED_RENDERER_WEBGL
  return getParameter.call(this, parameter);
};
`, fp.WebGLVendor, fp.WebGLRenderer),
		"canvas": fmt.Sprintf(`
const seed = %f;
const toDataURL = HTMLCanvasElement.prototype.toDataURL;
const getImageData = CanvasRenderingContext2D.prototype.getImageData;
CanvasRenderingContext2D.prototype.getImageData = function (...args) {
  const data = getImageData.apply(this, args);
  for (let i = 0; i < data.data.length; i += 4) {
    data.data[i] ^= Math.floor(seed * 255) & 1;
  }
  return data;
};
HTMLCanvasElement.prototype.toDataURL = function (...args) {
  const ctx = this.getContext('2d');
  if (ctx && this.width > 0 && this.height > 0) {
    ctx.getImageData(0, 0, 1, 1);
  }
  return toDataURL.apply(this, args);
};
`, fp.CanvasNoiseSeed),
		"timers": `
const origSetTimeout = window.setTimeout;
window.setTimeout = function (fn, delay, ...args) {
  const jitter = delay > 10 ? Math.random() * 4 - 2 : 0;
  return origSetTimeout(fn, Math.max(0, delay + jitter), ...args);
};
`,
	}
}
