package antidetect

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"io"
	mrand "math/rand"
)

// Fingerprint is the bundle of browser-identifying signals presented to
// the target site. It is immutable for the lifetime of one browser
// context; a new context gets a new fingerprint.
type Fingerprint struct {
	UserAgent        string
	ViewportWidth    int
	ViewportHeight   int
	ScreenWidth      int
	ScreenHeight     int
	Timezone         string
	Language         string
	Platform         string
	WebGLVendor      string
	WebGLRenderer    string
	CanvasHash       string
	CanvasNoiseSeed  float64
	Latitude         float64
	Longitude        float64
}

// profile is one internally consistent device/browser combination.
// User agent, platform, screen geometry and GPU strings must agree;
// mixing them is exactly the inconsistency detection scripts look for.
type profile struct {
	userAgent     string
	viewportW     int
	viewportH     int
	screenW       int
	screenH       int
	platform      string
	webglVendor   string
	webglRenderer string
}

var profiles = []profile{
	{
		userAgent:     "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0.0.0 Safari/537.36",
		viewportW:     1920, viewportH: 947,
		screenW:       1920, screenH: 1080,
		platform:      "Win32",
		webglVendor:   "Google Inc. (NVIDIA)",
		webglRenderer: "ANGLE (NVIDIA, NVIDIA GeForce GTX 1660 Direct3D11 vs_5_0 ps_5_0, D3D11)",
	},
	{
		userAgent:     "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/123.0.0.0 Safari/537.36",
		viewportW:     1536, viewportH: 731,
		screenW:       1536, screenH: 864,
		platform:      "Win32",
		webglVendor:   "Google Inc. (Intel)",
		webglRenderer: "ANGLE (Intel, Intel(R) UHD Graphics 620 Direct3D11 vs_5_0 ps_5_0, D3D11)",
	},
	{
		userAgent:     "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0.0.0 Safari/537.36",
		viewportW:     1440, viewportH: 789,
		screenW:       1440, screenH: 900,
		platform:      "MacIntel",
		webglVendor:   "Google Inc. (Apple)",
		webglRenderer: "ANGLE (Apple, Apple M2, OpenGL 4.1)",
	},
	{
		userAgent:     "Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0.0.0 Safari/537.36",
		viewportW:     1920, viewportH: 938,
		screenW:       1920, screenH: 1080,
		platform:      "Linux x86_64",
		webglVendor:   "Google Inc. (AMD)",
		webglRenderer: "ANGLE (AMD, AMD Radeon RX 580 (polaris10), OpenGL 4.6)",
	},
}

// city is a plausible geolocation anchor; reported coordinates jitter
// around one of these so they never repeat exactly.
type city struct {
	name     string
	lat, lon float64
	timezone string
	language string
}

var cities = []city{
	{name: "Berlin", lat: 52.5200, lon: 13.4050, timezone: "Europe/Berlin", language: "de-DE"},
	{name: "Hamburg", lat: 53.5511, lon: 9.9937, timezone: "Europe/Berlin", language: "de-DE"},
	{name: "Munich", lat: 48.1351, lon: 11.5820, timezone: "Europe/Berlin", language: "de-DE"},
	{name: "Cologne", lat: 50.9375, lon: 6.9603, timezone: "Europe/Berlin", language: "de-DE"},
	{name: "Frankfurt", lat: 50.1109, lon: 8.6821, timezone: "Europe/Berlin", language: "de-DE"},
}

// Generator produces fingerprints from the profile pool.
type Generator struct {
	rng *mrand.Rand
}

// NewGenerator creates a fingerprint generator. A nil source uses a
// time-seeded one.
func NewGenerator(rng *mrand.Rand) *Generator {
	if rng == nil {
		rng = mrand.New(mrand.NewSource(mrand.Int63()))
	}
	return &Generator{rng: rng}
}

// NewFingerprint selects a consistent device profile and a plausible
// location, plus a fresh canvas noise value.
func (g *Generator) NewFingerprint() (*Fingerprint, error) {
	p := profiles[g.rng.Intn(len(profiles))]
	c := cities[g.rng.Intn(len(cities))]

	hash, err := randomCanvasHash()
	if err != nil {
		return nil, err
	}

	// ~1km of jitter keeps the point inside the city without pinning an
	// exact address.
	jitter := func() float64 { return (g.rng.Float64() - 0.5) * 0.02 }

	return &Fingerprint{
		UserAgent:       p.userAgent,
		ViewportWidth:   p.viewportW,
		ViewportHeight:  p.viewportH,
		ScreenWidth:     p.screenW,
		ScreenHeight:    p.screenH,
		Timezone:        c.timezone,
		Language:        c.language,
		Platform:        p.platform,
		WebGLVendor:     p.webglVendor,
		WebGLRenderer:   p.webglRenderer,
		CanvasHash:      hash,
		CanvasNoiseSeed: g.rng.Float64(),
		Latitude:        c.lat + jitter(),
		Longitude:       c.lon + jitter(),
	}, nil
}

func randomCanvasHash() (string, error) {
	b := make([]byte, 16)
	if _, err := io.ReadFull(rand.Reader, b); err != nil {
		return "", fmt.Errorf("failed to generate canvas hash: %w", err)
	}
	return hex.EncodeToString(b), nil
}
