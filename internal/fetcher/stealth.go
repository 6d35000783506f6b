package fetcher

import (
	"crypto/tls"
	"fmt"
	"math/rand"
	"net/http"
	"strings"

	"log/slog"
)

// StealthConfig describes the browser fingerprint presented to the
// target site. The defaults form one coherent profile: a Linux desktop
// Chrome in Canada. Mixing values from different real machines is what
// trips fingerprint checks, so overrides should stay consistent.
type StealthConfig struct {
	// Enable TLS fingerprint randomization for the http fetcher.
	TLSFingerprint bool

	// Viewport dimensions
	ViewportWidth  int
	ViewportHeight int

	// Window size for browser launch
	WindowSize string

	// Timezone override (e.g., "America/Toronto")
	Timezone string

	// Primary language plus the full navigator.languages list
	Language  string
	Languages []string

	// Platform override; must agree with the user agent string
	Platform string

	// Geolocation reported when the site asks
	Latitude  float64
	Longitude float64

	// Hardware concurrency (number of CPU cores to report)
	HardwareConcurrency int

	// DeviceMemory (GB of RAM to report)
	DeviceMemory int
}

// DefaultStealthConfig returns the Canadian desktop profile used for
// amazon.ca runs.
func DefaultStealthConfig() *StealthConfig {
	return &StealthConfig{
		TLSFingerprint:      true,
		ViewportWidth:       1920,
		ViewportHeight:      1080,
		WindowSize:          "1920,1080",
		Timezone:            "America/Toronto",
		Language:            "en-CA",
		Languages:           []string{"en-CA", "en", "fr-CA"},
		Platform:            "Linux x86_64",
		Latitude:            43.6532,
		Longitude:           -79.3832,
		HardwareConcurrency: 4 + rand.Intn(13), // 4-16 cores
		DeviceMemory:        8,
	}
}

// StealthJS returns JavaScript injected into every page before any of
// the site's own scripts run.
func (sc *StealthConfig) StealthJS() string {
	quoted := make([]string, len(sc.Languages))
	for i, l := range sc.Languages {
		quoted[i] = "'" + l + "'"
	}
	languages := strings.Join(quoted, ", ")

	return fmt.Sprintf(`
// Override navigator properties
Object.defineProperty(navigator, 'webdriver', { get: () => undefined });
Object.defineProperty(navigator, 'platform', { get: () => '%s' });
Object.defineProperty(navigator, 'language', { get: () => '%s' });
Object.defineProperty(navigator, 'languages', { get: () => [%s] });
Object.defineProperty(navigator, 'hardwareConcurrency', { get: () => %d });
Object.defineProperty(navigator, 'deviceMemory', { get: () => %d });

// Override Chrome properties
window.chrome = {
	runtime: { onMessage: { addListener: () => {} }, sendMessage: () => {} },
	loadTimes: () => ({}),
	csi: () => ({}),
};

// Fix permissions API
const originalQuery = window.navigator.permissions.query;
window.navigator.permissions.query = (parameters) => (
	parameters.name === 'notifications' ?
		Promise.resolve({ state: Notification.permission }) :
		originalQuery(parameters)
);

// Fix plugins array
Object.defineProperty(navigator, 'plugins', {
	get: () => {
		const plugins = [
			{ name: 'Chrome PDF Plugin', filename: 'internal-pdf-viewer' },
			{ name: 'Chrome PDF Viewer', filename: 'mhjfbmdgcfjbbpaeojofohoefgiehjai' },
			{ name: 'Native Client', filename: 'internal-nacl-plugin' },
		];
		plugins.length = 3;
		return plugins;
	}
});

// Fix iframe contentWindow
const iframeProto = HTMLIFrameElement.prototype;
const origContentWindow = Object.getOwnPropertyDescriptor(iframeProto, 'contentWindow');
if (origContentWindow) {
	Object.defineProperty(iframeProto, 'contentWindow', {
		get: function() {
			const win = origContentWindow.get.call(this);
			if (win) {
				try { win.chrome = window.chrome; } catch(e) {}
			}
			return win;
		}
	});
}

// Console debug logging protection
const originalToString = Function.prototype.toString;
Function.prototype.toString = function() {
	if (this === Function.prototype.toString) return 'function toString() { [native code] }';
	return originalToString.call(this);
};
`, sc.Platform, sc.Language, languages, sc.HardwareConcurrency, sc.DeviceMemory)
}

// AcceptLanguage renders the profile as an Accept-Language header value.
func (sc *StealthConfig) AcceptLanguage() string {
	if len(sc.Languages) == 0 {
		return sc.Language
	}
	parts := make([]string, len(sc.Languages))
	for i, l := range sc.Languages {
		if i == 0 {
			parts[i] = l
			continue
		}
		q := 1.0 - 0.1*float64(i)
		parts[i] = fmt.Sprintf("%s;q=%.1f", l, q)
	}
	return strings.Join(parts, ",")
}

// TLSTransport is an http.Transport wrapper that presents browser-like
// TLS parameters and request headers.
type TLSTransport struct {
	inner   *http.Transport
	profile *StealthConfig
	logger  *slog.Logger
}

// NewTLSTransport wraps inner so every request carries browser-like
// headers and TLS parameters. When the profile enables fingerprint
// randomization the inner transport's TLS config is replaced.
func NewTLSTransport(inner *http.Transport, profile *StealthConfig, logger *slog.Logger) *TLSTransport {
	if profile.TLSFingerprint && inner.TLSClientConfig == nil {
		inner.TLSClientConfig = randomTLSConfig()
	}
	return &TLSTransport{
		inner:   inner,
		profile: profile,
		logger:  logger.With("component", "tls_transport"),
	}
}

// RoundTrip implements http.RoundTripper.
func (t *TLSTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if req.Header.Get("Accept") == "" {
		req.Header.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,image/avif,image/webp,image/apng,*/*;q=0.8")
	}
	if req.Header.Get("Accept-Language") == "" {
		req.Header.Set("Accept-Language", t.profile.AcceptLanguage())
	}
	if req.Header.Get("Sec-Fetch-Dest") == "" {
		req.Header.Set("Sec-Fetch-Dest", "document")
		req.Header.Set("Sec-Fetch-Mode", "navigate")
		req.Header.Set("Sec-Fetch-Site", "none")
		req.Header.Set("Sec-Fetch-User", "?1")
	}
	if req.Header.Get("Upgrade-Insecure-Requests") == "" {
		req.Header.Set("Upgrade-Insecure-Requests", "1")
	}
	if req.Header.Get("Sec-Ch-Ua") == "" {
		req.Header.Set("Sec-Ch-Ua", `"Chromium";v="120", "Not?A_Brand";v="8", "Google Chrome";v="120"`)
		req.Header.Set("Sec-Ch-Ua-Mobile", "?0")
		req.Header.Set("Sec-Ch-Ua-Platform", `"Linux"`)
	}

	return t.inner.RoundTrip(req)
}

// randomTLSConfig creates a TLS config that mimics browser fingerprints.
func randomTLSConfig() *tls.Config {
	// Cipher suites commonly used by Chrome/Firefox
	cipherSuites := [][]uint16{
		// Chrome-like
		{
			tls.TLS_AES_128_GCM_SHA256,
			tls.TLS_AES_256_GCM_SHA384,
			tls.TLS_CHACHA20_POLY1305_SHA256,
			tls.TLS_ECDHE_ECDSA_WITH_AES_128_GCM_SHA256,
			tls.TLS_ECDHE_RSA_WITH_AES_128_GCM_SHA256,
			tls.TLS_ECDHE_ECDSA_WITH_AES_256_GCM_SHA384,
			tls.TLS_ECDHE_RSA_WITH_AES_256_GCM_SHA384,
			tls.TLS_ECDHE_ECDSA_WITH_CHACHA20_POLY1305_SHA256,
			tls.TLS_ECDHE_RSA_WITH_CHACHA20_POLY1305_SHA256,
		},
		// Firefox-like
		{
			tls.TLS_AES_128_GCM_SHA256,
			tls.TLS_CHACHA20_POLY1305_SHA256,
			tls.TLS_AES_256_GCM_SHA384,
			tls.TLS_ECDHE_ECDSA_WITH_AES_128_GCM_SHA256,
			tls.TLS_ECDHE_RSA_WITH_AES_128_GCM_SHA256,
			tls.TLS_ECDHE_ECDSA_WITH_CHACHA20_POLY1305_SHA256,
			tls.TLS_ECDHE_RSA_WITH_CHACHA20_POLY1305_SHA256,
			tls.TLS_ECDHE_ECDSA_WITH_AES_256_GCM_SHA384,
			tls.TLS_ECDHE_RSA_WITH_AES_256_GCM_SHA384,
		},
	}

	selected := cipherSuites[rand.Intn(len(cipherSuites))]

	return &tls.Config{
		CipherSuites: selected,
		MinVersion:   tls.VersionTLS12,
		MaxVersion:   tls.VersionTLS13,
		CurvePreferences: []tls.CurveID{
			tls.X25519,
			tls.CurveP256,
			tls.CurveP384,
		},
	}
}
