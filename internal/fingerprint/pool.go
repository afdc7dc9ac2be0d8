// Package fingerprint holds the browser identities rotated across fetch attempts.
package fingerprint

import (
	"math/rand/v2"
	"slices"
	"sync"
)

// Family is the browser engine a profile impersonates.
type Family string

// Supported browser families.
const (
	Chrome  Family = "chrome"
	Firefox Family = "firefox"
	Safari  Family = "safari"
)

// Profile pairs a User-Agent with the TLS client preset that produces a
// matching handshake. The two must never be mixed across profiles.
type Profile struct {
	UserAgent  string
	TLSProfile string
	Family     Family
	Platform   string
	Mobile     bool
}

// Viewport is a browser window size in CSS pixels.
type Viewport struct {
	Width  int
	Height int
}

var defaultProfiles = []Profile{
	{
		UserAgent:  "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/143.0.0.0 Safari/537.36",
		TLSProfile: "chrome-143-windows",
		Family:     Chrome,
		Platform:   "Windows",
	},
	{
		UserAgent:  "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/143.0.0.0 Safari/537.36",
		TLSProfile: "chrome-143-macos",
		Family:     Chrome,
		Platform:   "macOS",
	},
	{
		UserAgent:  "Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/143.0.0.0 Safari/537.36",
		TLSProfile: "chrome-143-linux",
		Family:     Chrome,
		Platform:   "Linux",
	},
	{
		UserAgent:  "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/143.0.0.0 Safari/537.36",
		TLSProfile: "chrome-143",
		Family:     Chrome,
		Platform:   "Windows",
	},
	{
		UserAgent:  "Mozilla/5.0 (Windows NT 10.0; Win64; x64; rv:133.0) Gecko/20100101 Firefox/133.0",
		TLSProfile: "firefox-133",
		Family:     Firefox,
		Platform:   "Windows",
	},
	{
		UserAgent:  "Mozilla/5.0 (Macintosh; Intel Mac OS X 10.15; rv:133.0) Gecko/20100101 Firefox/133.0",
		TLSProfile: "firefox-133",
		Family:     Firefox,
		Platform:   "macOS",
	},
	{
		UserAgent:  "Mozilla/5.0 (X11; Linux x86_64; rv:133.0) Gecko/20100101 Firefox/133.0",
		TLSProfile: "firefox-133",
		Family:     Firefox,
		Platform:   "Linux",
	},
	{
		UserAgent:  "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/18.0 Safari/605.1.15",
		TLSProfile: "safari-18",
		Family:     Safari,
		Platform:   "macOS",
	},
}

// DefaultProfiles returns a copy of the built-in profile table.
func DefaultProfiles() []Profile {
	return slices.Clone(defaultProfiles)
}

// NoReferer is the explicit "direct navigation" draw.
const NoReferer = ""

var defaultReferers = []string{
	"https://www.google.com/",
	"https://www.bing.com/",
	"https://duckduckgo.com/",
	"https://t.co/",
	"https://www.reddit.com/",
	"https://news.ycombinator.com/",
	NoReferer,
}

var defaultViewports = []Viewport{
	{Width: 1920, Height: 1080},
	{Width: 1366, Height: 768},
	{Width: 1536, Height: 864},
	{Width: 1440, Height: 900},
	{Width: 1280, Height: 720},
	{Width: 2560, Height: 1440},
}

var defaultLanguages = []string{
	"en-US,en;q=0.9",
	"en-GB,en;q=0.9",
	"en-US,en;q=0.8",
}

// Pool draws random identities. Every draw is independent.
type Pool struct {
	mu        sync.Mutex
	rng       *rand.Rand
	profiles  []Profile
	referers  []string
	viewports []Viewport
	languages []string
}

// Option customizes a Pool.
type Option func(*Pool)

// WithRand injects the random source, mainly for tests.
func WithRand(rng *rand.Rand) Option {
	return func(p *Pool) {
		p.rng = rng
	}
}

// WithProfiles overrides the profile table.
func WithProfiles(profiles []Profile) Option {
	return func(p *Pool) {
		if len(profiles) > 0 {
			p.profiles = profiles
		}
	}
}

// New returns a Pool seeded from the runtime's random source.
func New(opts ...Option) *Pool {
	p := &Pool{
		rng:       rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64())),
		profiles:  defaultProfiles,
		referers:  defaultReferers,
		viewports: defaultViewports,
		languages: defaultLanguages,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Profile returns a random matched UA/TLS pair.
func (p *Pool) Profile() Profile {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.profiles[p.rng.IntN(len(p.profiles))]
}

// Referer returns a random referer, possibly NoReferer.
func (p *Pool) Referer() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.referers[p.rng.IntN(len(p.referers))]
}

// Viewport returns a random window size.
func (p *Pool) Viewport() Viewport {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.viewports[p.rng.IntN(len(p.viewports))]
}

// AcceptLanguage returns a random Accept-Language value.
func (p *Pool) AcceptLanguage() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.languages[p.rng.IntN(len(p.languages))]
}

// Identity bundles one draw of every dimension for a single attempt.
type Identity struct {
	Profile        Profile
	Referer        string
	Viewport       Viewport
	AcceptLanguage string
}

// Draw returns a fresh identity for one attempt.
func (p *Pool) Draw() Identity {
	return Identity{
		Profile:        p.Profile(),
		Referer:        p.Referer(),
		Viewport:       p.Viewport(),
		AcceptLanguage: p.AcceptLanguage(),
	}
}

// Headers returns the request headers a real browser of this identity sends
// on a top-level navigation. Client hints are only emitted for Chromium.
func (id Identity) Headers() map[string]string {
	h := map[string]string{
		"User-Agent":                id.Profile.UserAgent,
		"Accept":                    "text/html,application/xhtml+xml,application/xml;q=0.9,image/avif,image/webp,*/*;q=0.8",
		"Accept-Language":           id.AcceptLanguage,
		"Accept-Encoding":           "gzip, deflate, br",
		"Upgrade-Insecure-Requests": "1",
		"Sec-Fetch-Dest":            "document",
		"Sec-Fetch-Mode":            "navigate",
		"Sec-Fetch-User":            "?1",
	}
	if id.Referer == NoReferer {
		h["Sec-Fetch-Site"] = "none"
	} else {
		h["Sec-Fetch-Site"] = "cross-site"
		h["Referer"] = id.Referer
	}
	if id.Profile.Family == Chrome {
		h["Sec-CH-UA"] = `"Google Chrome";v="143", "Chromium";v="143", "Not A(Brand";v="24"`
		h["Sec-CH-UA-Mobile"] = "?0"
		h["Sec-CH-UA-Platform"] = `"` + id.Profile.Platform + `"`
	}
	return h
}
