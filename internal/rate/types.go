package rate

import "time"

// Window is the span a request budget refills over.
type Window int

const (
	Minute Window = iota
	Hour
	Day
)

var windows = [...]struct {
	name string
	span time.Duration
}{
	Minute: {"minute", time.Minute},
	Hour:   {"hour", time.Hour},
	Day:    {"day", 24 * time.Hour},
}

func (w Window) valid() bool {
	return w >= 0 && int(w) < len(windows)
}

func (w Window) String() string {
	if !w.valid() {
		return "unknown"
	}
	return windows[w].name
}

// Duration falls back to a minute for unknown windows.
func (w Window) Duration() time.Duration {
	if !w.valid() {
		return time.Minute
	}
	return windows[w].span
}

// Headers names the response headers a provider reports limits through.
type Headers struct {
	RetryAfter string
}

// StandardHeaders reads only Retry-After, which is all the MELCloud
// gateway sends on 429 and 503.
func StandardHeaders() Headers {
	return Headers{RetryAfter: "Retry-After"}
}

// Declaration is an immutable description of one provider's budget.
// Builder methods return modified copies.
type Declaration struct {
	provider string
	limits   map[Window]int
	headers  Headers
}

func Provider(name string) Declaration {
	return Declaration{provider: name}
}

func (d Declaration) ProviderName() string { return d.provider }

// MaxRequestsPer caps requests per window. A non-positive limit removes the
// cap for that window.
func (d Declaration) MaxRequestsPer(window Window, limit int) Declaration {
	limits := d.Limits()
	if limit > 0 {
		limits[window] = limit
	} else {
		delete(limits, window)
	}
	d.limits = limits
	return d
}

func (d Declaration) ReadHeaders(headers Headers) Declaration {
	d.headers = headers
	return d
}

// Limits returns a copy of the configured caps.
func (d Declaration) Limits() map[Window]int {
	out := make(map[Window]int, len(d.limits)+1)
	for w, l := range d.limits {
		out[w] = l
	}
	return out
}

func (d Declaration) Headers() Headers { return d.headers }

func (d Declaration) HasLimits() bool { return len(d.limits) > 0 }
