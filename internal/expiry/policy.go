// Package expiry maps the expiry tokens accepted on the wire to absolute
// expiration instants.
package expiry

import "time"

// DefaultToken is used for empty or unrecognized tokens.
const DefaultToken = "1d"

// Option describes one accepted token.
type Option struct {
	Token    string        `json:"token"`
	Duration time.Duration `json:"-"`
	Seconds  int64         `json:"seconds"`
}

var options = []Option{
	{Token: "10m", Duration: 10 * time.Minute},
	{Token: "1h", Duration: time.Hour},
	{Token: "1d", Duration: 24 * time.Hour},
	{Token: "7d", Duration: 7 * 24 * time.Hour},
	{Token: "30d", Duration: 30 * 24 * time.Hour},
}

var durations = func() map[string]time.Duration {
	m := make(map[string]time.Duration, len(options))
	for _, o := range options {
		m[o.Token] = o.Duration
	}
	return m
}()

// Duration returns the nominal lifetime for token. Unknown tokens get the
// DefaultToken duration; this function never fails.
func Duration(token string) time.Duration {
	if d, ok := durations[token]; ok {
		return d
	}
	return durations[DefaultToken]
}

// Resolve returns the instant at which a snippet created at now with the
// given token expires.
func Resolve(token string, now time.Time) time.Time {
	return now.Add(Duration(token))
}

// Known reports whether token is part of the accepted vocabulary.
func Known(token string) bool {
	_, ok := durations[token]
	return ok
}

// Options lists the accepted tokens, shortest first.
func Options() []Option {
	out := make([]Option, len(options))
	for i, o := range options {
		o.Seconds = int64(o.Duration / time.Second)
		out[i] = o
	}
	return out
}

// Tokens returns the accepted tokens, shortest first.
func Tokens() []string {
	out := make([]string, len(options))
	for i, o := range options {
		out[i] = o.Token
	}
	return out
}
