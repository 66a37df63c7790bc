// Package mountopts parses the repeated "-o" flag into the option map the
// host kernel-bridge library wants, the way the teacher's internal/mount
// package does for gcsfuse's own "-o" handling.
package mountopts

import "strings"

// Parse splits a single "-o" value, which may itself be a comma-separated
// list (e.g. "-o rw,noatime"), and merges the resulting key[=value] pairs
// into dst. A bare key such as "rw" is recorded with an empty value, the
// convention fuse.MountConfig.Options expects for valueless options.
func Parse(dst map[string]string, opt string) {
	for _, part := range strings.Split(opt, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		k, v, _ := strings.Cut(part, "=")
		dst[k] = v
	}
}

// ParseAll applies Parse to every element of opts, in order, so later
// values win over earlier ones for the same key.
func ParseAll(opts []string) map[string]string {
	dst := make(map[string]string)
	for _, o := range opts {
		Parse(dst, o)
	}
	return dst
}
