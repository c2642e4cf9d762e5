package config

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/BurntSushi/toml"
)

// maxLevenshteinDistance is the maximum edit distance for "did you mean?"
// suggestions when unknown config keys are detected.
const maxLevenshteinDistance = 3

// knownKeys lists the valid keys per section; "" is the top level. Section
// names themselves are valid top-level keys.
var knownKeys = map[string][]string{
	"":          {"api_key", "project", "email", "endpoints", "network", "transfers", "logging"},
	"endpoints": {"database_url", "store_url", "storage_url", "identity_url", "token_url", "bucket"},
	"network":   {"connect_timeout", "user_agent", "force_http_11"},
	"transfers": {"bandwidth_limit", "parallel_transfers"},
	"logging":   {"log_level", "log_format"},
}

func init() {
	for _, keys := range knownKeys {
		sort.Strings(keys)
	}
}

// checkUnknownKeys inspects TOML metadata for undecoded keys and returns
// an error with "did you mean?" suggestions for each unknown key. Keys
// inside an unknown section are reported once, via the section.
func checkUnknownKeys(md *toml.MetaData) error {
	var errs []error

	for _, key := range md.Undecoded() {
		if err := unknownKeyError(key); err != nil {
			errs = append(errs, err)
		}
	}

	return errors.Join(errs...)
}

func unknownKeyError(key toml.Key) error {
	switch len(key) {
	case 1:
		return suggest(key[0], key.String(), knownKeys[""], "")
	case 2:
		known, ok := knownKeys[key[0]]
		if !ok {
			return nil
		}

		return suggest(key[1], key.String(), known, key[0]+".")
	default:
		return nil
	}
}

func suggest(name, full string, known []string, prefix string) error {
	if match := closestMatch(name, known); match != "" {
		return fmt.Errorf("unknown config key %q: did you mean %q?", full, prefix+match)
	}

	return fmt.Errorf("unknown config key %q", full)
}

// closestMatch finds the closest known key by Levenshtein distance.
// Returns empty string if no match is within maxLevenshteinDistance.
func closestMatch(unknown string, known []string) string {
	best := ""
	bestDist := maxLevenshteinDistance + 1

	for _, k := range known {
		d := levenshtein(strings.ToLower(unknown), k)
		if d < bestDist {
			bestDist = d
			best = k
		}
	}

	return best
}

// levenshtein computes the edit distance between two strings.
func levenshtein(a, b string) int {
	if a == "" {
		return len(b)
	}

	if b == "" {
		return len(a)
	}

	// Single-row optimization avoids allocating a full matrix.
	prev := make([]int, len(b)+1)
	curr := make([]int, len(b)+1)

	for j := range prev {
		prev[j] = j
	}

	for i := range len(a) {
		curr[0] = i + 1

		for j := range len(b) {
			cost := 1
			if a[i] == b[j] {
				cost = 0
			}

			curr[j+1] = min(curr[j]+1, prev[j+1]+1, prev[j]+cost)
		}

		prev, curr = curr, prev
	}

	return prev[len(b)]
}
