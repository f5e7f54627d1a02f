package detect

import (
	"fmt"
	"time"

	"github.com/dlclark/regexp2"
	lru "github.com/hashicorp/golang-lru/v2"
	"go.uber.org/zap"
)

// signatureMatchTimeout caps each pattern evaluation. Indicator strings are
// attacker-supplied, so every match needs a backtracking limit; regexp2's
// MatchTimeout gives a hard bound the standard library cannot.
const signatureMatchTimeout = 500 * time.Millisecond

const (
	// indicatorCacheSize bounds the per-indicator match cache. Indicators
	// repeat heavily across events from the same source.
	indicatorCacheSize = 4096

	// maxCachedIndicatorLen keeps oversized payloads out of the cache.
	maxCachedIndicatorLen = 1024
)

// Signature is one named indicator pattern.
type Signature struct {
	Name    string
	Pattern string

	re *regexp2.Regexp
}

// builtinSignatures are the payload patterns the type-specific handlers use
// to enrich incident detail. Matches never change an event's score.
var builtinSignatures = []Signature{
	{Name: "sql_meta", Pattern: `(?i)(union\s+select|or\s+1\s*=\s*1|;\s*--|\bdrop\s+table\b|\bexec\s*\()`},
	{Name: "xss_markup", Pattern: `(?i)(<script\b|javascript\s*:|on(error|load|click)\s*=)`},
	{Name: "path_traversal", Pattern: `\.\./|\.\.\\|%2e%2e%2f`},
	{Name: "shell_meta", Pattern: `(?i)(;\s*(rm|curl|wget|nc)\b|\|\s*(sh|bash)\b|\$\(.*\))`},
	{Name: "credential_spray", Pattern: `(?i)(password\s*=|authorization:\s*basic)`},
}

// SignatureSet matches indicator strings against compiled signatures.
type SignatureSet struct {
	signatures []Signature
	cache      *lru.Cache[string, []string]
	logger     *zap.SugaredLogger
}

// NewSignatureSet compiles the built-in signatures.
func NewSignatureSet(logger *zap.SugaredLogger) (*SignatureSet, error) {
	return newSignatureSet(builtinSignatures, logger)
}

func newSignatureSet(signatures []Signature, logger *zap.SugaredLogger) (*SignatureSet, error) {
	compiled := make([]Signature, 0, len(signatures))
	for _, sig := range signatures {
		re, err := regexp2.Compile(sig.Pattern, 0)
		if err != nil {
			return nil, fmt.Errorf("failed to compile signature %s: %w", sig.Name, err)
		}
		re.MatchTimeout = signatureMatchTimeout
		sig.re = re
		compiled = append(compiled, sig)
	}
	cache, err := lru.New[string, []string](indicatorCacheSize)
	if err != nil {
		return nil, fmt.Errorf("failed to create indicator cache: %w", err)
	}
	return &SignatureSet{signatures: compiled, cache: cache, logger: logger}, nil
}

// MatchIndicators returns the names of signatures matched by any of the
// event's indicator strings, deduplicated, in signature order. Timeouts and
// match errors skip the pattern; enrichment is best-effort.
func (ss *SignatureSet) MatchIndicators(indicators []string) []string {
	if len(indicators) == 0 {
		return nil
	}

	hits := make(map[string]bool)
	for _, indicator := range indicators {
		for _, name := range ss.matchOne(indicator) {
			hits[name] = true
		}
	}
	if len(hits) == 0 {
		return nil
	}

	matched := make([]string, 0, len(hits))
	for _, sig := range ss.signatures {
		if hits[sig.Name] {
			matched = append(matched, sig.Name)
		}
	}
	return matched
}

// matchOne evaluates a single indicator against every signature, consulting
// the LRU cache first so repeated payloads skip the regexp2 work.
func (ss *SignatureSet) matchOne(indicator string) []string {
	cacheable := len(indicator) <= maxCachedIndicatorLen
	if cacheable {
		if names, ok := ss.cache.Get(indicator); ok {
			return names
		}
	}

	var names []string
	for _, sig := range ss.signatures {
		ok, err := sig.re.MatchString(indicator)
		if err != nil {
			ss.logger.Warnw("Signature evaluation failed",
				"signature", sig.Name,
				"indicator_len", len(indicator),
				"error", err)
			continue
		}
		if ok {
			names = append(names, sig.Name)
		}
	}
	if cacheable {
		ss.cache.Add(indicator, names)
	}
	return names
}
