package detect

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestSignatureSetMatchesSQLMeta(t *testing.T) {
	set, err := NewSignatureSet(zap.NewNop().Sugar())
	require.NoError(t, err)

	tests := []struct {
		name      string
		indicator string
	}{
		{"union select", "id=1 UNION SELECT username, password FROM users"},
		{"tautology", "' OR 1=1 --"},
		{"drop table", "'; DROP TABLE accounts; --"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			matched := set.MatchIndicators([]string{tt.indicator})
			assert.Contains(t, matched, "sql_meta")
		})
	}
}

func TestSignatureSetMatchesXSSMarkup(t *testing.T) {
	set, err := NewSignatureSet(zap.NewNop().Sugar())
	require.NoError(t, err)

	matched := set.MatchIndicators([]string{`<ScRiPt>alert(document.cookie)</script>`})
	assert.Contains(t, matched, "xss_markup")

	matched = set.MatchIndicators([]string{`<img src=x onerror=alert(1)>`})
	assert.Contains(t, matched, "xss_markup")
}

func TestSignatureSetDeduplicatesAcrossIndicators(t *testing.T) {
	set, err := NewSignatureSet(zap.NewNop().Sugar())
	require.NoError(t, err)

	matched := set.MatchIndicators([]string{
		"UNION SELECT 1,2,3",
		"or 1 = 1",
		"../../etc/passwd",
	})
	assert.Equal(t, []string{"sql_meta", "path_traversal"}, matched)
}

func TestSignatureSetNoMatches(t *testing.T) {
	set, err := NewSignatureSet(zap.NewNop().Sugar())
	require.NoError(t, err)

	assert.Nil(t, set.MatchIndicators([]string{"GET /healthz HTTP/1.1"}))
	assert.Nil(t, set.MatchIndicators(nil))
}

func TestSignatureSetCachedIndicatorIsStable(t *testing.T) {
	set, err := NewSignatureSet(zap.NewNop().Sugar())
	require.NoError(t, err)

	indicator := "UNION SELECT username FROM users"
	first := set.MatchIndicators([]string{indicator})
	second := set.MatchIndicators([]string{indicator})
	assert.Equal(t, first, second)
	assert.Contains(t, second, "sql_meta")
}

func TestSignatureSetRejectsBadPattern(t *testing.T) {
	_, err := newSignatureSet([]Signature{
		{Name: "broken", Pattern: "("},
	}, zap.NewNop().Sugar())
	assert.Error(t, err)
}
