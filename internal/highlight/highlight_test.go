package highlight

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Adithya-Monish-Kumar-K/Fulltext-Index-Manager/internal/analysis"
)

func TestFragmentWrapsMatches(t *testing.T) {
	h := New(analysis.Simple{})
	out, ok := h.Fragment("desc", "alice likes tea", []string{"tea"})
	assert.True(t, ok)
	assert.Equal(t, "alice likes <font color='red'>tea</font>", out)
}

func TestFragmentMatchesStemmedForms(t *testing.T) {
	h := New(analysis.Simple{}).WithMarkers("[", "]")
	out, ok := h.Fragment("desc", "Bob Likes coffee", []string{"lik"})
	assert.True(t, ok)
	assert.Equal(t, "Bob [Likes] coffee", out)
}

func TestFragmentNoMatchReturnsRaw(t *testing.T) {
	h := New(analysis.Simple{})
	raw := "  bob likes coffee  "
	out, ok := h.Fragment("desc", raw, []string{"tea"})
	assert.False(t, ok)
	assert.Equal(t, raw, out)

	out, ok = h.Fragment("desc", raw, nil)
	assert.False(t, ok)
	assert.Equal(t, raw, out)

	out, ok = h.Fragment("desc", "the of and", []string{"the"})
	assert.False(t, ok)
	assert.Equal(t, "the of and", out)
}

func TestFragmentPicksDensestFragment(t *testing.T) {
	h := &Highlighter{Analyzer: analysis.Simple{}, Pre: "<b>", Post: "</b>", FragmentSize: 30}
	text := "coffee beans roasted daily in small batches. " +
		"green tea and black tea served with milk. " +
		"pastries baked fresh every morning"
	out, ok := h.Fragment("desc", text, []string{"tea", "milk"})
	assert.True(t, ok)
	assert.Contains(t, out, "<b>tea</b>")
	assert.NotContains(t, out, "coffee")
	assert.NotContains(t, out, "pastries")
	assert.LessOrEqual(t, len(stripMarkers(out)), 40)
}

func TestFragmentPrefersEarliestOnTie(t *testing.T) {
	h := &Highlighter{Analyzer: analysis.Simple{}, Pre: "<b>", Post: "</b>", FragmentSize: 12}
	out, ok := h.Fragment("desc", "tea first here, then tea again", []string{"tea"})
	assert.True(t, ok)
	assert.True(t, strings.HasPrefix(out, "<b>tea</b> first"), out)
}

func TestFragmentMultibyte(t *testing.T) {
	h := New(analysis.Simple{}).WithMarkers("«", "»")
	out, ok := h.Fragment("desc", "café naïve crème", []string{"naïve"})
	assert.True(t, ok)
	assert.Equal(t, "café «naïve» crème", out)
}

func TestFragmentMergesOverlappingBigrams(t *testing.T) {
	cjk, err := analysis.New(analysis.CJKName)
	require.NoError(t, err)
	h := New(cjk).WithMarkers("[", "]")

	out, ok := h.Fragment("", "这个是用户", analysis.Terms(cjk, "", "是用户"))
	assert.True(t, ok)
	assert.Equal(t, "这个[是用户]", out)
}

func TestFragmentSplitsOverlappingTokens(t *testing.T) {
	cjk, err := analysis.New(analysis.CJKName)
	require.NoError(t, err)
	h := &Highlighter{Analyzer: cjk, Pre: "[", Post: "]", FragmentSize: 9}
	text := "这个是用户的数据"

	var out string
	var ok bool
	require.NotPanics(t, func() {
		out, ok = h.Fragment("", text, analysis.Terms(cjk, "", "用户"))
	})
	assert.True(t, ok)
	assert.Contains(t, out, "用户")
	assert.Contains(t, out, "[")
	assert.Equal(t, strings.Count(out, "["), strings.Count(out, "]"))
}

func stripMarkers(s string) string {
	return strings.NewReplacer("<b>", "", "</b>", "").Replace(s)
}
