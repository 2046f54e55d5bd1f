package services

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestBuildPrefixQuery(t *testing.T) {
	require.Equal(t, "mach:*", BuildPrefixQuery("mach"))
	require.Equal(t, "mach:* & invoice:*", BuildPrefixQuery("  Mach invoice "))
	require.Equal(t, "", BuildPrefixQuery("  ...  "))
	require.Equal(t, "don:* & t:*", BuildPrefixQuery("don't"))
}

func TestQueryTerms(t *testing.T) {
	require.Equal(t, []string{"mach", "42"}, QueryTerms("Mach, 42!"))
	require.Empty(t, QueryTerms("—"))
}

func TestMakeSnippetHighlightsPartialMatch(t *testing.T) {
	snippet := MakeSnippet("hello machan how are you", []string{"mach"}, 40)
	require.Equal(t, "hello [[mach]]an how are you", snippet)
}

func TestMakeSnippetWindowsLongContent(t *testing.T) {
	content := strings.Repeat("a", 100) + " machan " + strings.Repeat("b", 100)
	snippet := MakeSnippet(content, []string{"machan"}, 20)
	require.Contains(t, snippet, "[[machan]]")
	require.True(t, strings.HasPrefix(snippet, "…"))
	require.True(t, strings.HasSuffix(snippet, "…"))
	require.Less(t, len(snippet), len(content))
}

func TestMakeSnippetMergesOverlappingTerms(t *testing.T) {
	snippet := MakeSnippet("machan", []string{"mach", "machan"}, 40)
	require.Equal(t, "[[machan]]", snippet)
}

func TestMakeSnippetNoMatchTruncates(t *testing.T) {
	content := strings.Repeat("x", 200)
	snippet := MakeSnippet(content, []string{"zz"}, 30)
	require.Equal(t, strings.Repeat("x", 60)+"…", snippet)
}

func TestMakeSnippetMultipleOccurrences(t *testing.T) {
	snippet := MakeSnippet("go go go", []string{"go"}, 40)
	require.Equal(t, "[[go]] [[go]] [[go]]", snippet)
}
