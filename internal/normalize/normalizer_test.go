package normalize

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/webmonitor/internal/hash/sha256"
)

func newNormalizer(t *testing.T, cfg Config) *Normalizer {
	t.Helper()
	n, err := New(cfg, sha256.New())
	require.NoError(t, err)
	return n
}

func TestNormalizeStripsVolatileElements(t *testing.T) {
	t.Parallel()

	n := newNormalizer(t, Config{StripSelectors: []string{"script", "nav", ".ad"}})
	page := `<html><body>
		<nav>Menu Home About</nav>
		<script>var token = "abc";</script>
		<h1>Pricing</h1>
		<p>Basic plan:    10 dollars
		   per month</p>
		<div class="ad">Buy now</div>
		<p>Fish &amp; Chips</p>
	</body></html>`

	out, err := n.Normalize([]byte(page), "text/html; charset=utf-8")
	require.NoError(t, err)
	require.Contains(t, out.Text, "Pricing")
	require.Contains(t, out.Text, "Basic plan: 10 dollars per month")
	require.Contains(t, out.Text, "Fish & Chips")
	require.NotContains(t, out.Text, "Menu")
	require.NotContains(t, out.Text, "token")
	require.NotContains(t, out.Text, "Buy now")
	require.NotContains(t, out.Text, "<")
	for _, line := range strings.Split(out.Text, "\n") {
		require.NotEmpty(t, line)
	}
	require.Len(t, out.Fingerprint, 64)
}

func TestNormalizeIgnoresCosmeticChurn(t *testing.T) {
	t.Parallel()

	n := newNormalizer(t, Config{
		StripSelectors:   []string{"script", ".ad"},
		VolatilePatterns: []string{`\d{2}:\d{2}`},
	})
	first := `<p>Price: 10</p><script>var t=1</script><div class="ad">A</div><p>as of 09:15</p>`
	second := `<p>Price:   10</p><script>var t=2</script><div class="ad">B</div><p>as of 17:42</p>`

	a, err := n.Normalize([]byte(first), "text/html")
	require.NoError(t, err)
	b, err := n.Normalize([]byte(second), "text/html")
	require.NoError(t, err)
	require.Equal(t, a.Fingerprint, b.Fingerprint)

	changed := `<p>Price: 12</p><p>as of 17:42</p>`
	c, err := n.Normalize([]byte(changed), "text/html")
	require.NoError(t, err)
	require.NotEqual(t, a.Fingerprint, c.Fingerprint)
}

func TestNormalizeIgnoresRotatingURLTokens(t *testing.T) {
	t.Parallel()

	n := newNormalizer(t, Config{StripSelectors: []string{"script", "nav"}})
	page := func(token string) []byte {
		return []byte(`<html><body><h1>Welcome</h1>
			<p><a href="/signup?sid=` + token + `">Sign up</a> today.</p>
			<img src="/logo.png?v=` + token + `" alt="logo">
			<img src="/pixel.gif?cb=` + token + `">
			<picture><source srcset="/hero.webp?sig=` + token + `"></picture>
		</body></html>`)
	}

	a, err := n.Normalize(page("aaa111"), "text/html")
	require.NoError(t, err)
	b, err := n.Normalize(page("bbb222"), "text/html")
	require.NoError(t, err)
	require.Equal(t, a.Fingerprint, b.Fingerprint)
	require.Equal(t, a.Text, b.Text)
	require.Contains(t, a.Text, "Sign up today.")
	require.Contains(t, a.Text, "logo")
	require.NotContains(t, a.Text, "aaa111")
	require.NotContains(t, a.Text, "](")

	renamed, err := n.Normalize([]byte(`<html><body><h1>Welcome</h1>
		<p><a href="/signup?sid=aaa111">Register</a> today.</p></body></html>`), "text/html")
	require.NoError(t, err)
	require.NotEqual(t, a.Fingerprint, renamed.Fingerprint)
}

func TestNormalizeKeepsMarkdownCharactersLiteral(t *testing.T) {
	t.Parallel()

	n := newNormalizer(t, Config{})
	out, err := n.Normalize([]byte(`<p>Use *stars* with snake_case names, issue #42 [draft]</p>`), "text/html")
	require.NoError(t, err)
	require.Equal(t, "Use *stars* with snake_case names, issue #42 [draft]", out.Text)
}

func TestNormalizeDeterministic(t *testing.T) {
	t.Parallel()

	n := newNormalizer(t, Config{StripSelectors: []string{"script"}})
	page := []byte(`<ul><li>one</li><li>two</li></ul><table><tr><th>a</th></tr><tr><td>1</td></tr></table>`)
	first, err := n.Normalize(page, "text/html")
	require.NoError(t, err)
	for i := 0; i < 5; i++ {
		again, err := n.Normalize(page, "text/html")
		require.NoError(t, err)
		require.Equal(t, first, again)
	}
}

func TestNormalizePlainText(t *testing.T) {
	t.Parallel()

	n := newNormalizer(t, Config{VolatilePatterns: []string{`\d{2}:\d{2}`}})
	out, err := n.Normalize([]byte("  Hello   world \n\n\nUpdated 12:34  \n<b>kept</b>\n"), "text/plain")
	require.NoError(t, err)
	require.Equal(t, "Hello world\nUpdated\n<b>kept</b>", out.Text)

	want, err := sha256.New().Hash([]byte(out.Text))
	require.NoError(t, err)
	require.Equal(t, want, out.Fingerprint)
}

func TestNormalizeTruncatesOnRuneBoundary(t *testing.T) {
	t.Parallel()

	n := newNormalizer(t, Config{MaxChars: 4})
	out, err := n.Normalize([]byte("héllo wörld"), "text/plain")
	require.NoError(t, err)
	require.Equal(t, "héll", out.Text)
}

func TestNormalizeSniffsMissingContentType(t *testing.T) {
	t.Parallel()

	n := newNormalizer(t, Config{StripSelectors: []string{"script"}})
	out, err := n.Normalize([]byte(`<!DOCTYPE html><html><body><p>hi</p><script>x()</script></body></html>`), "")
	require.NoError(t, err)
	require.Contains(t, out.Text, "hi")
	require.NotContains(t, out.Text, "x()")
}

func TestNormalizeEmptyBody(t *testing.T) {
	t.Parallel()

	n := newNormalizer(t, Config{})
	out, err := n.Normalize(nil, "text/html")
	require.NoError(t, err)
	require.Empty(t, out.Text)
	require.Equal(t, "e3b0c44298fc1c149afbf4c8996fb92427ae41e4649b934ca495991b7852b855", out.Fingerprint)
}

func TestNewRejectsBadConfig(t *testing.T) {
	t.Parallel()

	_, err := New(Config{VolatilePatterns: []string{"("}}, sha256.New())
	require.ErrorContains(t, err, "compile pattern")

	_, err = New(Config{}, nil)
	require.ErrorContains(t, err, "hasher is required")
}

func TestCollapseLines(t *testing.T) {
	t.Parallel()

	require.Equal(t, "a b\nc", collapseLines(" a \t b \n\n   \n c "))
	require.Empty(t, collapseLines("\n \n"))
}
