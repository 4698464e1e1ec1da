package docs

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

const articleHTML = `<html><head><title>Orthopedic Dog Bed</title><style>.x{}</style></head>
<body><nav>Home | Shop</nav>
<article><h1>Orthopedic Dog Bed</h1>
<p>The orthopedic dog bed uses a 4 inch memory foam core that supports joints of senior dogs and large breeds every night.</p>
<p>The removable cover is machine washable, water resistant, and made from a soft microfiber that keeps its shape after repeated cleaning.</p>
<p>Available in medium, large and extra large sizes, with a non-slip bottom that keeps the bed in place on hardwood floors.</p>
</article><script>var tracking = 1;</script></body></html>`

func TestExtractHTML(t *testing.T) {
	text, err := ExtractHTML([]byte(articleHTML), nil)
	require.NoError(t, err)
	require.Contains(t, text, "memory foam core")
	require.NotContains(t, text, "tracking")
}

func TestBodyTextFallback(t *testing.T) {
	text, err := bodyText([]byte(`<html><body><div>  Size:   Large </div><script>x()</script><p>Color: Grey</p></body></html>`))
	require.NoError(t, err)
	require.Contains(t, text, "Size: Large")
	require.Contains(t, text, "Color: Grey")
	require.NotContains(t, text, "x()")
}

func TestLoadFilesAndURLs(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/page":
			w.Header().Set("Content-Type", "text/html; charset=utf-8")
			fmt.Fprint(w, articleHTML)
		case "/plain":
			w.Header().Set("Content-Type", "text/plain")
			fmt.Fprint(w, "  weight 2kg  ")
		default:
			http.NotFound(w, r)
		}
	}))
	defer ts.Close()

	dir := t.TempDir()
	txt := filepath.Join(dir, "facts.txt")
	require.NoError(t, os.WriteFile(txt, []byte("\nMaterial: memory foam\n"), 0o644))
	html := filepath.Join(dir, "page.html")
	require.NoError(t, os.WriteFile(html, []byte(articleHTML), 0o644))
	blank := filepath.Join(dir, "blank.md")
	require.NoError(t, os.WriteFile(blank, []byte("   \n"), 0o644))

	l := NewLoader(0)
	bundle, err := l.Load(context.Background(), []string{
		txt, html, ts.URL + "/page", ts.URL + "/plain", ts.URL + "/missing",
		blank, filepath.Join(dir, "nope.txt"), "",
	})
	require.NoError(t, err)
	require.Len(t, bundle.Documents, 4)
	require.Equal(t, "Material: memory foam", bundle.Documents[0].Text)
	require.Contains(t, bundle.Documents[1].Text, "memory foam core")
	require.Contains(t, bundle.Documents[2].Text, "memory foam core")
	require.Equal(t, "weight 2kg", bundle.Documents[3].Text)
	require.Len(t, bundle.Warnings, 3)
	require.Contains(t, bundle.Warnings[0], "HTTP 404")
	require.Contains(t, bundle.Warnings[1], "资料内容为空")
	require.Len(t, bundle.Texts(), 4)
	require.False(t, bundle.Empty())
}

func TestLoadStopsOnCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	bundle, err := NewLoader(0).Load(ctx, []string{"a.txt"})
	require.ErrorIs(t, err, context.Canceled)
	require.True(t, bundle.Empty())
}
