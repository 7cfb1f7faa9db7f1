package scraper

import (
	"strings"
	"testing"

	"github.com/PuerkitoBio/goquery"
)

func TestRenderMarkdown(t *testing.T) {
	html := `<html><head><title>Jobs</title><script>var x = 1;</script></head>
	<body>
		<nav><a href="/">Home</a></nav>
		<h1>Casting   Call: Lead Actor, Riyadh, MBC</h1>
		<p>We are looking for a <b>lead actor</b> for a drama series.</p>
		<ul><li>Arabic speaker</li><li>Age 25-35</li></ul>
		<p>Location: Riyadh<br>Pay: 5000 SAR/day</p>
		<footer>Copyright</footer>
	</body></html>`

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		t.Fatal(err)
	}
	got := RenderMarkdown(doc)

	want := strings.Join([]string{
		"# Casting Call: Lead Actor, Riyadh, MBC",
		"We are looking for a lead actor for a drama series.",
		"- Arabic speaker",
		"- Age 25-35",
		"Location: Riyadh",
		"Pay: 5000 SAR/day",
	}, "\n\n")
	if got != want {
		t.Errorf("unexpected markdown:\n%s\n--- want ---\n%s", got, want)
	}
	for _, junk := range []string{"Home", "Copyright", "var x"} {
		if strings.Contains(got, junk) {
			t.Errorf("expected %q to be dropped", junk)
		}
	}
}

func TestRenderMarkdown_Table(t *testing.T) {
	doc, _ := goquery.NewDocumentFromReader(strings.NewReader(
		`<body><table><tr><td>Role</td><td>Extra</td></tr></table></body>`))
	if got := RenderMarkdown(doc); got != "Role | Extra" {
		t.Errorf("got %q", got)
	}
}
