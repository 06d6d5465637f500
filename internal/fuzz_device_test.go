package internal

import (
	"testing"
)

// FuzzParseClientFamily feeds arbitrary user agents through the parser.
// Goal: no panics and never an empty family.
func FuzzParseClientFamily(f *testing.F) {
	f.Add("")
	f.Add("curl/8.4.0")
	f.Add("Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0 Safari/537.36")
	f.Add("Mozilla/5.0 (iPhone; CPU iPhone OS 17_0 like Mac OS X) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/17.0 Mobile/15E148 Safari/604.1")
	f.Add("((((;;;;))))")

	f.Fuzz(func(t *testing.T, ua string) {
		fam := ParseClientFamily(ua)
		if fam.OS == "" || fam.Browser == "" {
			t.Fatalf("empty family for %q: %+v", ua, fam)
		}
	})
}
