package uploads

import "testing"

func TestResolve(t *testing.T) {
	r := NewResolver("https://x/y", "/var/www/up")

	tests := []struct {
		name string
		in   string
		want string
	}{
		{"same scheme", "https://x/y/file.pdf", "/var/www/up/file.pdf"},
		{"insecure input", "http://x/y/file.pdf", "/var/www/up/file.pdf"},
		{"nested dir", "https://x/y/2024/05/doc.PDF", "/var/www/up/2024/05/doc.PDF"},
		{"foreign host", "https://other/y/file.pdf", "https://other/y/file.pdf"},
		{"sibling prefix", "https://x/yz/a.pdf", "https://x/yz/a.pdf"},
		{"base inside query", "https://evil/?u=https://x/y/a.pdf", "https://evil/?u=https://x/y/a.pdf"},
		{"base only", "https://x/y", "https://x/y"},
		{"empty", "", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := r.Resolve(tt.in); got != tt.want {
				t.Errorf("Resolve(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestResolveInsecureBase(t *testing.T) {
	r := NewResolver("http://x/y/", "/var/www/up/")

	if got := r.Resolve("https://x/y/file.pdf"); got != "/var/www/up/file.pdf" {
		t.Errorf("Resolve = %q, want /var/www/up/file.pdf", got)
	}
}

func TestURL(t *testing.T) {
	r := NewResolver("https://x/y", "/var/www/up")

	if got := r.URL("/var/www/up/merged/1.pdf"); got != "https://x/y/merged/1.pdf" {
		t.Errorf("URL = %q", got)
	}
	if got := r.URL("/tmp/other.pdf"); got != "/tmp/other.pdf" {
		t.Errorf("URL = %q, want unchanged", got)
	}
}
