package api

import "testing"

func TestLinkToken(t *testing.T) {
	tests := []struct {
		id   int64
		want string
	}{
		{1, "8a6d9153de"},
		{42, "c1e01178bc"},
	}
	for _, tt := range tests {
		if got := LinkToken(tt.id, 687, "s3cret"); got != tt.want {
			t.Errorf("LinkToken(%d) = %q, want %q", tt.id, got, tt.want)
		}
	}
}

func TestLinkSignerVerify(t *testing.T) {
	s := LinkSigner{Multiplier: 687, Secret: "s3cret"}

	if !s.Verify(42, "c1e01178bc") {
		t.Error("valid token rejected")
	}
	for _, tok := range []string{"", "c1e01178b", "c1e01178bd", "8a6d9153de"} {
		if s.Verify(42, tok) {
			t.Errorf("token %q accepted for record 42", tok)
		}
	}
	if (LinkSigner{Multiplier: 687, Secret: "other"}).Verify(42, "c1e01178bc") {
		t.Error("token accepted under a different secret")
	}
}

func TestLinkSignerURL(t *testing.T) {
	s := LinkSigner{Multiplier: 687, Secret: "s3cret"}
	got := s.URL("https://forms.example.org/", 42)
	want := "https://forms.example.org/merge/42?token=c1e01178bc"
	if got != want {
		t.Errorf("URL = %q, want %q", got, want)
	}
}
