package queue

import "testing"

func TestNormalizeStripsFragment(t *testing.T) {
	withFragment, err := Normalize("https://oldschool.runescape.wiki/w/Dragon#Combat")
	if err != nil {
		t.Fatalf("Normalize: %v", err)
	}
	without, err := Normalize("https://oldschool.runescape.wiki/w/Dragon")
	if err != nil {
		t.Fatalf("Normalize: %v", err)
	}
	if withFragment.URL != without.URL {
		t.Fatalf("fragment invariance violated: %q != %q", withFragment.URL, without.URL)
	}
}

func TestNormalizeLowercasesHost(t *testing.T) {
	n, err := Normalize("https://EN.Wikipedia.ORG/wiki/Go")
	if err != nil {
		t.Fatalf("Normalize: %v", err)
	}
	if n.Domain != "en.wikipedia.org" {
		t.Fatalf("got domain %q, want lowercased host", n.Domain)
	}
}

func TestNormalizeRejectsHostless(t *testing.T) {
	cases := []string{"not a url", "/just/a/path", "://broken"}
	for _, c := range cases {
		if _, err := Normalize(c); err != ErrInvalidURL {
			t.Errorf("Normalize(%q) = _, %v; want ErrInvalidURL", c, err)
		}
	}
}
