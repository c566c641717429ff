package queue

import "testing"

func TestAdmitEmptyLensesRejectEverything(t *testing.T) {
	a := NewAdmitter(nil, nil)
	settings := DefaultUserSettings()

	ok, reason := a.Admit("https://en.wikipedia.org/wiki/Go", "en.wikipedia.org", settings, EnqueueSettings{})
	if ok {
		t.Fatalf("expected rejection with empty lenses, got admitted")
	}
	if reason != SkipBlocked {
		t.Fatalf("got reason %v, want SkipBlocked", reason)
	}
}

func TestAdmitDomainLens(t *testing.T) {
	lenses := []Lens{{Name: "wiki", Domains: []string{"en.wikipedia.org"}}}
	a := NewAdmitter(lenses, nil)
	settings := DefaultUserSettings()

	ok, _ := a.Admit("https://en.wikipedia.org/wiki/Go", "en.wikipedia.org", settings, EnqueueSettings{})
	if !ok {
		t.Fatalf("expected admission for lens-matched domain")
	}

	ok, reason := a.Admit("https://example.com/", "example.com", settings, EnqueueSettings{})
	if ok {
		t.Fatalf("expected rejection for non-lens domain")
	}
	if reason != SkipBlocked {
		t.Fatalf("got reason %v, want SkipBlocked", reason)
	}
}

func TestAdmitPrefixLens(t *testing.T) {
	lenses := []Lens{{Name: "roll20", URLs: []string{"https://roll20.net/compendium/dnd5e"}}}
	a := NewAdmitter(lenses, nil)
	settings := DefaultUserSettings()

	ok, _ := a.Admit("https://roll20.net/compendium/dnd5e/spells", "roll20.net", settings, EnqueueSettings{})
	if !ok {
		t.Fatalf("expected admission for prefix-matched URL")
	}
}

func TestAdmitBlockList(t *testing.T) {
	lenses := []Lens{{Name: "all", Domains: []string{"spam.example.com"}}}
	a := NewAdmitter(lenses, []string{"spam.example.com"})
	settings := DefaultUserSettings()

	ok, reason := a.Admit("https://spam.example.com/", "spam.example.com", settings, EnqueueSettings{})
	if ok {
		t.Fatalf("expected rejection for blocklisted domain")
	}
	if reason != SkipBlocked {
		t.Fatalf("got reason %v, want SkipBlocked", reason)
	}
}

func TestAdmitSkipLensesOverride(t *testing.T) {
	a := NewAdmitter(nil, nil)
	settings := DefaultUserSettings()

	ok, _ := a.Admit("https://anything.example/", "anything.example", settings, EnqueueSettings{SkipLenses: true})
	if !ok {
		t.Fatalf("expected admission when SkipLenses is set")
	}
}

func TestAdmitCrawlExternalLinks(t *testing.T) {
	a := NewAdmitter(nil, nil)
	settings := DefaultUserSettings()
	settings.CrawlExternalLinks = true

	ok, _ := a.Admit("https://anything.example/", "anything.example", settings, EnqueueSettings{})
	if !ok {
		t.Fatalf("expected admission when CrawlExternalLinks is true")
	}
}
