package orchestrator

import "testing"

func TestResolvePathSubstitutesPlaceholders(t *testing.T) {
	o := &Orchestrator{
		PathTemplate: "/data/{observatory}/{hemisphere}/{controller}-{exposure_no}.fits",
		Observatory:  "apo",
		Hemisphere:   "n",
	}
	got := o.ResolvePath("sp1", "", 42)
	want := "/data/apo/n/sp1-42.fits"
	if got != want {
		t.Fatalf("got %q want %q", got, want)
	}
}

func TestResolvePathAppendsDetectorSuffix(t *testing.T) {
	o := &Orchestrator{PathTemplate: "/data/{controller}-{exposure_no}.fits"}
	got := o.ResolvePath("sp1", "b1", 7)
	want := "/data/sp1-7-b1.fits"
	if got != want {
		t.Fatalf("got %q want %q", got, want)
	}
}

func TestBiasSectionEmptyWithoutOverscan(t *testing.T) {
	if s := biasSection(acfGeometryFixture(0, 0)); s != "" {
		t.Fatalf("expected empty bias section, got %q", s)
	}
}

func TestBiasSectionComputesRegion(t *testing.T) {
	s := biasSection(acfGeometryFixture(5, 2))
	want := "[101:105,101:102]"
	if s != want {
		t.Fatalf("got %q want %q", s, want)
	}
}
