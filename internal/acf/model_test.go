package acf

import "testing"

const referenceACF = `[CONFIG]
PARAMETER0=Exposures=1
PARAMETER1=IntMS=100
PARAMETER2=ReadOut=0
PARAMETER3=Lines=100
PARAMETER4=Pixels=100
PARAMETER5=PreSkipLines=0
PARAMETER6=PreSkipPixels=0
PARAMETER7=PostSkipLines=0
PARAMETER8=PostSkipPixels=0
PARAMETER9=OverscanLines=2
PARAMETER10=OverscanPixels=0
PARAMETER11=VerticalBinning=1
PARAMETER12=HorizontalBinning=1
LINE0=CLAMP
[SYSTEM]
BACKPLANE_TYPE=1
BACKPLANE_REV=3
`

func TestParseSerializeRoundTrip(t *testing.T) {
	doc, err := Parse(referenceACF)
	if err != nil {
		t.Fatal(err)
	}
	out := doc.Serialize()

	doc2, err := Parse(out)
	if err != nil {
		t.Fatal(err)
	}
	out2 := doc2.Serialize()

	if out != out2 {
		t.Fatalf("round-trip mismatch:\n--- first ---\n%s\n--- second ---\n%s", out, out2)
	}
}

func TestNamedParameterSlotResolution(t *testing.T) {
	doc, err := Parse(referenceACF)
	if err != nil {
		t.Fatal(err)
	}
	slot, err := doc.Slot("IntMS")
	if err != nil {
		t.Fatal(err)
	}
	if slot != 1 {
		t.Fatalf("expected slot 1 for IntMS, got %d", slot)
	}
	v, err := doc.Value("IntMS")
	if err != nil {
		t.Fatal(err)
	}
	if v != "100" {
		t.Fatalf("expected IntMS=100, got %q", v)
	}
}

func TestSetValueUpdatesInPlace(t *testing.T) {
	doc, err := Parse(referenceACF)
	if err != nil {
		t.Fatal(err)
	}
	if err := doc.SetValue("Exposures", "1"); err != nil {
		t.Fatal(err)
	}
	v, err := doc.Value("Exposures")
	if err != nil {
		t.Fatal(err)
	}
	if v != "1" {
		t.Fatalf("expected Exposures=1, got %q", v)
	}
}

func TestSlotNotFound(t *testing.T) {
	doc, err := Parse(referenceACF)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := doc.Slot("DoesNotExist"); err == nil {
		t.Fatal("expected ConfigError for missing parameter")
	}
}

func TestComputeGeometry(t *testing.T) {
	doc, err := Parse(referenceACF)
	if err != nil {
		t.Fatal(err)
	}
	g, err := ComputeGeometry(doc)
	if err != nil {
		t.Fatal(err)
	}
	if g.Lines != 100 || g.Pixels != 100 {
		t.Fatalf("unexpected geometry: %+v", g)
	}
	if g.FrameLines != 102 {
		t.Fatalf("expected FrameLines 102 (100 lines + 2 overscan), got %d", g.FrameLines)
	}
	if g.ActiveWidth() != 100 || g.ActiveHeight() != 100 {
		t.Fatalf("unexpected active area: %dx%d", g.ActiveWidth(), g.ActiveHeight())
	}
}
