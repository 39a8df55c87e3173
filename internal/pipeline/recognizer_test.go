package pipeline

import (
	"testing"

	"github.com/calvin-seamons/shadowscribe/internal/domain"
	"github.com/calvin-seamons/shadowscribe/internal/knowledge"
)

func testGazetteer() []knowledge.GazetteerEntry {
	return []knowledge.GazetteerEntry{
		{Name: "Duskryn Nightwarden", Type: domain.EntityCharacter, Aliases: []string{"Duskryn"}},
		{Name: "Vexa", Type: domain.EntityNPC},
		{Name: "Kharvos", Type: domain.EntityPlace},
	}
}

func TestRecognizePrefersLongestMatch(t *testing.T) {
	r := NewRecognizer(testGazetteer())

	nq := r.Recognize("What is Duskryn Nightwarden's armor class?")
	if nq.Normalized != "What is {CHARACTER}'s armor class?" {
		t.Errorf("normalized = %q", nq.Normalized)
	}
	if len(nq.Extractions) != 1 {
		t.Fatalf("extractions = %d, want 1", len(nq.Extractions))
	}
	e := nq.Extractions[0]
	if e.Name != "Duskryn Nightwarden" || e.Surface != "Duskryn Nightwarden" || e.Confidence != 1.0 {
		t.Errorf("extraction = %+v", e)
	}
}

func TestRecognizeAliasBindsCanonicalName(t *testing.T) {
	r := NewRecognizer(testGazetteer())

	nq := r.Recognize("How many hit points does Duskryn have?")
	e, ok := nq.Resolve("{CHARACTER}")
	if !ok {
		t.Fatalf("no {CHARACTER} binding: %+v", nq.Bindings)
	}
	if e.Name != "Duskryn Nightwarden" {
		t.Errorf("canonical name = %q, want Duskryn Nightwarden", e.Name)
	}
	if e.Surface != "Duskryn" {
		t.Errorf("surface = %q, want Duskryn", e.Surface)
	}
	if e.Confidence >= 1.0 {
		t.Errorf("alias confidence = %v, want < 1.0", e.Confidence)
	}
}

func TestRecognizeNumbersDuplicateTypes(t *testing.T) {
	r := NewRecognizer([]knowledge.GazetteerEntry{
		{Name: "Vexa", Type: domain.EntityNPC},
		{Name: "Tobias", Type: domain.EntityNPC},
	})

	nq := r.Recognize("Did Vexa ever mention Tobias?")
	if nq.Normalized != "Did {NPC} ever mention {NPC_2}?" {
		t.Errorf("normalized = %q", nq.Normalized)
	}
	if _, ok := nq.Resolve("{NPC_2}"); !ok {
		t.Errorf("missing {NPC_2} binding: %+v", nq.Bindings)
	}
}

func TestRecognizeRespectsWordBoundaries(t *testing.T) {
	r := NewRecognizer([]knowledge.GazetteerEntry{
		{Name: "Ash", Type: domain.EntityNPC},
	})

	nq := r.Recognize("The flashing blade left only ashes behind")
	if nq.Normalized != nq.Raw {
		t.Errorf("substring matched inside a word: %q", nq.Normalized)
	}
}

func TestRecognizeMultibyteNeighborBlocksMatch(t *testing.T) {
	r := NewRecognizer([]knowledge.GazetteerEntry{
		{Name: "Vexa", Type: domain.EntityNPC},
	})

	// The rune before "vexa" is an accented letter, so this is not a
	// standalone mention.
	nq := r.Recognize("Who owns Cafévexa these days?")
	if nq.Normalized != nq.Raw || len(nq.Extractions) != 0 {
		t.Errorf("matched inside a word with a multibyte neighbor: %+v", nq)
	}

	nq = r.Recognize("Où est Vexa?")
	if nq.Normalized != "Où est {NPC}?" {
		t.Errorf("normalized = %q", nq.Normalized)
	}
}

func TestRecognizeCaseInsensitiveKeepsSurface(t *testing.T) {
	r := NewRecognizer(testGazetteer())

	nq := r.Recognize("what happened in KHARVOS?")
	if nq.Normalized != "what happened in {PLACE}?" {
		t.Errorf("normalized = %q", nq.Normalized)
	}
	if e := nq.Extractions[0]; e.Surface != "KHARVOS" || e.Name != "Kharvos" {
		t.Errorf("extraction = %+v", e)
	}
}

func TestRecognizeEmptyGazetteerPassesThrough(t *testing.T) {
	r := NewRecognizer(nil)

	nq := r.Recognize("Who is Vexa?")
	if nq.Normalized != "Who is Vexa?" || len(nq.Extractions) != 0 {
		t.Errorf("expected pass-through, got %+v", nq)
	}
	if len(nq.Bindings) != 0 {
		t.Errorf("bindings = %+v, want empty", nq.Bindings)
	}
}
