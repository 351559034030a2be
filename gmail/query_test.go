package gmail

import (
	"strings"
	"testing"
)

func TestBuildQuery_AgeFilter(t *testing.T) {
	q := BuildQuery(14)
	if !strings.HasSuffix(q, "newer_than:14d") {
		t.Fatalf("query missing age filter: %s", q)
	}
	if !strings.HasPrefix(q, "(") {
		t.Fatalf("keyword disjunction not parenthesized: %s", q)
	}
}

func TestBuildQuery_CoversAllLanguages(t *testing.T) {
	q := BuildQuery(30)

	// One representative phrase per language.
	for _, kw := range []string{
		`"חשבונית"`,            // Hebrew
		`"invoice"`,            // English
		`"квитанция"`,          // Russian
		`"فاتورة"`,             // Arabic
		`"facture"`,            // French
		`"confirmación de pago"`, // Spanish
	} {
		if !strings.Contains(q, kw) {
			t.Errorf("query missing %s", kw)
		}
	}

	if !strings.Contains(q, " OR ") {
		t.Fatalf("keywords not ORed: %s", q)
	}
}

func TestBuildQuery_PhrasesQuoted(t *testing.T) {
	q := BuildQuery(7)
	// Multi-word phrases must be quoted or the search splits them.
	if strings.Contains(q, ` payment confirmation `) && !strings.Contains(q, `"payment confirmation"`) {
		t.Fatalf("multi-word phrase not quoted: %s", q)
	}
	if !strings.Contains(q, `"payment confirmation"`) {
		t.Fatalf("expected quoted phrase in query: %s", q)
	}
}
