package invoice

import (
	"regexp"
	"strconv"
	"strings"
	"time"

	gmailv1 "google.golang.org/api/gmail/v1"

	"github.com/controlcash/cashmail/gmail"
)

const (
	// Accepted amounts are strictly inside (0, maxAmount). Values outside
	// the band are treated as likely false positives and skipped, which
	// trades a little recall for much better precision.
	maxAmount = 1_000_000

	// excerptRunes bounds the raw text kept on a record for later human
	// verification.
	excerptRunes = 500

	// unknownSupplier is the fallback display name. A message is never
	// rejected just because its sender cannot be named.
	unknownSupplier = "Unknown Supplier"
)

// number matches amounts with optional comma thousands separators and an
// optional dot-decimal of one or two digits.
const number = `([0-9,]+(?:\.[0-9]{1,2})?)`

// amountPatterns is the amount grammar: an ordered list of (pattern,
// currency) pairs evaluated in sequence. Symbol-prefixed forms come before
// symbol-suffixed ones, currency by currency, with a generic total/amount
// pattern as the last resort. The first in-bounds match wins; an email that
// mentions several amounts in different currencies resolves by this order.
// An empty currency means the configured default.
var amountPatterns = []struct {
	re       *regexp.Regexp
	currency string
}{
	// Israeli shekel (default local currency)
	{regexp.MustCompile(`(?i)(?:₪|שקל|ש"ח|ILS)\s*` + number), "ILS"},
	{regexp.MustCompile(`(?i)` + number + `\s*(?:₪|שקל|ש"ח|ILS)`), "ILS"},

	// US dollar
	{regexp.MustCompile(`(?i)(?:\$|USD|dollar)\s*` + number), "USD"},
	{regexp.MustCompile(`(?i)` + number + `\s*(?:\$|USD|dollar)`), "USD"},

	// Euro
	{regexp.MustCompile(`(?i)(?:€|EUR|euro)\s*` + number), "EUR"},
	{regexp.MustCompile(`(?i)` + number + `\s*(?:€|EUR|euro)`), "EUR"},

	// British pound
	{regexp.MustCompile(`(?i)(?:£|GBP|pound)\s*` + number), "GBP"},
	{regexp.MustCompile(`(?i)` + number + `\s*(?:£|GBP|pound)`), "GBP"},

	// Bare total/amount, no currency marker
	{regexp.MustCompile(`(?i)(?:סכום|total|amount|sum)\s*:?\s*` + number), ""},
}

var (
	bracketedAddr = regexp.MustCompile(`<(.+@.+)>`)
	displayName   = regexp.MustCompile(`^([^<]+)<`)
)

// Extractor turns one retrieved message into a Record, or rejects it as
// non-financial mail.
type Extractor struct {
	defaultCurrency string
}

// NewExtractor returns an Extractor tagging currency-less amounts with
// defaultCurrency.
func NewExtractor(defaultCurrency string) *Extractor {
	return &Extractor{defaultCurrency: defaultCurrency}
}

// Extract decodes msg and applies the heuristics. The second return value is
// false when no in-bounds amount was found anywhere in the subject or body,
// which is how non-financial mail is filtered out.
func (e *Extractor) Extract(msg *gmailv1.Message) (Record, bool) {
	if msg == nil || msg.Payload == nil {
		return Record{}, false
	}

	var from, subject string
	for _, h := range msg.Payload.Headers {
		switch {
		case strings.EqualFold(h.Name, "From"):
			from = h.Value
		case strings.EqualFold(h.Name, "Subject"):
			subject = h.Value
		}
	}

	body := gmail.BodyText(msg)
	amount, currency, ok := e.findAmount(body + " " + subject)
	if !ok {
		return Record{}, false
	}

	return Record{
		ID:         msg.Id,
		Date:       time.UnixMilli(msg.InternalDate),
		Supplier:   supplierName(from),
		Amount:     amount,
		Currency:   currency,
		Subject:    subject,
		Source:     SourceGmail,
		RawExcerpt: truncateRunes(body, excerptRunes),
	}, true
}

// findAmount scans text against the amount grammar in priority order and
// returns the first match whose parsed value lies strictly inside
// (0, maxAmount). Out-of-bounds matches are skipped and scanning continues.
func (e *Extractor) findAmount(text string) (float64, string, bool) {
	for _, p := range amountPatterns {
		for _, m := range p.re.FindAllStringSubmatch(text, -1) {
			raw := strings.ReplaceAll(m[1], ",", "")
			amount, err := strconv.ParseFloat(raw, 64)
			if err != nil {
				continue
			}
			if amount <= 0 || amount >= maxAmount {
				continue
			}
			currency := p.currency
			if currency == "" {
				currency = e.defaultCurrency
			}
			return amount, currency, true
		}
	}
	return 0, "", false
}

// supplierName derives a display name from a From header value. Preference
// order: quoted display name, then the first label of the address domain,
// then a fixed placeholder.
func supplierName(from string) string {
	if m := displayName.FindStringSubmatch(from); m != nil {
		name := strings.Trim(strings.TrimSpace(m[1]), `"`)
		if name != "" {
			return name
		}
	}

	addr := from
	if m := bracketedAddr.FindStringSubmatch(from); m != nil {
		addr = m[1]
	}
	if at := strings.Index(addr, "@"); at >= 0 {
		domain := addr[at+1:]
		if label, _, _ := strings.Cut(domain, "."); label != "" {
			return label
		}
	}
	return unknownSupplier
}

func truncateRunes(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
