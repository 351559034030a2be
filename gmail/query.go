package gmail

import (
	"fmt"
	"strings"
)

// Keyword sets naming financial documents, grouped per language. The search
// query is the disjunction of every phrase, so a match in any language and
// script qualifies a message for extraction.
var keywordSets = [][]string{
	// Hebrew
	{"חשבונית", "חשבונית מס", "קבלה", "אישור תשלום", "אישור עסקה", "מסמך תשלום", "תשלום בוצע", "חשבונית מס קבלה"},
	// English
	{"invoice", "tax invoice", "vat invoice", "receipt", "payment receipt", "payment confirmation", "payment received", "paid invoice", "billing", "bill", "order invoice", "tax receipt"},
	// Russian
	{"счёт", "счет", "счёт-фактура", "счет-фактура", "квитанция", "оплата получена", "подтверждение оплаты"},
	// Arabic
	{"فاتورة", "إيصال", "ايصال", "تأكيد الدفع", "تم الدفع", "فاتورة ضريبية"},
	// French
	{"facture", "facture fiscale", "reçu", "confirmation de paiement", "paiement reçu"},
	// Spanish
	{"factura", "factura fiscal", "recibo", "confirmación de pago", "pago recibido"},
}

// BuildQuery returns the Gmail search expression used to find candidate
// financial messages: every keyword phrase ORed together, bounded by an age
// filter of daysBack days.
func BuildQuery(daysBack int) string {
	var phrases []string
	for _, set := range keywordSets {
		for _, kw := range set {
			phrases = append(phrases, fmt.Sprintf("%q", kw))
		}
	}
	return fmt.Sprintf("(%s) newer_than:%dd", strings.Join(phrases, " OR "), daysBack)
}
