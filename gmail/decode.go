package gmail

import (
	"encoding/base64"
	"strings"

	gmailv1 "google.golang.org/api/gmail/v1"
)

// BodyText normalizes a message body into UTF-8 text for analysis. A single
// top-level payload is decoded directly; a multipart body contributes its
// text/plain and text/html parts, concatenated in order. Attachments and
// other MIME types are ignored. A part that fails to decode contributes
// nothing; whatever text was recovered still flows to the extractor.
func BodyText(msg *gmailv1.Message) string {
	if msg == nil || msg.Payload == nil {
		return ""
	}
	if msg.Payload.Body != nil && msg.Payload.Body.Data != "" {
		return decodeBase64(msg.Payload.Body.Data)
	}

	var b strings.Builder
	collectTextParts(msg.Payload.Parts, &b)
	return b.String()
}

func collectTextParts(parts []*gmailv1.MessagePart, b *strings.Builder) {
	for _, part := range parts {
		if part == nil {
			continue
		}
		mime := strings.ToLower(part.MimeType)
		switch {
		case mime == "text/plain" || mime == "text/html":
			if part.Body != nil && part.Body.Data != "" {
				b.WriteString(decodeBase64(part.Body.Data))
			}
		case strings.HasPrefix(mime, "multipart/"):
			collectTextParts(part.Parts, b)
		}
	}
}

// decodeBase64 decodes Gmail body data: URL-safe characters are substituted
// back to the standard alphabet before decoding, and unpadded input is
// tolerated. Malformed data yields an empty string rather than an error.
func decodeBase64(data string) string {
	std := strings.NewReplacer("-", "+", "_", "/").Replace(data)
	if b, err := base64.StdEncoding.DecodeString(std); err == nil {
		return string(b)
	}
	b, err := base64.RawStdEncoding.DecodeString(strings.TrimRight(std, "="))
	if err != nil {
		return ""
	}
	return string(b)
}
