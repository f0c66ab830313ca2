package response

import (
	"mime"
	"strings"

	"github.com/saintfish/chardet"
	"golang.org/x/net/html/charset"
)

// DefaultCharset applies when a response names no usable charset.
const DefaultCharset = "UTF-8"

const octetStream = "application/octet-stream"

// ResolveCharset returns the charset for a Content-Type value: the charset
// parameter when it names a known encoding, "" for exactly
// application/octet-stream, and DefaultCharset otherwise.
func ResolveCharset(contentType string) string {
	name, _ := declaredCharset(contentType)
	return name
}

// declaredCharset resolves the charset; explicit is false when the header
// carried no charset parameter, so a sniffed guess may replace the default.
func declaredCharset(contentType string) (name string, explicit bool) {
	ct := strings.TrimSpace(contentType)
	if ct == "" {
		return DefaultCharset, false
	}
	if strings.EqualFold(ct, octetStream) {
		return "", true
	}

	_, params, err := mime.ParseMediaType(ct)
	if err != nil {
		return DefaultCharset, false
	}
	declared := strings.TrimSpace(params["charset"])
	if declared == "" {
		return DefaultCharset, false
	}
	if enc, _ := charset.Lookup(declared); enc == nil {
		return DefaultCharset, false
	}
	return declared, true
}

// sniffCharset guesses the encoding of content. ok is false when the guess
// is not a charset the decoder knows.
func sniffCharset(content []byte) (string, bool) {
	if len(content) == 0 {
		return "", false
	}
	result, err := chardet.NewTextDetector().DetectBest(content)
	if err != nil || result == nil || result.Charset == "" {
		return "", false
	}
	if enc, _ := charset.Lookup(result.Charset); enc == nil {
		return "", false
	}
	return result.Charset, true
}
