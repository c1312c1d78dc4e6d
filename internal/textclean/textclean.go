// Package textclean normalizes text received from the remote catalog before it is stored.
package textclean

import (
	"strings"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/text/unicode/norm"
)

// Normalize returns s in Unicode NFC form.
func Normalize(s string) string {
	return norm.NFC.String(s)
}

// StripHTML removes inline markup and entities from s and normalizes the result.
// Line breaks (<br>, paragraph ends) become "\n"; script and style bodies are dropped.
// Input without markup is only normalized. If the fragment cannot be parsed,
// s is returned normalized.
func StripHTML(s string) string {
	if !strings.ContainsAny(s, "<&") {
		return Normalize(s)
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(s))
	if err != nil {
		return Normalize(s)
	}
	doc.Find("script, style").Remove()
	doc.Find("br").Each(func(_ int, sel *goquery.Selection) {
		sel.ReplaceWithHtml("\n")
	})
	doc.Find("p, li").Each(func(_ int, sel *goquery.Selection) {
		sel.AppendHtml("\n")
	})

	lines := strings.Split(doc.Find("body").Text(), "\n")
	out := lines[:0]
	for _, l := range lines {
		out = append(out, strings.TrimRight(l, " \t\r"))
	}
	return Normalize(strings.TrimSpace(strings.Join(out, "\n")))
}
