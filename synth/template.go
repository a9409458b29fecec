package synth

import (
	"fmt"
	"html"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

var titleCaser = cases.Title(language.English)

// TitleCase capitalizes each word of keyword
func TitleCase(keyword string) string {
	return titleCaser.String(strings.TrimSpace(keyword))
}

// MinimalDocument is the deterministic draft used when generation fails or
// returns too little text. It carries a title, a meta description and a
// small section outline so it can still be scored.
func MinimalDocument(keyword string) string {
	kw := html.EscapeString(strings.TrimSpace(keyword))
	title := html.EscapeString(TitleCase(keyword))

	return fmt.Sprintf(`<title>%[2]s - Complete Guide</title>
<meta name="description" content="Learn about %[1]s with this comprehensive guide covering key concepts and best practices.">

<h1>%[2]s - Complete Guide</h1>

<p>This is a comprehensive guide about %[1]s. While we encountered some technical difficulties gathering detailed source material, this guide will provide you with essential information about the topic.</p>

<h2>Introduction</h2>
<p>%[2]s is an important topic that deserves careful consideration and understanding.</p>

<h2>Key Concepts</h2>
<p>Understanding the fundamentals of %[1]s is crucial for anyone looking to learn more about this subject.</p>

<h2>Conclusion</h2>
<p>This guide provides a foundation for understanding %[1]s. For more detailed information, consider exploring additional resources and documentation.</p>
`, kw, title)
}

// FallbackDocument is the short document returned when a run fails outright
func FallbackDocument(keyword string) string {
	kw := html.EscapeString(strings.TrimSpace(keyword))
	title := html.EscapeString(TitleCase(keyword))

	return fmt.Sprintf(`<title>%[2]s - Guide</title>
<meta name="description" content="An introduction to %[1]s.">

<h1>%[2]s</h1>

<p>We were unable to generate a complete article about %[1]s at this time. Please try again later.</p>
`, kw, title)
}
