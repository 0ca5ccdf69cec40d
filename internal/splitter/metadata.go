package splitter

import (
	"strings"
	"unicode"
)

// metadataKeywords flags front matter, back matter, navigation and legal
// boilerplate by title. Generic structural words like "chapter" or "part"
// are deliberately absent: chapter files are routinely named chapter_NN.
var metadataKeywords = []string{
	"table of contents", "toc", "index", "contents", "navigation",
	"list of figures", "list of tables", "catalog", "foreword", "preface",
	"acknowledgments", "introduction", "prologue", "epilogue", "afterword",
	"appendix", "dedication", "about the author", "about this book",
	"copyright", "all rights reserved", "terms of use", "disclaimer",
	"license", "publishing", "publisher", "isbn", "edition",
	"revision history", "errata", "change log", "references",
	"bibliography", "works cited", "citations", "further reading",
	"footnotes", "endnotes", "praise for", "blank page", "front matter",
	"back matter", "half title", "title page", "colophon", "cover",
	"glossary", "abbreviations", "in memoriam", "by the same author",
	"also by",
}

// isMetadata decides whether a chapter is metadata rather than content:
// keyword in the title, too little text, mostly punctuation, or link-heavy
// (tables of contents).
func isMetadata(title, text string) bool {
	titleLower := strings.ToLower(strings.Join(strings.Fields(title), " "))
	textLower := strings.ToLower(text)

	for _, keyword := range metadataKeywords {
		if strings.Contains(titleLower, keyword) {
			return true
		}
	}

	if len(strings.TrimSpace(textLower)) < 100 {
		return true
	}

	if nonAlnumRatio(textLower) > 0.3 {
		return true
	}

	if strings.Count(textLower, "http") > 5 || strings.Count(textLower, "www.") > 5 {
		return true
	}

	return false
}

// nonAlnumRatio reports the share of non-alphanumeric runes, whitespace
// included. Ordinary prose sits around 0.2; link lists and legal pages
// run well above 0.3.
func nonAlnumRatio(text string) float64 {
	runes := []rune(text)
	if len(runes) == 0 {
		return 0
	}
	nonAlnum := 0
	for _, r := range runes {
		if !unicode.IsLetter(r) && !unicode.IsDigit(r) {
			nonAlnum++
		}
	}
	return float64(nonAlnum) / float64(len(runes))
}
