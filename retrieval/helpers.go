package retrieval

import (
	"strings"
)

// sanitizeFTSQuery strips FTS5 special syntax and LaTeX punctuation from
// the query, then builds an OR query: a quoted full phrase for exact
// matches plus the individual significant words. LaTeX command names
// survive with their backslash removed, so a query containing \frac
// still matches chunks whose stored formulas mention frac.
func sanitizeFTSQuery(query string) string {
	replacer := strings.NewReplacer(
		"\"", "",
		"*", "",
		"(", "",
		")", "",
		"+", "",
		"-", "",
		"^", " ",
		":", "",
		"?", "",
		"[", "",
		"]", "",
		"{", " ",
		"}", " ",
		"!", "",
		".", "",
		",", "",
		";", "",
		"$", " ",
		"\\", " ",
		"_", " ",
		"=", " ",
	)
	cleaned := replacer.Replace(query)

	words := strings.Fields(cleaned)
	if len(words) == 0 {
		return query
	}

	var parts []string
	if len(words) > 1 {
		parts = append(parts, "\""+strings.Join(words, " ")+"\"")
	}
	for _, w := range words {
		if len(w) > 2 && !isStopWord(w) {
			parts = append(parts, w)
		}
	}

	if len(parts) == 0 {
		return strings.Join(words, " OR ")
	}
	return strings.Join(parts, " OR ")
}

// isFormulaQuery returns true when the query asks about mathematical
// content. Such queries get a score boost for chunks carrying formulas,
// since the relevant material is almost always an equation rather than
// the surrounding prose.
func isFormulaQuery(query string) bool {
	lower := strings.ToLower(query)
	formulaTerms := []string{
		"formula", "equation", "derivation", "derive",
		"theorem", "proof", "lemma", "identity",
		"integral", "derivative", "matrix", "eigenvalue",
		"expression for", "closed form", "definition of",
	}
	for _, t := range formulaTerms {
		if strings.Contains(lower, t) {
			return true
		}
	}
	return false
}

var stopWords = map[string]bool{
	"the": true, "a": true, "an": true, "and": true, "or": true,
	"but": true, "in": true, "on": true, "at": true, "to": true,
	"for": true, "of": true, "with": true, "by": true, "from": true,
	"is": true, "are": true, "was": true, "were": true, "be": true,
	"been": true, "being": true, "have": true, "has": true, "had": true,
	"do": true, "does": true, "did": true, "will": true, "would": true,
	"could": true, "should": true, "may": true, "might": true, "must": true,
	"shall": true, "can": true, "this": true, "that": true, "these": true,
	"those": true, "what": true, "which": true, "who": true, "whom": true,
	"where": true, "when": true, "how": true, "why": true, "not": true,
	"no": true, "nor": true, "if": true, "then": true, "than": true,
	"so": true, "as": true, "about": true, "into": true, "between": true,
}

func isStopWord(w string) bool {
	return stopWords[strings.ToLower(w)]
}
