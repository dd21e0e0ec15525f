package lore

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

// maxQueryTerms caps how many search terms a single query can produce.
const maxQueryTerms = 5

// Tokenize splits a free-text query into at most five search terms.
//
// Contiguous runs of han ideographs produce the full run followed by its
// overlapping bigrams, so a short lore key can match inside a longer phrase
// and vice versa. All other letter or digit runs become lowercase words.
// Stop words from the frozen per-language lists and single-rune tokens are
// dropped; duplicates keep their first position.
func Tokenize(query string) []string {
	query = strings.ToLower(strings.TrimSpace(query))
	if query == "" {
		return nil
	}

	var raw []string
	runes := []rune(query)
	for i := 0; i < len(runes); {
		switch r := runes[i]; {
		case unicode.Is(unicode.Han, r):
			j := i
			for j < len(runes) && unicode.Is(unicode.Han, runes[j]) {
				j++
			}
			raw = append(raw, hanTerms(runes[i:j])...)
			i = j
		case isWordRune(r):
			j := i
			for j < len(runes) && isWordRune(runes[j]) && !unicode.Is(unicode.Han, runes[j]) {
				j++
			}
			raw = append(raw, string(runes[i:j]))
			i = j
		default:
			i++
		}
	}

	seen := make(map[string]struct{}, len(raw))
	terms := make([]string, 0, maxQueryTerms)
	for _, t := range raw {
		if utf8.RuneCountInString(t) <= 1 {
			continue
		}
		if isStopword(t) {
			continue
		}
		if _, dup := seen[t]; dup {
			continue
		}
		seen[t] = struct{}{}
		terms = append(terms, t)
		if len(terms) == maxQueryTerms {
			break
		}
	}
	return terms
}

// hanTerms expands one han run into search terms. The full run comes first
// so that the most specific term survives the five-term cap; overlapping
// bigrams follow for runs of three or more ideographs.
func hanTerms(run []rune) []string {
	terms := []string{string(run)}
	if len(run) >= 3 {
		for i := 0; i+1 < len(run); i++ {
			terms = append(terms, string(run[i:i+2]))
		}
	}
	return terms
}

func isWordRune(r rune) bool {
	return unicode.IsLetter(r) || unicode.IsDigit(r)
}

// isStopword checks a token against the stop-word list of its own script,
// so a han token never collides with a latin entry.
func isStopword(t string) bool {
	r, _ := utf8.DecodeRuneInString(t)
	if unicode.Is(unicode.Han, r) {
		_, ok := cnStopwords[t]
		return ok
	}
	_, ok := enStopwords[t]
	return ok
}

// Frozen stop-word lists. Single-rune entries are pointless here because the
// tokenizer drops single-rune tokens anyway, so the chinese list holds only
// multi-ideograph function words and the bigram scaffolding of common
// question phrasings.
var cnStopwords = toSet([]string{
	"我们", "你们", "他们", "她们", "它们",
	"什么", "怎么", "怎样", "如何", "为何", "为什", "么样",
	"哪里", "哪儿", "这个", "那个", "这里", "那里", "这些", "那些",
	"可以", "应该", "能否", "是否", "还是", "或者", "以及", "并且",
	"但是", "因为", "所以", "如果", "没有", "不是", "就是",
	"现在", "然后", "时候", "之前", "之后",
	"知道", "告诉", "诉我", "请问", "想要", "我想", "想知",
	"一下", "一个", "一些", "有关", "关于",
	"的话", "的事", "人的",
})

var enStopwords = toSet([]string{
	"a", "an", "and", "about", "are", "at", "be", "but", "by", "can",
	"could", "did", "do", "does", "for", "from", "had", "has", "have",
	"he", "her", "his", "how", "i", "if", "in", "is", "it", "its",
	"know", "me", "my", "no", "not", "of", "on", "or", "our", "please",
	"she", "so", "some", "tell", "that", "the", "their", "them", "then",
	"there", "these", "they", "this", "to", "us", "want", "was", "we",
	"were", "what", "when", "where", "which", "who", "why", "will",
	"with", "would", "you", "your",
})

func toSet(words []string) map[string]struct{} {
	set := make(map[string]struct{}, len(words))
	for _, w := range words {
		set[w] = struct{}{}
	}
	return set
}
