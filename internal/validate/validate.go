// Package validate implements phrase and backronym validation. All
// functions return nil on success and a *types.InvalidPhraseError carrying a
// player-presentable reason on failure, so the round engine can surface the
// reason without charging a strike.
package validate

import (
	"strings"
	"unicode"

	"github.com/sheegaon/quipflip-sub002/internal/types"
)

const (
	minPhraseLen = 3
	maxPhraseLen = 100
	maxWordLen   = 30
)

// Dictionary answers word-existence queries for backronym entries. The
// default accepts everything; deployments plug in a real word list.
type Dictionary interface {
	Contains(word string) bool
}

// PermissiveDictionary accepts any word. Used when no word list is loaded.
type PermissiveDictionary struct{}

func (PermissiveDictionary) Contains(string) bool { return true }

// Validator applies the game's phrase rules.
type Validator struct {
	dict Dictionary
}

// New creates a validator. A nil dictionary means permissive.
func New(dict Dictionary) *Validator {
	if dict == nil {
		dict = PermissiveDictionary{}
	}
	return &Validator{dict: dict}
}

func invalid(reason string) error {
	return &types.InvalidPhraseError{Reason: reason}
}

// Validate applies the base phrase rules: length bounds, printable
// characters, at least one letter.
func (v *Validator) Validate(phrase string) error {
	p := strings.TrimSpace(phrase)
	if len(p) < minPhraseLen {
		return invalid("phrase is too short")
	}
	if len(p) > maxPhraseLen {
		return invalid("phrase is too long")
	}
	hasLetter := false
	for _, r := range p {
		if !unicode.IsPrint(r) {
			return invalid("phrase contains unprintable characters")
		}
		if unicode.IsLetter(r) {
			hasLetter = true
		}
	}
	if !hasLetter {
		return invalid("phrase must contain letters")
	}
	return nil
}

// ValidatePromptPhrase additionally forbids reusing significant words from
// the prompt text.
func (v *Validator) ValidatePromptPhrase(phrase, promptText string) error {
	if err := v.Validate(phrase); err != nil {
		return err
	}
	if w := reusedSignificantWord(phrase, promptText); w != "" {
		return invalid("phrase reuses the word " + strings.ToLower(w) + " from the prompt")
	}
	return nil
}

// ValidateCopy additionally forbids an identical phrase and reuse of
// significant words from the original, the other copy (when present) and the
// prompt (when present).
func (v *Validator) ValidateCopy(phrase, original, otherCopy, promptText string) error {
	if err := v.Validate(phrase); err != nil {
		return err
	}
	if Normalize(phrase) == Normalize(original) {
		return invalid("copy is identical to the original phrase")
	}
	if otherCopy != "" && Normalize(phrase) == Normalize(otherCopy) {
		return invalid("copy is identical to the other copy")
	}
	if w := reusedSignificantWord(phrase, original); w != "" {
		return invalid("copy reuses the word " + strings.ToLower(w) + " from the original")
	}
	if otherCopy != "" {
		if w := reusedSignificantWord(phrase, otherCopy); w != "" {
			return invalid("copy reuses the word " + strings.ToLower(w) + " from the other copy")
		}
	}
	if promptText != "" {
		if w := reusedSignificantWord(phrase, promptText); w != "" {
			return invalid("copy reuses the word " + strings.ToLower(w) + " from the prompt")
		}
	}
	return nil
}

// ValidateBackronymWords checks one word per letter of the set word, each
// starting with the matching letter, each passing the dictionary.
func (v *Validator) ValidateBackronymWords(words []string, setWord string) error {
	letters := []rune(strings.ToLower(setWord))
	if len(words) != len(letters) {
		return invalid("need exactly one word per letter")
	}
	for i, w := range words {
		w = strings.TrimSpace(w)
		if w == "" {
			return invalid("word " + string(letters[i]) + " is empty")
		}
		if len(w) > maxWordLen {
			return invalid("word " + strings.ToLower(w) + " is too long")
		}
		lower := strings.ToLower(w)
		if []rune(lower)[0] != letters[i] {
			return invalid("word " + lower + " must start with " + string(letters[i]))
		}
		for _, r := range lower {
			if !unicode.IsLetter(r) {
				return invalid("word " + lower + " must be letters only")
			}
		}
		if !v.dict.Contains(lower) {
			return invalid("word " + lower + " is not in the dictionary")
		}
	}
	return nil
}

// Normalize lowercases and collapses whitespace for phrase comparison.
func Normalize(s string) string {
	return strings.Join(strings.Fields(strings.ToLower(s)), " ")
}

// reusedSignificantWord returns the first significant word of source that
// also appears in phrase, "" if none.
func reusedSignificantWord(phrase, source string) string {
	phraseWords := make(map[string]bool)
	for _, w := range strings.Fields(Normalize(phrase)) {
		phraseWords[trimPunct(w)] = true
	}
	for _, w := range strings.Fields(Normalize(source)) {
		w = trimPunct(w)
		if isSignificant(w) && phraseWords[w] {
			return w
		}
	}
	return ""
}

func trimPunct(w string) string {
	return strings.TrimFunc(w, func(r rune) bool { return !unicode.IsLetter(r) && !unicode.IsNumber(r) })
}

// isSignificant reports whether a word is long enough and uncommon enough
// that reusing it counts as copying.
func isSignificant(w string) bool {
	return len(w) >= 4 && !commonWords[w]
}

// commonWords is the curated list excluded from the significant-word rule.
var commonWords = map[string]bool{
	"that": true, "this": true, "with": true, "from": true, "your": true,
	"have": true, "will": true, "what": true, "when": true, "where": true,
	"which": true, "would": true, "could": true, "should": true, "their": true,
	"there": true, "these": true, "those": true, "about": true, "after": true,
	"before": true, "being": true, "doing": true, "other": true, "some": true,
	"something": true, "anything": true, "everything": true, "nothing": true,
	"into": true, "over": true, "under": true, "only": true, "very": true,
	"just": true, "more": true, "most": true, "much": true, "many": true,
	"like": true, "than": true, "then": true, "them": true, "they": true,
	"were": true, "been": true, "because": true, "while": true, "does": true,
	"make": true, "makes": true, "made": true, "thing": true, "things": true,
	"really": true, "never": true, "always": true, "every": true, "people": true,
	"person": true, "want": true, "wants": true, "name": true, "word": true,
	"words": true, "worst": true, "best": true, "good": true, "great": true,
	"least": true, "favorite": true, "least-favorite": true, "would-be": true,
}
