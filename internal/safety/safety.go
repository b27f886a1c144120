// Package safety detects self-harm and suicidal-ideation language in inbound
// chat messages.
//
// A [Detector] matches a fixed, case-insensitive phrase list on word
// boundaries. Optionally, single-word crisis terms (such as "suicide" or
// "overdose") also match close misspellings: a token matches a term when it
// is one insertion, deletion, or adjacent transposition away from the term
// and their Jaro-Winkler similarity reaches the configured threshold.
// Single-letter substitutions are not accepted, so benign neighbours such as
// "overdone" do not trip the detector.
//
// A Detector is immutable after construction and safe for concurrent use.
// To change the phrase list at runtime, build a new Detector and swap it in.
package safety

import (
	"fmt"
	"regexp"
	"slices"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/antzucaro/matchr"

	"github.com/MrWong99/serene/internal/config"
)

// DefaultPhrases is the built-in crisis phrase list.
var DefaultPhrases = []string{
	"kill myself",
	"kill me",
	"i want to die",
	"want to die",
	"end my life",
	"suicide",
	"suicidal",
	"die by suicide",
	"hurt myself",
	"cut myself",
	"self-harm",
	"self harm",
	"i'm going to die",
	"i can't go on",
	"i can't do this anymore",
	"i can't take it",
	"overdose",
	"take pills",
	"want to end it all",
}

const (
	// DefaultHelpline is the helpline number used when none is configured.
	DefaultHelpline = "141116"

	defaultFuzzyThreshold = 0.92

	// minFuzzyTermLen is the shortest single-word term that takes part in
	// fuzzy matching. Shorter words have too many innocent neighbours.
	minFuzzyTermLen = 7
)

// crisisTemplate is the built-in crisis reply. %s is the helpline number.
const crisisTemplate = "📞 If you are thinking about harming yourself or are in immediate danger, " +
	"please call %s right now. If you can, try to stay with someone you trust and seek " +
	"emergency help. You are not alone. 💙"

// Detector classifies messages as crisis escalations.
type Detector struct {
	pattern        *regexp.Regexp
	fuzzyTerms     []string
	fuzzyThreshold float64
	helpline       string
	reply          string
}

// New builds a Detector from cfg. The built-in phrase list is always active;
// cfg.ExtraPhrases extends it.
func New(cfg config.SafetyConfig) (*Detector, error) {
	phrases := make([]string, 0, len(DefaultPhrases)+len(cfg.ExtraPhrases))
	for _, p := range append(slices.Clone(DefaultPhrases), cfg.ExtraPhrases...) {
		p = Normalize(p)
		if p == "" || slices.Contains(phrases, p) {
			continue
		}
		phrases = append(phrases, p)
	}

	// Longest first so the reported match is the most specific phrase.
	slices.SortStableFunc(phrases, func(a, b string) int { return len(b) - len(a) })

	quoted := make([]string, len(phrases))
	for i, p := range phrases {
		quoted[i] = regexp.QuoteMeta(p)
	}
	pattern, err := regexp.Compile(`\b(?:` + strings.Join(quoted, "|") + `)\b`)
	if err != nil {
		return nil, fmt.Errorf("safety: compile phrase list: %w", err)
	}

	d := &Detector{
		pattern:        pattern,
		fuzzyThreshold: cfg.FuzzyThreshold,
		helpline:       cfg.HelplineNumber,
	}
	if d.helpline == "" {
		d.helpline = DefaultHelpline
	}
	if d.fuzzyThreshold <= 0 {
		d.fuzzyThreshold = defaultFuzzyThreshold
	}

	if cfg.Fuzzy {
		for _, p := range phrases {
			if !strings.ContainsFunc(p, isSeparator) && utf8.RuneCountInString(p) >= minFuzzyTermLen {
				d.fuzzyTerms = append(d.fuzzyTerms, p)
			}
		}
	}

	d.reply = cfg.CrisisReply
	if d.reply == "" {
		d.reply = fmt.Sprintf(crisisTemplate, d.helpline)
	}
	if !strings.Contains(d.reply, d.helpline) {
		return nil, fmt.Errorf("safety: crisis reply does not mention helpline %q", d.helpline)
	}
	return d, nil
}

// IsEscalation reports whether text contains crisis language.
func (d *Detector) IsEscalation(text string) bool {
	_, ok := d.Match(text)
	return ok
}

// Match returns the crisis phrase found in text, if any. For fuzzy matches
// the canonical term is returned, not the misspelt token.
func (d *Detector) Match(text string) (string, bool) {
	norm := Normalize(text)
	if norm == "" {
		return "", false
	}
	if m := d.pattern.FindString(norm); m != "" {
		return m, true
	}
	if len(d.fuzzyTerms) == 0 {
		return "", false
	}
	for _, tok := range strings.FieldsFunc(norm, isSeparator) {
		for _, term := range d.fuzzyTerms {
			if d.nearMiss(tok, term) {
				return term, true
			}
		}
	}
	return "", false
}

// CrisisReply returns the fixed reply sent instead of an oracle completion.
func (d *Detector) CrisisReply() string { return d.reply }

// Helpline returns the helpline number contained in every crisis reply.
func (d *Detector) Helpline() string { return d.helpline }

// nearMiss reports whether tok is a close misspelling of term.
func (d *Detector) nearMiss(tok, term string) bool {
	tl, ml := utf8.RuneCountInString(tok), utf8.RuneCountInString(term)
	if tl < minFuzzyTermLen-1 || tl-ml > 1 || ml-tl > 1 {
		return false
	}
	if matchr.OSA(tok, term) != 1 {
		return false
	}
	// Same length with one edit is either a substitution or an adjacent
	// transposition. Only the latter keeps the letter multiset.
	if tl == ml && !sameLetters(tok, term) {
		return false
	}
	return matchr.JaroWinkler(tok, term, false) >= d.fuzzyThreshold
}

func sameLetters(a, b string) bool {
	ra, rb := []rune(a), []rune(b)
	slices.Sort(ra)
	slices.Sort(rb)
	return slices.Equal(ra, rb)
}

func isSeparator(r rune) bool {
	return !unicode.IsLetter(r) && r != '\'' && r != '-'
}

var apostrophes = strings.NewReplacer("’", "'", "‘", "'", "ʼ", "'")

// Normalize lowercases text, folds typographic apostrophes to ASCII and
// collapses runs of whitespace.
func Normalize(text string) string {
	text = apostrophes.Replace(strings.ToLower(text))
	return strings.Join(strings.Fields(text), " ")
}
