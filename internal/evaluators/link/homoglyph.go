package link

import "strings"

// confusables maps Latin letters to their cross-script look-alikes
// (Cyrillic, Greek and common diacritic variants). A domain containing
// any of these resembles an all-Latin name without being one.
var confusables = map[rune][]rune{
	'a': {'а', 'α', 'à', 'á', 'â', 'ã', 'ä', 'å'},
	'e': {'е', 'ë', 'è', 'é', 'ê', 'ε'},
	'i': {'і', 'ï', 'ì', 'í', 'î', 'ι'},
	'o': {'о', 'ο', 'ò', 'ó', 'ô', 'õ', 'ö'},
	'u': {'υ', 'ù', 'ú', 'û', 'ü'},
	'p': {'р', 'ρ'},
	'c': {'с', 'ç'},
	'x': {'х', 'χ'},
	'y': {'у', 'ý', 'ÿ'},
	'n': {'п'},
	'm': {'м'},
	'h': {'һ'},
	'k': {'κ'},
	't': {'τ'},
	'b': {'в'},
	'g': {'ց'},
	'l': {'ǀ'},
}

// confusableToASCII is the reverse index: look-alike rune to the Latin
// letter it imitates.
var confusableToASCII = func() map[rune]rune {
	idx := make(map[rune]rune)
	for latin, likes := range confusables {
		for _, r := range likes {
			idx[r] = latin
		}
	}
	return idx
}()

// findHomoglyphs returns the distinct confusable runes in the domain
// together with the Latin letters they resemble.
func findHomoglyphs(domain string) []homoglyphHit {
	seen := make(map[rune]bool)
	var hits []homoglyphHit
	for _, r := range domain {
		if r < 0x80 || seen[r] {
			continue
		}
		if latin, ok := confusableToASCII[r]; ok {
			seen[r] = true
			hits = append(hits, homoglyphHit{Rune: r, Resembles: latin})
		}
	}
	return hits
}

type homoglyphHit struct {
	Rune      rune
	Resembles rune
}

func (h homoglyphHit) String() string {
	var b strings.Builder
	b.WriteRune(h.Rune)
	return b.String()
}
