package inventory

import (
	"regexp"
	"strings"
)

var (
	trailingQuantity = regexp.MustCompile(`\s+[\d.,]+?\s*(?:kg|gr|lt|ml|g|l)\s*$`)
	numericWord      = regexp.MustCompile(`^[\d.,]+$`)
	quantityWord     = regexp.MustCompile(`^[\d.,]+\s*(?:kg|gr|lt|ml|g|l)$`)

	turkishFolding = strings.NewReplacer(
		"ç", "c", "Ç", "C",
		"ğ", "g", "Ğ", "G",
		"ı", "i", "İ", "I",
		"ö", "o", "Ö", "O",
		"ş", "s", "Ş", "S",
		"ü", "u", "Ü", "U",
	)

	units = map[string]struct{}{"kg": {}, "gr": {}, "lt": {}, "ml": {}, "g": {}, "l": {}}
)

// foldName lower-cases s and maps Turkish letters to ASCII.
// "SÜTLÜ ÇİKOLATA" -> "sutlu cikolata"
func foldName(s string) string {
	return strings.ToLower(turkishFolding.Replace(strings.TrimSpace(s)))
}

// normalizeProductName folds s and drops pack sizes, so that sheet rows
// like "BEYAZ ÇİKOLATA 1KG" match the catalog entry "Beyaz Çikolata".
func normalizeProductName(s string) string {
	folded := trailingQuantity.ReplaceAllString(foldName(s), "")

	words := strings.Fields(folded)
	kept := words[:0]
	for _, w := range words {
		if isQuantityWord(w) {
			continue
		}
		kept = append(kept, w)
	}
	return strings.Join(kept, " ")
}

func isQuantityWord(w string) bool {
	if numericWord.MatchString(w) || quantityWord.MatchString(w) {
		return true
	}
	_, ok := units[w]
	return ok
}
