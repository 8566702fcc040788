package detector

import (
	"regexp"
	"strconv"
	"strings"
)

var priceRe = regexp.MustCompile(`\d{1,3}(?:[.,\s]\d{3})+(?:[.,]\d{1,2})?|\d+(?:[.,]\d{1,2})?`)

// ParsePrice extracts a monetary amount from text. The first amount
// directly preceded by a currency symbol wins; otherwise the last amount
// does. Both "1,234.56" and "1.234,56" groupings are accepted.
func ParsePrice(text string) (float64, bool) {
	locs := priceRe.FindAllStringIndex(text, -1)
	for _, loc := range locs {
		if !afterCurrency(text[:loc[0]]) {
			continue
		}
		if v, ok := normalizeAmount(text[loc[0]:loc[1]]); ok {
			return v, true
		}
	}
	for i := len(locs) - 1; i >= 0; i-- {
		if v, ok := normalizeAmount(text[locs[i][0]:locs[i][1]]); ok {
			return v, true
		}
	}
	return 0, false
}

func afterCurrency(prefix string) bool {
	prefix = strings.TrimRight(prefix, " \u00a0")
	for _, sym := range []string{"$", "€", "£", "¥", "₹"} {
		if strings.HasSuffix(prefix, sym) {
			return true
		}
	}
	return false
}

func normalizeAmount(raw string) (float64, bool) {
	s := strings.ReplaceAll(strings.TrimSpace(raw), " ", "")
	s = strings.ReplaceAll(s, "\u00a0", "")

	lastDot := strings.LastIndex(s, ".")
	lastComma := strings.LastIndex(s, ",")
	switch {
	case lastDot >= 0 && lastComma >= 0:
		if lastComma > lastDot {
			s = strings.ReplaceAll(s, ".", "")
			s = strings.Replace(s, ",", ".", 1)
		} else {
			s = strings.ReplaceAll(s, ",", "")
		}
	case lastComma >= 0:
		// A single comma followed by exactly two digits is a decimal mark.
		if strings.Count(s, ",") == 1 && len(s)-lastComma-1 == 2 {
			s = strings.Replace(s, ",", ".", 1)
		} else {
			s = strings.ReplaceAll(s, ",", "")
		}
	case lastDot >= 0:
		if strings.Count(s, ".") > 1 || len(s)-lastDot-1 == 3 {
			s = strings.ReplaceAll(s, ".", "")
		}
	}

	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, false
	}
	return v, true
}
