package masking

import "strings"

// DisplayMask produces the irreversible display form of a raw value:
// first and last three runes kept, everything between replaced. Short
// values are fully starred so nothing can be inferred from them.
func DisplayMask(value string) string {
	runes := []rune(value)
	if len(runes) <= 6 {
		return strings.Repeat("*", len(runes))
	}
	return string(runes[:3]) + strings.Repeat("*", len(runes)-6) + string(runes[len(runes)-3:])
}
