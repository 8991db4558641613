package registry

import (
	"strings"
	"time"
)

// digitsOf strips the separators a Brazilian document number may carry.
func digitsOf(value string) string {
	var b strings.Builder
	for _, r := range value {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// ValidCPF validates the two mod-11 check digits of a CPF number.
func ValidCPF(value string) bool {
	digits := digitsOf(value)
	if len(digits) != 11 {
		return false
	}

	// All-equal sequences pass the checksum but are not issued.
	if strings.Count(digits, digits[:1]) == 11 {
		return false
	}

	sum := 0
	for i := 0; i < 9; i++ {
		sum += int(digits[i]-'0') * (10 - i)
	}
	dv1 := 11 - sum%11
	if dv1 >= 10 {
		dv1 = 0
	}
	if dv1 != int(digits[9]-'0') {
		return false
	}

	sum = 0
	for i := 0; i < 10; i++ {
		sum += int(digits[i]-'0') * (11 - i)
	}
	dv2 := 11 - sum%11
	if dv2 >= 10 {
		dv2 = 0
	}
	return dv2 == int(digits[10]-'0')
}

// ValidCNPJ validates the two mod-11 check digits of a CNPJ number.
func ValidCNPJ(value string) bool {
	digits := digitsOf(value)
	if len(digits) != 14 {
		return false
	}

	if strings.Count(digits, digits[:1]) == 14 {
		return false
	}

	weights1 := []int{5, 4, 3, 2, 9, 8, 7, 6, 5, 4, 3, 2}
	weights2 := []int{6, 5, 4, 3, 2, 9, 8, 7, 6, 5, 4, 3, 2}

	sum := 0
	for i, w := range weights1 {
		sum += int(digits[i]-'0') * w
	}
	dv1 := sum % 11
	if dv1 < 2 {
		dv1 = 0
	} else {
		dv1 = 11 - dv1
	}
	if dv1 != int(digits[12]-'0') {
		return false
	}

	sum = 0
	for i, w := range weights2 {
		sum += int(digits[i]-'0') * w
	}
	dv2 := sum % 11
	if dv2 < 2 {
		dv2 = 0
	} else {
		dv2 = 11 - dv2
	}
	return dv2 == int(digits[13]-'0')
}

// ValidPIS validates the weighted check digit of a PIS/PASEP number.
func ValidPIS(value string) bool {
	digits := digitsOf(value)
	if len(digits) != 11 {
		return false
	}

	weights := []int{3, 2, 9, 8, 7, 6, 5, 4, 3, 2}
	sum := 0
	for i, w := range weights {
		sum += int(digits[i]-'0') * w
	}
	dv := 11 - sum%11
	if dv >= 10 {
		dv = 0
	}
	return dv == int(digits[10]-'0')
}

// ValidDate confirms a DD/MM/YYYY or DD-MM-YYYY span is a real calendar
// date, rejecting shapes like 31/02/1990.
func ValidDate(value string) bool {
	for _, layout := range []string{"02/01/2006", "02-01-2006"} {
		if _, err := time.Parse(layout, value); err == nil {
			return true
		}
	}
	return false
}
