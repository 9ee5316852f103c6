// Package validation содержит функции валидации входных данных.
package validation

import "strings"

// Slugify приводит название бизнеса к слагу: строчные буквы, цифры и дефисы.
func Slugify(name string) string {
	var sb strings.Builder
	prevDash := true

	for _, ch := range strings.ToLower(name) {
		switch {
		case ch >= 'a' && ch <= 'z' || ch >= '0' && ch <= '9':
			sb.WriteRune(ch)
			prevDash = false
		default:
			if !prevDash {
				sb.WriteByte('-')
				prevDash = true
			}
		}
	}

	return strings.TrimRight(sb.String(), "-")
}

// IsValidSlug проверяет, что слаг состоит из строчных букв, цифр и дефисов
// и не начинается и не заканчивается дефисом.
func IsValidSlug(slug string) bool {
	if slug == "" || len(slug) > 150 {
		return false
	}
	if slug[0] == '-' || slug[len(slug)-1] == '-' {
		return false
	}

	for i := 0; i < len(slug); i++ {
		ch := slug[i]
		if ch >= 'a' && ch <= 'z' || ch >= '0' && ch <= '9' || ch == '-' {
			continue
		}
		return false
	}

	return true
}

// IsValidRedemptionCode проверяет формат кода погашения:
// ровно 8 символов из заглавных латинских букв и цифр.
func IsValidRedemptionCode(code string) bool {
	if len(code) != 8 {
		return false
	}

	for i := 0; i < len(code); i++ {
		ch := code[i]
		if ch >= 'A' && ch <= 'Z' || ch >= '0' && ch <= '9' {
			continue
		}
		return false
	}

	return true
}
