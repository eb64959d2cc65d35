// Package docextract pulls structured fields out of the OCR text of a
// submitted verification document using regex patterns. No external
// dependencies; the patterns target Spanish registration paperwork (fichas
// técnicas, permisos de circulación, tarjetas ITV).
package docextract

import (
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/Tank-Iberica/trust-engine/engine/domain"
)

var (
	// Modern Spanish plate: 4 digits + 3 consonants (no vowels, no Ñ/Q).
	modernPlateRe = regexp.MustCompile(`\b(\d{4})[\s-]?([BCDFGHJKLMNPRSTVWXYZ]{3})\b`)
	// Pre-2000 provincial plate, e.g. M-1234-AB or SE 5678 CD.
	legacyPlateRe = regexp.MustCompile(`\b([A-Z]{1,2})[\s-](\d{4})[\s-]([A-Z]{1,2})\b`)

	// VIN: 17 chars, no I/O/Q. Require at least one digit so plain words
	// of the right length don't match.
	vinRe = regexp.MustCompile(`\b[A-HJ-NPR-Z0-9]{17}\b`)

	// Odometer reading followed by a kilometre marker. Thousands separators
	// may be dots, commas, or spaces.
	odometerRe = regexp.MustCompile(`(?i)\b(\d{1,3}(?:[.,\s]\d{3})*|\d+)\s*(?:km|kms|kil[oó]metros)\b`)

	// Issue dates as dd/mm/yyyy or dd-mm-yyyy.
	dateRe = regexp.MustCompile(`\b(\d{1,2})[/-](\d{1,2})[/-](\d{4})\b`)

	// Issuing inspection station, e.g. "ITV Zaragoza" or "Estación ITV Getafe".
	issuerRe = regexp.MustCompile(`(?i)\b(?:estaci[oó]n\s+)?(ITV\s+[\p{Lu}][\p{L}]+(?:\s+[\p{Lu}][\p{L}]+)?)`)

	hasDigitRe = regexp.MustCompile(`\d`)
)

// Extract scans document text for plate number, VIN, odometer reading, issue
// date, and issuer. Returns nil when nothing was recognised.
func Extract(text string) *domain.ExtractedData {
	if strings.TrimSpace(text) == "" {
		return nil
	}
	upper := strings.ToUpper(text)

	data := domain.ExtractedData{
		PlateNumber: extractPlate(upper),
		VIN:         extractVIN(upper),
		OdometerKM:  extractOdometer(text),
		IssuedAt:    extractDate(text),
		Issuer:      extractIssuer(text),
	}
	if data == (domain.ExtractedData{}) {
		return nil
	}
	return &data
}

func extractPlate(upper string) string {
	if m := modernPlateRe.FindStringSubmatch(upper); m != nil {
		return m[1] + m[2]
	}
	if m := legacyPlateRe.FindStringSubmatch(upper); m != nil {
		return m[1] + "-" + m[2] + "-" + m[3]
	}
	return ""
}

func extractVIN(upper string) string {
	for _, candidate := range vinRe.FindAllString(upper, -1) {
		if hasDigitRe.MatchString(candidate) {
			return candidate
		}
	}
	return ""
}

func extractOdometer(text string) int64 {
	m := odometerRe.FindStringSubmatch(text)
	if m == nil {
		return 0
	}
	digits := strings.Map(func(r rune) rune {
		if r >= '0' && r <= '9' {
			return r
		}
		return -1
	}, m[1])
	v, err := strconv.ParseInt(digits, 10, 64)
	if err != nil {
		return 0
	}
	return v
}

func extractDate(text string) time.Time {
	m := dateRe.FindStringSubmatch(text)
	if m == nil {
		return time.Time{}
	}
	day, _ := strconv.Atoi(m[1])
	month, _ := strconv.Atoi(m[2])
	year, _ := strconv.Atoi(m[3])
	if month < 1 || month > 12 || day < 1 || day > 31 {
		return time.Time{}
	}
	t := time.Date(year, time.Month(month), day, 0, 0, 0, 0, time.UTC)
	// Reject normalized overflows like 31/02.
	if t.Day() != day || t.Month() != time.Month(month) {
		return time.Time{}
	}
	return t
}

func extractIssuer(text string) string {
	m := issuerRe.FindStringSubmatch(text)
	if m == nil {
		return ""
	}
	return strings.Join(strings.Fields(m[1]), " ")
}
