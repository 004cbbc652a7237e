package triage

import "regexp"

// digitRuns matches groups of digits possibly separated by common tax-id
// punctuation, e.g. "529.982.247-25" or "12.345.678/0001-95".
var digitRuns = regexp.MustCompile(`[\d][\d./-]*[\d]`)

var nonDigits = regexp.MustCompile(`\D`)

// ExtractIdentifier scans free text for a personal (11-digit) or corporate
// (14-digit) tax id. Returns the normalized digit string and whether one was
// found.
func ExtractIdentifier(text string) (string, bool) {
	for _, run := range digitRuns.FindAllString(text, -1) {
		digits := nonDigits.ReplaceAllString(run, "")
		if len(digits) == 11 || len(digits) == 14 {
			return digits, true
		}
	}
	return "", false
}
