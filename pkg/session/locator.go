package session

import "regexp"

var locatorPattern = regexp.MustCompile(`^(https?://)?(www\.)?(youtube|youtu|youtube-nocookie)\.(com|be)/.+$`)

// ValidateLocator reports whether text looks like a fetchable media link.
func ValidateLocator(text string) bool {
	return locatorPattern.MatchString(text)
}
