package logger

import "strings"

// RedactEmail masks a lead email for logging: keep the first two
// characters of the local part when there are more than two, keep the
// domain. Anything that is not of the form local@domain becomes
// "***@***".
func RedactEmail(email string) string {
	local, domain, ok := strings.Cut(email, "@")
	if !ok || strings.Contains(domain, "@") {
		return "***@***"
	}
	if len(local) <= 2 {
		return "***@" + domain
	}
	return local[:2] + "***@" + domain
}
