package logging

// RedactToken masks a credential for logging, keeping just enough of
// the tail to correlate rotations. Refresh tokens and API keys must
// never appear whole in logs.
func RedactToken(token string) string {
	if token == "" {
		return ""
	}
	if len(token) <= 8 {
		return "****"
	}
	return "****" + token[len(token)-4:]
}
