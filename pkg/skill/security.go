package skill

import (
	"path/filepath"
	"regexp"
	"strings"
)

// credentialPattern is one regex used to flag likely hardcoded secrets.
// Modeled on the teacher's masking.KubernetesSecretMasker: a named,
// pre-compiled pattern bank rather than one catch-all regex.
type credentialPattern struct {
	name string
	re   *regexp.Regexp
}

var credentialPatterns = []credentialPattern{
	{name: "aws_access_key_id", re: regexp.MustCompile(`AKIA[0-9A-Z]{16}`)},
	{name: "private_key_block", re: regexp.MustCompile(`-----BEGIN (RSA |EC |OPENSSH |DSA )?PRIVATE KEY-----`)},
	{name: "generic_api_key_assignment", re: regexp.MustCompile(`(?i)(api[_-]?key|secret|token|password)\s*[:=]\s*['"][A-Za-z0-9/+=_-]{16,}['"]`)},
	{name: "slack_token", re: regexp.MustCompile(`xox[baprs]-[0-9A-Za-z-]{10,}`)},
}

// ScanForCredentials returns the names of every credential pattern that
// matched within data. An empty result means the scan found nothing.
func ScanForCredentials(data []byte) []string {
	text := string(data)
	var hits []string
	for _, p := range credentialPatterns {
		if p.re.MatchString(text) {
			hits = append(hits, p.name)
		}
	}
	return hits
}

// SafeRelPath reports whether rel, once cleaned, still resolves inside the
// package root — i.e. it contains no "../" escape and is not absolute.
// This is the path-traversal half of the §4.4 security scan.
func SafeRelPath(rel string) bool {
	if rel == "" {
		return false
	}
	if filepath.IsAbs(rel) {
		return false
	}
	cleaned := filepath.Clean(rel)
	if cleaned == ".." || strings.HasPrefix(cleaned, "../") || strings.HasPrefix(cleaned, `..\`) {
		return false
	}
	return true
}
