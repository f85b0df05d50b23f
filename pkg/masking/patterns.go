package masking

import (
	"regexp"
	"strings"
)

// MaskedValue is the replacement string for a masked secret.
const MaskedValue = "[MASKED]"

// APIKeyMasker matches common "key=value"/"key: value"-shaped API key
// assignments (api_key, apikey, access_token, secret, password, ...).
type APIKeyMasker struct{}

var apiKeyAssignment = regexp.MustCompile(`(?i)\b((?:api[_-]?key|access[_-]?token|auth[_-]?token|secret|password|passwd)\s*[:=]\s*)(['"]?)([A-Za-z0-9\-_./+]{6,})(['"]?)`)

func (APIKeyMasker) Name() string { return "api_key" }

func (APIKeyMasker) AppliesTo(data string) bool {
	return apiKeyAssignment.MatchString(data)
}

func (APIKeyMasker) Mask(data string) string {
	return apiKeyAssignment.ReplaceAllString(data, "${1}${2}"+MaskedValue+"${4}")
}

// BearerAuthMasker matches Authorization: Bearer/Basic header values.
type BearerAuthMasker struct{}

var bearerAuthHeader = regexp.MustCompile(`(?i)(Authorization:\s*(?:Bearer|Basic)\s+)([A-Za-z0-9\-_.~+/=]+)`)

func (BearerAuthMasker) Name() string { return "bearer_auth" }

func (BearerAuthMasker) AppliesTo(data string) bool {
	return bearerAuthHeader.MatchString(data)
}

func (BearerAuthMasker) Mask(data string) string {
	return bearerAuthHeader.ReplaceAllString(data, "${1}"+MaskedValue)
}

// AWSKeyMasker matches AWS-style access key IDs and their paired secret
// access keys.
type AWSKeyMasker struct{}

var (
	awsAccessKeyID     = regexp.MustCompile(`\b((?:A3T[A-Z0-9]|AKIA|AGPA|AIDA|AROA|AIPA|ANPA|ANVA|ASIA)[A-Z0-9]{16})\b`)
	awsSecretAssignment = regexp.MustCompile(`(?i)(aws_secret_access_key\s*[:=]\s*['"]?)([A-Za-z0-9/+=]{40})(['"]?)`)
)

func (AWSKeyMasker) Name() string { return "aws_key" }

func (AWSKeyMasker) AppliesTo(data string) bool {
	return awsAccessKeyID.MatchString(data) || awsSecretAssignment.MatchString(data)
}

func (AWSKeyMasker) Mask(data string) string {
	data = awsAccessKeyID.ReplaceAllString(data, MaskedValue)
	data = awsSecretAssignment.ReplaceAllString(data, "${1}"+MaskedValue+"${3}")
	return data
}

// PEMKeyMasker replaces entire PEM private-key blocks with a placeholder,
// leaving surrounding output (e.g. a certificate chain) intact.
type PEMKeyMasker struct{}

var pemPrivateKeyBlock = regexp.MustCompile(`(?s)-----BEGIN ([A-Z ]*PRIVATE KEY)-----.*?-----END ([A-Z ]*PRIVATE KEY)-----`)

func (PEMKeyMasker) Name() string { return "pem_private_key" }

func (PEMKeyMasker) AppliesTo(data string) bool {
	return strings.Contains(data, "PRIVATE KEY") && pemPrivateKeyBlock.MatchString(data)
}

func (PEMKeyMasker) Mask(data string) string {
	return pemPrivateKeyBlock.ReplaceAllString(data, "-----BEGIN $1----- "+MaskedValue+" -----END $2-----")
}
