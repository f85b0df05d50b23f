package masking

// Registry applies a fixed, ordered set of Maskers to a string, the way
// tarsy's MaskingService applies its code-based maskers before its regex
// sweep — here every masker is a single pass since there is no per-server
// configuration to resolve.
type Registry struct {
	maskers []Masker
}

// NewRegistry builds a Registry over the given Maskers, applied in order.
func NewRegistry(maskers ...Masker) *Registry {
	return &Registry{maskers: maskers}
}

// DefaultRegistry returns the built-in registry of generic credential
// maskers (SPEC_FULL §4.11).
func DefaultRegistry() *Registry {
	return NewRegistry(
		PEMKeyMasker{},
		AWSKeyMasker{},
		BearerAuthMasker{},
		APIKeyMasker{},
	)
}

// Mask runs every registered masker whose AppliesTo matches over content,
// in registration order, and returns the fully-masked result.
func (r *Registry) Mask(content string) string {
	if content == "" {
		return content
	}
	masked := content
	for _, m := range r.maskers {
		if m.AppliesTo(masked) {
			masked = m.Mask(masked)
		}
	}
	return masked
}
