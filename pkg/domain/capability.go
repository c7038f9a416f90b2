package domain

// Capability names a gated platform feature. Every gated surface asks the
// access gate for a fresh decision before rendering or acting.
type Capability string

const (
	CapabilitySearch          Capability = "search"
	CapabilityMessaging       Capability = "messaging"
	CapabilityViewFullProfile Capability = "view_full_profile"
)

// ParseCapability validates a capability string from a transport boundary.
func ParseCapability(s string) (Capability, bool) {
	switch Capability(s) {
	case CapabilitySearch, CapabilityMessaging, CapabilityViewFullProfile:
		return Capability(s), true
	}
	return "", false
}
