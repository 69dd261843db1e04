package ledgerpay

// FindByNetwork finds the value registered for a network.
// This supports pattern matching for networks (e.g., "stellar:*")
func FindByNetwork[T any](networkMap map[Network]T, network Network) (T, bool) {
	// Try exact match first
	if impl, exists := networkMap[network]; exists {
		return impl, true
	}

	// Try pattern matching
	for registeredNetwork, impl := range networkMap {
		if network.Match(registeredNetwork) || registeredNetwork.Match(network) {
			return impl, true
		}
	}

	var zero T
	return zero, false
}
