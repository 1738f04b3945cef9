//go:build !p2p

package transport

// BuildTransport returns a no-op transport when the 'p2p' build tag is not
// enabled; local simulations use the channel Hub instead.
func BuildTransport(_ NetConfig) (Transport, error) {
	return &NoopTransport{}, nil
}
