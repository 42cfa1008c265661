package mcpgate

// RegistryOption configures a Registry.
type RegistryOption func(*Registry)

// WithConnector overrides how sessions are established. Useful for testing
// with fake clients or for alternative transports; the default spawns a
// child process and speaks the protocol over its stdio.
func WithConnector(connect Connector) RegistryOption {
	return func(r *Registry) {
		r.connect = connect
	}
}

// GatewayOption configures a Gateway.
type GatewayOption func(*Gateway)

// WithAuthToken enables shared-secret authentication: every request must
// carry the token as an Authorization bearer header. An empty token leaves
// the gateway open.
func WithAuthToken(token string) GatewayOption {
	return func(g *Gateway) {
		g.authToken = token
	}
}
