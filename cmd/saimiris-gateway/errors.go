package main

import "fmt"

// Error definitions for the gateway's startup config validation.
var (
	errAgentSharedKeyRequired = fmt.Errorf("auth.agent-shared-key is required")
	errJWKSURIRequired        = fmt.Errorf("auth.jwks-uri is required unless auth.bypass-jwt is set")
	errTokenIssuerRequired    = fmt.Errorf("auth.token-issuer is required unless auth.bypass-jwt is set")
	errPostgresDSNRequired    = fmt.Errorf("storage.postgres-dsn is required when storage.backend is \"postgres\"")
	errBusBrokersRequired     = fmt.Errorf("bus.brokers is required when bus.backend is \"kafka\"")
	errBusTopicRequired       = fmt.Errorf("bus.topic is required")
)

func errUnknownStorageBackend(backend string) error {
	return fmt.Errorf("storage.backend %q is not one of \"postgres\", \"memory\"", backend)
}

func errUnknownBusBackend(backend string) error {
	return fmt.Errorf("bus.backend %q is not one of \"kafka\", \"memory\"", backend)
}
