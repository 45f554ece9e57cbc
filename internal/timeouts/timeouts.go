// Package timeouts holds the default durations shared by the client and the
// contract server.
package timeouts

import "time"

// Request bounds a single API call made by the client.
const Request = 15 * time.Second

// ProviderConfirmation bounds the wait for the payment provider's checkout.
const ProviderConfirmation = 10 * time.Minute

// Gateway bounds an outbound call from the server to the payment provider.
const Gateway = 10 * time.Second

// ServerRequest is the per-request budget enforced by the server router.
const ServerRequest = 30 * time.Second

// ReadHeader limits how long the server waits for request headers.
const ReadHeader = 5 * time.Second

// Shutdown limits graceful shutdown of HTTP listeners.
const Shutdown = 5 * time.Second
