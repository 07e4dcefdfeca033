// Package bridge connects host-side "paths dropped" feeds to the ingestion
// gateway.
//
// A Bridge owns one Channel. It tries to connect immediately, retries with
// bounded exponential backoff while the host reports it is not ready, and
// gives up with ErrConnectivityTimeout after a fixed number of attempts
// instead of polling forever. Once connected, every non-empty batch of paths
// is forwarded to the gateway. Channels exist for a host WebSocket endpoint,
// a watched drop folder, and removable media mounts.
package bridge
