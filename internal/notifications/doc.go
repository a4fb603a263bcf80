// Package notifications relays coordinator events to viewers.
//
// Every event goes to the in-memory Hub, which assigns a sequence number and
// backs the SSE stream. Optional relays mirror events to ntfy (terminal
// events only), Redis Pub/Sub, and Kafka. Delivery is best effort: relay
// failures are logged and never affect task state.
package notifications
