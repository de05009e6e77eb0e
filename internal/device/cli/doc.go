// Package cli is the interactive console of a field device: browse and edit
// records, watch sync progress and start or cancel sessions by hand.
package cli
