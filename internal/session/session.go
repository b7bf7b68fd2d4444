// Package session mirrors the live state of each WebSocket connection into
// Redis so that operators and other server instances can see who is idle,
// searching or chatting. The in-process hub stays authoritative; the mirror
// is written best-effort.
package session
