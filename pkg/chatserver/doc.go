// Package chatserver exposes turns over HTTP and WebSocket.
//
// Every turn of a client runs on that client's commandqueue lane, so
// messages from one client are answered in order.
package chatserver
