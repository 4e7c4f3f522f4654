// Package protocol defines the downstream JSON frames exchanged between the
// gateway and its WebSocket clients.
//
// Client -> gateway:
//
//	{"type":"subscribe","symbol":"AAPL"}
//	{"type":"unsubscribe","symbol":"AAPL"}
//
// Gateway -> client:
//
//	{"type":"subscribed","symbol":"AAPL"}
//	{"type":"unsubscribed","symbol":"AAPL"}
//	{"type":"tick","symbol":"AAPL","price":150.2,"ts":1000}
//	{"type":"quote","symbol":"AAPL","price":150.2,"prevClose":149.9,"ts":1700000000000,"source":"poll"}
//	{"type":"error","message":"Invalid message format"}
package protocol
