// Package codec implements the Message Codec for the /ws/calls stream.
//
// Outbound (client -> server):
//   - subscribe: {"type":"subscribe","viewport":{...}|null,"priorities":[...]|null}
//   - ping:      {"type":"ping"}
//
// Inbound (server -> client), discriminated by "type":
//   - call_update: {"type":"call_update","data":[...],"timestamp":"..."}
//   - pong:        {"type":"pong"}
//   - error:       {"type":"error","message":"..."}
//
// Decode never fails. Anything it cannot make sense of comes back as Unknown.
package codec
