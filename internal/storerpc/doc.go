// Package storerpc implements the store access protocol: the request/response
// exchange that lets a worker process run store operations on the coordinator,
// which is the only process holding the store.
//
// # Wire Format
//
// Frames are newline-delimited JSON objects on a bidirectional byte stream
// (a pair of pipes inherited by the worker as fd 3 and fd 4):
//
//	worker → owner   {"type":"request","action":"getUserById","arguments":{"id":"…"},"correlationId":"…"}
//	owner  → worker  {"type":"response","correlationId":"…","result":{…},"error":null}
//	owner  → worker  {"type":"response","correlationId":"…","result":null,"error":"Unknown action: …"}
//
// Responses always carry both result and error; the unused one is null.
//	worker → owner   {"type":"online"}
//
// # Operations
//
// The operation set is closed: List, GetByID, Create, Update and Delete. The
// owner matches them exhaustively; an unknown action name is answered with an
// error response. "Not found" travels as a null (or false) result and is
// mapped back to storage.ErrUserNotFound by the Client.
//
// # Calls
//
// A Client call completes exactly once, by the first of:
//   - the matching response: the result, or a *RemoteError with the owner's message
//   - the timeout (5s by default): ErrTimeout
//   - the caller's context: its error
//   - the channel closing: ErrChannelClosed
//
// Later responses for the same correlation id are dropped. A client built
// without a channel fails every call with ErrNotApplicable.
package storerpc
