package protocol

// ProtocolVersion is the one-byte handshake value every connection in
// this protocol exchanges before any command frame (internal/stream's
// Stream.Open). Bumped whenever a wire-incompatible change lands.
const ProtocolVersion byte = 1
