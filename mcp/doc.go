// Package mcp serves the wallet's compiled API operations to MCP clients
// over stdio or HTTP/SSE.
//
// The server process never sees a passphrase: it resumes the master key from
// a session token, opens the vault read-only, and keeps credentials as
// ciphertext between calls. Only the tools/call path decrypts, and only for
// the duration of the outbound request. Deleting the session file (the
// shell's lock) revokes the server immediately.
package mcp
