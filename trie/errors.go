package trie

import "errors"

// Codec failure modes, §4.1.
var (
	ErrTooManyNibbles = errors.New("trie: partial key exceeds 65535 nibbles")
	ErrUnknownNodeType = errors.New("trie: unknown node variant tag")
	ErrInputTooSmall   = errors.New("trie: truncated node encoding")
	ErrNoNodeValue     = errors.New("trie: leaf node has no value")
)

// Proof engine failure modes, §4.3.
var (
	ErrIncompleteProof = errors.New("trie: incomplete proof (cursor underflow)")
	ErrHashMismatch    = errors.New("trie: reconstructed node hash mismatch")
)

// Engine-level errors.
var (
	ErrNodeNotFound = errors.New("trie: node not found in backing store")
	ErrKeyNotFound  = errors.New("trie: key not found")
)
