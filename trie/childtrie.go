package trie

import "bytes"

// childStoragePrefix is the well-known prefix that routes a logical key
// into a child trie: the value stored at the prefixed key in the outer
// trie is the child trie's root (spec.md §4.2 "Child tries").
var childStoragePrefix = []byte(":child_storage:")

// IsChildStorageKey reports whether key addresses a child trie, and if
// so returns the child trie's own key (the bytes after the prefix).
func IsChildStorageKey(key []byte) (childKey []byte, ok bool) {
	if !bytes.HasPrefix(key, childStoragePrefix) {
		return nil, false
	}
	return key[len(childStoragePrefix):], true
}

// ChildTrieKey builds the outer-trie key under which a child trie's
// root is stored, given the child trie's own identifying suffix.
func ChildTrieKey(suffix []byte) []byte {
	return append(append([]byte{}, childStoragePrefix...), suffix...)
}

// OpenChild resolves the child trie addressed by suffix within outer: it
// reads outer's value at ChildTrieKey(suffix) as the child trie's root
// (a fresh, empty trie if absent) and returns a Trie view over it
// sharing outer's node store and hasher.
func OpenChild(outer *WorkingState, suffix []byte) (*Trie, error) {
	root, ok, err := outer.Get(ChildTrieKey(suffix))
	if err != nil {
		return nil, err
	}
	if !ok {
		return NewTrie(outer.trie.db, outer.trie.hasher, outer.trie.stateVersion), nil
	}
	return LoadTrie(outer.trie.db, outer.trie.hasher, outer.trie.stateVersion, root), nil
}

// CommitChild commits child and installs its new root as the value at
// ChildTrieKey(suffix) in outer, so the outer trie's own commit picks it
// up as an ordinary mutation.
func CommitChild(outer *WorkingState, suffix []byte, child *Trie, visit ChildVisitor) error {
	root, err := child.Root()
	if err != nil {
		return err
	}
	if _, err := child.Commit(visit); err != nil {
		return err
	}
	outer.Put(ChildTrieKey(suffix), root[:])
	return nil
}
