package trie

import (
	"github.com/relaynode/relay/runtime"
)

// ChildVisitor is invoked once for every node stored during a commit,
// after its Merkle value has been computed. Proof recording hooks in
// here instead of copying the tree (spec.md §4.2).
type ChildVisitor func(merkleValue []byte, encoded []byte)

// Trie is the engine over a logical bytes->bytes map, backed by a
// content-addressed node store and committed in Merkle-rooted batches.
type Trie struct {
	root         childRef
	db           *NodeDB
	hasher       runtime.Hasher
	stateVersion int

	// staged accumulates (merkleValue -> encoding) pairs produced by the
	// most recent Root() call, ready to be flushed by Commit().
	staged map[string][]byte

	// onLoad, if set, is called with every node's (merkleValue, encoded)
	// pair as it is fetched from the backing store during navigation —
	// the hook a Recorder attaches to build a read proof.
	onLoad func(merkleValue, encoded []byte)
}

// NewTrie creates an empty trie over db, hashing with h.
func NewTrie(db *NodeDB, h runtime.Hasher, stateVersion int) *Trie {
	return &Trie{db: db, hasher: h, stateVersion: stateVersion}
}

// LoadTrie opens an existing trie whose root Merkle value is root.
func LoadTrie(db *NodeDB, h runtime.Hasher, stateVersion int, root []byte) *Trie {
	return &Trie{db: db, hasher: h, stateVersion: stateVersion, root: storedChild(root)}
}

func (t *Trie) resolve(ref childRef) (*node, error) {
	if ref.inline != nil {
		return ref.inline, nil
	}
	if len(ref.stored) == 0 {
		return &node{variant: variantEmpty}, nil
	}
	encoded := ref.stored
	if len(ref.stored) == 32 {
		fetched, err := t.db.Get(ref.stored)
		if err != nil {
			return nil, err
		}
		encoded = fetched
	}
	if t.onLoad != nil {
		t.onLoad(ref.stored, encoded)
	}
	d, err := decodeNode(encoded)
	if err != nil {
		return nil, err
	}
	return d.n, nil
}

// resolveValue returns the logical value bytes for n, fetching an
// external blob from the node store if the value is hashed-out-of-line.
func (t *Trie) resolveValue(n *node) ([]byte, error) {
	if n.value.kind != valueHashed {
		return n.value.data, nil
	}
	return t.db.Get(n.value.data)
}

// Get returns the value stored at key, or (nil, false) if absent.
func (t *Trie) Get(key []byte) ([]byte, bool, error) {
	nib := bytesToNibbles(key)
	ref := t.root
	for {
		n, err := t.resolve(ref)
		if err != nil {
			return nil, false, err
		}
		if n.variant == variantEmpty {
			return nil, false, nil
		}
		cp := commonPrefixLen(n.partialKey, nib)
		if cp < len(n.partialKey) {
			return nil, false, nil
		}
		nib = nib[cp:]
		if len(nib) == 0 {
			if n.value.isAbsent() {
				return nil, false, nil
			}
			val, err := t.resolveValue(n)
			return val, true, err
		}
		if !n.variant.isBranch() {
			return nil, false, nil
		}
		idx := nib[0]
		ref = n.children[idx]
		nib = nib[1:]
	}
}

// Put inserts or overwrites the value at key.
func (t *Trie) Put(key, value []byte) error {
	newRoot, err := t.insert(t.root, bytesToNibbles(key), value)
	if err != nil {
		return err
	}
	t.root = newRoot
	return nil
}

func (t *Trie) insert(ref childRef, nib nibbles, value []byte) (childRef, error) {
	n, err := t.resolve(ref)
	if err != nil {
		return ref, err
	}

	if n.variant == variantEmpty {
		return inlineChild(newLeaf(nib, value)), nil
	}

	cp := commonPrefixLen(n.partialKey, nib)

	switch {
	case cp == len(n.partialKey) && cp == len(nib):
		updated := cloneNode(n)
		updated.value = nodeValue{kind: valueInline, data: value}
		if updated.variant == variantLeaf || updated.variant == variantLeafContainingHashes {
			updated.variant = variantLeaf
		} else {
			updated.variant = variantBranchWithValue
		}
		updated.markDirty()
		return inlineChild(updated), nil

	case cp == len(n.partialKey):
		// n's whole partial key matched; remaining nibbles route into a child.
		rem := nib[cp:]
		idx, childNib := rem[0], rem[1:]

		if !n.variant.isBranch() {
			// n is a leaf whose entire key matched as a prefix: turn it
			// into a branch carrying its old value, with a new leaf child.
			branch := newBranch(n.partialKey, n.value.data, true)
			branch.children[idx] = inlineChild(newLeaf(childNib, value))
			return inlineChild(branch), nil
		}

		updated := cloneNode(n)
		newChild, err := t.insert(n.children[idx], childNib, value)
		if err != nil {
			return ref, err
		}
		updated.children[idx] = newChild
		updated.markDirty()
		return inlineChild(updated), nil

	default:
		// Partial match: split at cp into a new branch.
		branch := &node{partialKey: n.partialKey[:cp], dirty: true}

		oldRest := n.partialKey[cp:]
		demoted := cloneNode(n)
		demoted.partialKey = oldRest[1:]
		demoted.markDirty()
		branch.children[oldRest[0]] = inlineChild(demoted)

		newRest := nib[cp:]
		if len(newRest) == 0 {
			branch.variant = variantBranchWithValue
			branch.value = nodeValue{kind: valueInline, data: value}
		} else {
			branch.variant = variantBranchEmptyValue
			branch.children[newRest[0]] = inlineChild(newLeaf(newRest[1:], value))
		}
		return inlineChild(branch), nil
	}
}

// cloneNode shallow-copies n (children slice included by value, since
// [16]childRef is an array) so mutation never aliases an unrelated ref.
func cloneNode(n *node) *node {
	c := *n
	c.cachedHash = nil
	return &c
}

// Remove deletes key if present, re-collapsing any branch left with a
// single child and no value by fusing it with that child.
func (t *Trie) Remove(key []byte) (bool, error) {
	newRoot, found, err := t.remove(t.root, bytesToNibbles(key))
	if err != nil || !found {
		return found, err
	}
	t.root = newRoot
	return true, nil
}

func (t *Trie) remove(ref childRef, nib nibbles) (childRef, bool, error) {
	n, err := t.resolve(ref)
	if err != nil {
		return ref, false, err
	}
	if n.variant == variantEmpty {
		return ref, false, nil
	}

	cp := commonPrefixLen(n.partialKey, nib)
	if cp < len(n.partialKey) {
		return ref, false, nil
	}
	rem := nib[cp:]

	if len(rem) == 0 {
		if n.value.isAbsent() {
			return ref, false, nil
		}
		if !n.variant.isBranch() {
			return childRef{}, true, nil
		}
		cleared := cloneNode(n)
		cleared.value = nodeValue{}
		cleared.variant = variantBranchEmptyValue
		cleared.markDirty()
		newRef, err := t.collapseIfNeeded(cleared)
		return newRef, true, err
	}

	if !n.variant.isBranch() {
		return ref, false, nil
	}
	idx, childNib := rem[0], rem[1:]
	newChild, found, err := t.remove(n.children[idx], childNib)
	if err != nil || !found {
		return ref, found, err
	}

	updated := cloneNode(n)
	updated.children[idx] = newChild
	updated.markDirty()
	newRef, err := t.collapseIfNeeded(updated)
	return newRef, true, err
}

// collapseIfNeeded applies spec.md §4.2's removal/collapse rule: a
// branch left with exactly one child and no value fuses with that
// child by concatenating partial keys; a branch left with no children
// but a value becomes a leaf; a branch left with nothing becomes empty.
func (t *Trie) collapseIfNeeded(n *node) (childRef, error) {
	if !n.variant.isBranch() {
		return inlineChild(n), nil
	}
	count := n.childCount()

	if count == 0 {
		if n.value.isAbsent() {
			return childRef{}, nil
		}
		return inlineChild(newLeaf(n.partialKey, n.value.data)), nil
	}

	if count == 1 && n.value.isAbsent() {
		var idx int
		for i := 0; i < 16; i++ {
			if !n.children[i].isEmpty() {
				idx = i
				break
			}
		}
		child, err := t.resolve(n.children[idx])
		if err != nil {
			return childRef{}, err
		}
		fused := cloneNode(child)
		fusedKey := make(nibbles, 0, len(n.partialKey)+1+len(child.partialKey))
		fusedKey = append(fusedKey, n.partialKey...)
		fusedKey = append(fusedKey, byte(idx))
		fusedKey = append(fusedKey, child.partialKey...)
		fused.partialKey = fusedKey
		fused.markDirty()
		return inlineChild(fused), nil
	}

	return inlineChild(n), nil
}

// ClearPrefix removes every key under prefix, in deterministic
// ascending-key order, stopping once limit removals have happened (a
// nil limit removes everything). It reports how many were removed and
// whether more remain.
func (t *Trie) ClearPrefix(prefix []byte, limit *int) (int, bool, error) {
	removed := 0
	for {
		if limit != nil && removed >= *limit {
			more, err := t.hasPrefix(prefix)
			return removed, more, err
		}
		key, ok, err := t.firstKeyWithPrefix(prefix)
		if err != nil {
			return removed, false, err
		}
		if !ok {
			return removed, false, nil
		}
		if _, err := t.Remove(key); err != nil {
			return removed, false, err
		}
		removed++
	}
}

func (t *Trie) hasPrefix(prefix []byte) (bool, error) {
	_, ok, err := t.firstKeyWithPrefix(prefix)
	return ok, err
}

// firstKeyWithPrefix returns the lexicographically first full key under
// prefix, if any.
func (t *Trie) firstKeyWithPrefix(prefix []byte) ([]byte, bool, error) {
	return t.firstKeyFrom(t.root, nil, bytesToNibbles(prefix), true)
}

// firstKeyFrom walks the trie collecting the nibble path to the first
// (leftmost) leaf under the subtree reached by following pathNibbles
// from ref. mustMatchPrefix restricts descent to nodes consistent with
// pathNibbles while it still has unconsumed nibbles.
func (t *Trie) firstKeyFrom(ref childRef, acc nibbles, pathNibbles nibbles, mustMatchPrefix bool) ([]byte, bool, error) {
	n, err := t.resolve(ref)
	if err != nil {
		return nil, false, err
	}
	if n.variant == variantEmpty {
		return nil, false, nil
	}

	if mustMatchPrefix {
		cp := commonPrefixLen(n.partialKey, pathNibbles)
		if cp < len(n.partialKey) && cp < len(pathNibbles) {
			return nil, false, nil
		}
		acc = append(append(nibbles{}, acc...), n.partialKey...)
		if len(pathNibbles) <= len(n.partialKey) {
			pathNibbles = nil
			mustMatchPrefix = false
		} else {
			pathNibbles = pathNibbles[len(n.partialKey):]
		}
	} else {
		acc = append(append(nibbles{}, acc...), n.partialKey...)
	}

	if !mustMatchPrefix && !n.value.isAbsent() {
		return packNibbles(acc), true, nil
	}

	if !n.variant.isBranch() {
		if mustMatchPrefix {
			return nil, false, nil
		}
		return nil, false, nil
	}

	start := 0
	if mustMatchPrefix && len(pathNibbles) > 0 {
		start = int(pathNibbles[0])
	}
	for i := start; i < 16; i++ {
		if n.children[i].isEmpty() {
			continue
		}
		childPath := pathNibbles
		childMatch := mustMatchPrefix
		if mustMatchPrefix {
			if len(pathNibbles) == 0 {
				childMatch = false
			} else if i != int(pathNibbles[0]) {
				continue
			} else {
				childPath = pathNibbles[1:]
			}
		}
		key, ok, err := t.firstKeyFrom(n.children[i], append(acc, byte(i)), childPath, childMatch)
		if err != nil {
			return nil, false, err
		}
		if ok {
			return key, true, nil
		}
	}
	return nil, false, nil
}

// NextKey returns the lexicographically next full key strictly greater
// than k, or (nil, false) if none exists.
func (t *Trie) NextKey(k []byte) ([]byte, bool, error) {
	target := bytesToNibbles(k)
	return t.nextKeyFrom(t.root, nil, target)
}

func (t *Trie) nextKeyFrom(ref childRef, acc nibbles, target nibbles) ([]byte, bool, error) {
	n, err := t.resolve(ref)
	if err != nil {
		return nil, false, err
	}
	if n.variant == variantEmpty {
		return nil, false, nil
	}
	full := append(append(nibbles{}, acc...), n.partialKey...)

	if !n.value.isAbsent() && full.compare(target) > 0 {
		return packNibbles(full), true, nil
	}
	if !n.variant.isBranch() {
		return nil, false, nil
	}
	for i := 0; i < 16; i++ {
		if n.children[i].isEmpty() {
			continue
		}
		childFull := append(append(nibbles{}, full...), byte(i))
		if childFull.compare(target) <= 0 && commonPrefixLen(childFull, target) < len(childFull) {
			continue
		}
		key, ok, err := t.nextKeyFrom(n.children[i], append(full, byte(i)), target)
		if err != nil {
			return nil, false, err
		}
		if ok {
			return key, true, nil
		}
	}
	return nil, false, nil
}

// Root recomputes the Merkle value of every dirty node bottom-up and
// returns the resulting root hash. Idempotent: calling it again with no
// intervening mutation returns the same value without re-encoding.
func (t *Trie) Root() (runtime.Hash, error) {
	t.staged = make(map[string][]byte)
	mv, err := t.computeHash(t.root)
	if err != nil {
		return runtime.Hash{}, err
	}
	if len(mv) == 0 {
		return EmptyRootHash(t.hasher), nil
	}
	if len(mv) == 32 {
		var h runtime.Hash
		copy(h[:], mv)
		return h, nil
	}
	// Root encoding shorter than 32 bytes: hash it for the externally
	// visible root (only inline Merkle values skip hashing for child
	// slots; the trie root is always reported as a full hash), and stage
	// the encoding under that hash too so LoadTrie can reopen the
	// committed trie from the reported root.
	root := t.hasher.Hash(mv)
	t.staged[string(root[:])] = append([]byte{}, mv...)
	return root, nil
}

func (t *Trie) computeHash(ref childRef) ([]byte, error) {
	if ref.inline == nil {
		return ref.stored, nil
	}
	n := ref.inline
	if !n.dirty && n.cachedHash != nil {
		return n.cachedHash, nil
	}

	var childMerkles [16][]byte
	if n.variant.isBranch() {
		for i := 0; i < 16; i++ {
			if n.children[i].isEmpty() {
				continue
			}
			mv, err := t.computeHash(n.children[i])
			if err != nil {
				return nil, err
			}
			childMerkles[i] = mv
			n.children[i] = storedChild(mv)
		}
	}

	value := n.value
	if value.kind == valueInline && shouldHashValue(t.stateVersion, n.dirty, value.data) {
		h := t.hasher.Hash(value.data)
		t.staged[string(h[:])] = append([]byte{}, value.data...)
		n.value = nodeValue{kind: valueHashed, data: h[:]}
		switch n.variant {
		case variantLeaf:
			n.variant = variantLeafContainingHashes
		case variantBranchWithValue:
			n.variant = variantBranchContainingHashes
		}
	}

	encoded, err := encodeNode(n, childMerkles)
	if err != nil {
		return nil, err
	}
	mv := merkleValue(t.hasher, encoded)
	t.staged[string(mv)] = encoded
	n.dirty = false
	n.cachedHash = mv
	return mv, nil
}

// Commit flushes every node staged by the most recent Root() call into
// the backing node store under a single ref-counted batch, invoking
// visit for every stored node (proof recording hooks in here), and
// returns the commit's journal sequence number.
func (t *Trie) Commit(visit ChildVisitor) (uint64, error) {
	if t.staged == nil {
		if _, err := t.Root(); err != nil {
			return 0, err
		}
	}
	if visit != nil {
		for mv, encoded := range t.staged {
			visit([]byte(mv), encoded)
		}
	}
	seq, err := t.db.CommitBatch(t.staged, nil)
	t.staged = nil
	return seq, err
}

// RootMerkleValue exposes the root childRef's resolved Merkle value
// bytes (pre-hash-folding): the verbatim encoding when it is shorter
// than 32 bytes, else its hash. CommitChild stores Root()'s hash in the
// parent trie, not this value.
func (t *Trie) RootMerkleValue() ([]byte, error) {
	return t.computeHash(t.root)
}
