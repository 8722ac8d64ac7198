// Package consensus implements BABE-style slot-based block production
// election: VRF sortition over (epoch randomness, slot, authority
// index), the epoch tree each block's slot is evaluated against, and
// equivocation detection.
package consensus

import (
	"encoding/binary"
	"errors"

	"github.com/holiman/uint256"
	"github.com/relaynode/relay/runtime"
)

// VRF errors.
var (
	ErrVRFInvalidProof  = errors.New("consensus: invalid VRF proof")
	ErrVRFNotSlotLeader = errors.New("consensus: VRF output exceeds authority threshold")
)

// VRFOutputSize is the size of a VRF output hash.
const VRFOutputSize = 32

// VRFProof is a claim of slot leadership: the VRF output and proof
// bytes produced over the transcript (epoch_randomness, slot,
// authority_index).
type VRFProof struct {
	Output [VRFOutputSize]byte
	Proof  []byte
}

// transcript builds the VRF input message for a given slot claim.
func transcript(epochRandomness [32]byte, slot uint64, authorityIndex uint32) []byte {
	buf := make([]byte, 32+8+4)
	copy(buf, epochRandomness[:])
	binary.LittleEndian.PutUint64(buf[32:], slot)
	binary.LittleEndian.PutUint32(buf[40:], authorityIndex)
	return buf
}

// ClaimSlot asks signer to produce a VRF-style proof for (epoch
// randomness, slot, authority index), then checks the output against
// the authority's per-slot threshold. Returns ErrVRFNotSlotLeader if
// the authority did not win sortition for this slot.
func ClaimSlot(signer runtime.Signer, hasher runtime.Hasher, epochRandomness [32]byte, slot uint64, authorityIndex uint32, threshold *uint256.Int) (*VRFProof, error) {
	msg := transcript(epochRandomness, slot, authorityIndex)
	sig, err := signer.Sign(msg)
	if err != nil {
		return nil, err
	}
	output := hasher.Hash(sig)

	proof := &VRFProof{Output: [32]byte(output), Proof: sig}
	if !belowThreshold(proof.Output, threshold) {
		return nil, ErrVRFNotSlotLeader
	}
	return proof, nil
}

// VerifyClaim checks that proof is a valid VRF proof of slot leadership
// for the given authority and transcript, and that its output clears
// the per-authority threshold.
func VerifyClaim(signer runtime.Signer, pub []byte, hasher runtime.Hasher, epochRandomness [32]byte, slot uint64, authorityIndex uint32, proof *VRFProof, threshold *uint256.Int) error {
	msg := transcript(epochRandomness, slot, authorityIndex)
	if !signer.Verify(pub, msg, proof.Proof) {
		return ErrVRFInvalidProof
	}
	want := hasher.Hash(proof.Proof)
	if [32]byte(want) != proof.Output {
		return ErrVRFInvalidProof
	}
	if !belowThreshold(proof.Output, threshold) {
		return ErrVRFNotSlotLeader
	}
	return nil
}

// belowThreshold interprets output as a big-endian 256-bit integer and
// reports whether it is strictly below threshold — sortition by lowest
// VRF output, generalized to a per-authority weighted threshold instead
// of a single fixed cutoff.
func belowThreshold(output [32]byte, threshold *uint256.Int) bool {
	var v uint256.Int
	v.SetBytes(output[:])
	return v.Lt(threshold)
}

// Threshold computes the per-authority VRF threshold for an authority
// holding weight out of totalWeight authorities, targeting c as the
// probability any given authority is slot leader in a given slot
// (expressed as a rational c = cNum/cDenom, matching BABE's
// constant-probability-per-slot formulation).
func Threshold(weight, totalWeight uint64, cNum, cDenom uint64) *uint256.Int {
	if totalWeight == 0 {
		return uint256.NewInt(0)
	}
	// threshold = 2^256 * (1 - (1 - c)^(weight/totalWeight)), approximated
	// linearly for weight << totalWeight: threshold ≈ 2^256 * c * weight / totalWeight.
	max := new(uint256.Int).Not(uint256.NewInt(0)) // 2^256 - 1
	denom := new(uint256.Int).Mul(uint256.NewInt(cDenom), uint256.NewInt(totalWeight))
	if denom.IsZero() {
		return uint256.NewInt(0)
	}
	// Divide before multiplying so the product stays within 256 bits.
	q := new(uint256.Int).Div(max, denom)
	return q.Mul(q, uint256.NewInt(cNum*weight))
}
