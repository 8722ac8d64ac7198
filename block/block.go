package block

import "github.com/relaynode/relay/scale"

// Block is {header, body} (spec.md §3).
type Block struct {
	Header *Header
	Body   Body
}

// EncodeBody returns the SCALE encoding of body: a compact-length
// sequence of length-prefixed extrinsics (spec.md §6 "Body is a SCALE
// sequence of extrinsics, each length-prefixed").
func EncodeBody(body Body) []byte {
	out := scale.EncodeCompact(uint64(len(body.Extrinsics)))
	for _, ext := range body.Extrinsics {
		out = append(out, scale.EncodeBytes(ext)...)
	}
	return out
}

// DecodeBody parses a SCALE-encoded body.
func DecodeBody(buf []byte) (Body, error) {
	d := scale.NewDecoder(buf)
	n, err := d.DecodeCompact()
	if err != nil {
		return Body{}, err
	}
	exts := make([][]byte, n)
	for i := range exts {
		b, err := d.DecodeBytes()
		if err != nil {
			return Body{}, err
		}
		exts[i] = append([]byte{}, b...)
	}
	return Body{Extrinsics: exts}, nil
}
