package module

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"fmt"
)

// ContentHash computes the SHA-256 hash of a procedure's signature and body.
// Two procedures that would behave identically under the same externs hash
// the same regardless of which module holds them.
func ContentHash(p *Procedure) ([32]byte, error) {
	body, err := p.Body.Serialize()
	if err != nil {
		return [32]byte{}, err
	}

	var buf []byte
	buf = appendString(buf, p.DeclaringType)
	buf = appendString(buf, p.Name)
	buf = binary.BigEndian.AppendUint32(buf, uint32(p.Attrs))
	buf = binary.BigEndian.AppendUint32(buf, uint32(len(p.Params)))
	for _, param := range p.Params {
		buf = appendString(buf, param.Name)
		buf = appendString(buf, string(param.Type))
	}
	buf = appendString(buf, string(p.Returns))
	buf = binary.BigEndian.AppendUint32(buf, uint32(len(p.Locals)))
	for _, l := range p.Locals {
		buf = appendString(buf, l.Name)
		buf = appendString(buf, string(l.Type))
	}
	buf = append(buf, body...)

	return sha256.Sum256(buf), nil
}

// Digest is the hex SHA-256 of the module's canonical image with the MVID
// left out, so rebuilding identical content yields the same digest.
func Digest(m *Module) (string, error) {
	data, err := cborEncMode.Marshal(newImage(m, ""))
	if err != nil {
		return "", fmt.Errorf("module: digest %s: %w", m.Name, err)
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:]), nil
}

func appendString(buf []byte, s string) []byte {
	buf = binary.BigEndian.AppendUint32(buf, uint32(len(s)))
	return append(buf, s...)
}
