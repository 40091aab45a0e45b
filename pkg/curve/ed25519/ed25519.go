// Package ed25519 implements curve.Group over the Ed25519 group via
// filippo.io/edwards25519, backing the Solana-address FROST cipher suite.
package ed25519

import (
	"crypto/sha512"
	"fmt"
	"io"

	"filippo.io/edwards25519"

	"github.com/Layr-Labs/frost-wallet-node/pkg/curve"
)

// Group is the Ed25519 curve.Group implementation.
type Group struct{}

var _ curve.Group = Group{}

func (Group) Name() string { return "ed25519" }

func (Group) NewScalar() curve.Scalar {
	return &Scalar{s: edwards25519.NewScalar()}
}

func (Group) NewPoint() curve.Point {
	return &Point{p: edwards25519.NewIdentityPoint()}
}

func (Group) Generator() curve.Point {
	return &Point{p: edwards25519.NewGeneratorPoint()}
}

func (Group) RandomScalar(r io.Reader) (curve.Scalar, error) {
	var buf [64]byte
	if _, err := io.ReadFull(r, buf[:]); err != nil {
		return nil, fmt.Errorf("read random bytes: %w", err)
	}
	s, err := edwards25519.NewScalar().SetUniformBytes(buf[:])
	if err != nil {
		return nil, fmt.Errorf("reduce random scalar: %w", err)
	}
	return &Scalar{s: s}, nil
}

func (Group) ScalarFromUint16(n uint16) curve.Scalar {
	var buf [64]byte
	buf[0] = byte(n)
	buf[1] = byte(n >> 8)
	s, _ := edwards25519.NewScalar().SetUniformBytes(buf[:])
	return &Scalar{s: s}
}

// HashToScalar derives a scalar by SHA-512'ing the domain separator and
// inputs together, then reducing mod the group order — the same
// construction RFC 8032/9591 use for Ed25519 challenge derivation.
func (Group) HashToScalar(domainSep string, data ...[]byte) (curve.Scalar, error) {
	h := sha512.New()
	h.Write([]byte(domainSep))
	for _, d := range data {
		h.Write(d)
	}
	sum := h.Sum(nil)
	s, err := edwards25519.NewScalar().SetUniformBytes(sum)
	if err != nil {
		return nil, fmt.Errorf("reduce hash to scalar: %w", err)
	}
	return &Scalar{s: s}, nil
}

// Scalar wraps edwards25519.Scalar to satisfy curve.Scalar.
type Scalar struct {
	s *edwards25519.Scalar
}

func asScalar(x curve.Scalar) *edwards25519.Scalar { return x.(*Scalar).s }

func (z *Scalar) Add(a, b curve.Scalar) curve.Scalar {
	z.s.Add(asScalar(a), asScalar(b))
	return z
}

func (z *Scalar) Sub(a, b curve.Scalar) curve.Scalar {
	z.s.Subtract(asScalar(a), asScalar(b))
	return z
}

func (z *Scalar) Mul(a, b curve.Scalar) curve.Scalar {
	z.s.Multiply(asScalar(a), asScalar(b))
	return z
}

func (z *Scalar) Negate(a curve.Scalar) curve.Scalar {
	z.s.Negate(asScalar(a))
	return z
}

func (z *Scalar) Invert(a curve.Scalar) (curve.Scalar, error) {
	if asScalar(a).Equal(edwards25519.NewScalar()) == 1 {
		return nil, fmt.Errorf("invert zero scalar")
	}
	z.s.Invert(asScalar(a))
	return z, nil
}

func (z *Scalar) Set(a curve.Scalar) curve.Scalar {
	z.s.Set(asScalar(a))
	return z
}

func (z *Scalar) Bytes() []byte { return z.s.Bytes() }

func (z *Scalar) SetBytes(data []byte) (curve.Scalar, error) {
	if len(data) != 32 {
		return nil, fmt.Errorf("ed25519 scalar must be 32 bytes, got %d", len(data))
	}
	s, err := edwards25519.NewScalar().SetCanonicalBytes(data)
	if err != nil {
		return nil, fmt.Errorf("set canonical scalar bytes: %w", err)
	}
	z.s = s
	return z, nil
}

func (z *Scalar) Equal(b curve.Scalar) bool {
	return z.s.Equal(asScalar(b)) == 1
}

func (z *Scalar) IsZero() bool {
	return z.s.Equal(edwards25519.NewScalar()) == 1
}

func (z *Scalar) Zero() {
	z.s.Set(edwards25519.NewScalar())
}

// Point wraps edwards25519.Point to satisfy curve.Point.
type Point struct {
	p *edwards25519.Point
}

func asPoint(x curve.Point) *edwards25519.Point { return x.(*Point).p }

func (z *Point) Add(a, b curve.Point) curve.Point {
	z.p.Add(asPoint(a), asPoint(b))
	return z
}

func (z *Point) Sub(a, b curve.Point) curve.Point {
	z.p.Subtract(asPoint(a), asPoint(b))
	return z
}

func (z *Point) Negate(a curve.Point) curve.Point {
	z.p.Negate(asPoint(a))
	return z
}

func (z *Point) ScalarMult(s curve.Scalar, p curve.Point) curve.Point {
	z.p.ScalarMult(asScalar(s), asPoint(p))
	return z
}

func (z *Point) Set(a curve.Point) curve.Point {
	z.p.Set(asPoint(a))
	return z
}

func (z *Point) Bytes() []byte { return z.p.Bytes() }

func (z *Point) SetBytes(data []byte) (curve.Point, error) {
	p, err := edwards25519.NewIdentityPoint().SetBytes(data)
	if err != nil {
		return nil, fmt.Errorf("set ed25519 point bytes: %w", err)
	}
	z.p = p
	return z, nil
}

func (z *Point) Equal(b curve.Point) bool {
	return z.p.Equal(asPoint(b)) == 1
}

func (z *Point) IsIdentity() bool {
	return z.p.Equal(edwards25519.NewIdentityPoint()) == 1
}
