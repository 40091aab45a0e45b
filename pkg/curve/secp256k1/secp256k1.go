// Package secp256k1 implements curve.Group over secp256k1 via
// github.com/decred/dcrd/dcrec/secp256k1/v4, backing the
// Ethereum/Bitcoin-address FROST Schnorr cipher suite.
package secp256k1

import (
	"crypto/sha256"
	"fmt"
	"io"

	dcrec "github.com/decred/dcrd/dcrec/secp256k1/v4"

	"github.com/Layr-Labs/frost-wallet-node/pkg/curve"
)

// Group is the secp256k1 curve.Group implementation.
type Group struct{}

var _ curve.Group = Group{}

func (Group) Name() string { return "secp256k1" }

func (Group) NewScalar() curve.Scalar {
	return &Scalar{s: new(dcrec.ModNScalar)}
}

func (Group) NewPoint() curve.Point {
	p := new(dcrec.JacobianPoint)
	p.X.SetInt(0)
	p.Y.SetInt(1)
	p.Z.SetInt(0)
	return &Point{p: p}
}

func (Group) Generator() curve.Point {
	var g dcrec.JacobianPoint
	one := new(dcrec.ModNScalar).SetInt(1)
	dcrec.ScalarBaseMultNonConst(one, &g)
	return &Point{p: &g}
}

func (Group) RandomScalar(r io.Reader) (curve.Scalar, error) {
	for {
		var buf [32]byte
		if _, err := io.ReadFull(r, buf[:]); err != nil {
			return nil, fmt.Errorf("read random bytes: %w", err)
		}
		s := new(dcrec.ModNScalar)
		overflow := s.SetBytes(&buf)
		if overflow == 0 && !s.IsZero() {
			return &Scalar{s: s}, nil
		}
	}
}

func (Group) ScalarFromUint16(n uint16) curve.Scalar {
	s := new(dcrec.ModNScalar)
	s.SetInt(uint32(n))
	return &Scalar{s: s}
}

// HashToScalar SHA-256's the domain separator and inputs together and
// reduces mod the group order, rejecting and rehashing with a counter
// suffix on the rare overflow case (matches the rejection-sampling
// approach used throughout the Schnorr/FROST literature for secp256k1).
func (Group) HashToScalar(domainSep string, data ...[]byte) (curve.Scalar, error) {
	for counter := byte(0); ; counter++ {
		h := sha256.New()
		h.Write([]byte(domainSep))
		for _, d := range data {
			h.Write(d)
		}
		h.Write([]byte{counter})
		sum := h.Sum(nil)
		var buf [32]byte
		copy(buf[:], sum)
		s := new(dcrec.ModNScalar)
		overflow := s.SetBytes(&buf)
		if overflow == 0 {
			return &Scalar{s: s}, nil
		}
		if counter == 255 {
			return nil, fmt.Errorf("exhausted rejection sampling counter hashing to scalar")
		}
	}
}

// Scalar wraps secp256k1.ModNScalar to satisfy curve.Scalar.
type Scalar struct {
	s *dcrec.ModNScalar
}

func asScalar(x curve.Scalar) *dcrec.ModNScalar { return x.(*Scalar).s }

func (z *Scalar) Add(a, b curve.Scalar) curve.Scalar {
	z.s.Add2(asScalar(a), asScalar(b))
	return z
}

func (z *Scalar) Sub(a, b curve.Scalar) curve.Scalar {
	negB := new(dcrec.ModNScalar).Set(asScalar(b)).Negate()
	z.s.Add2(asScalar(a), negB)
	return z
}

func (z *Scalar) Mul(a, b curve.Scalar) curve.Scalar {
	z.s.Mul2(asScalar(a), asScalar(b))
	return z
}

func (z *Scalar) Negate(a curve.Scalar) curve.Scalar {
	z.s.Set(asScalar(a)).Negate()
	return z
}

func (z *Scalar) Invert(a curve.Scalar) (curve.Scalar, error) {
	if asScalar(a).IsZero() {
		return nil, fmt.Errorf("invert zero scalar")
	}
	z.s.Set(asScalar(a)).InverseValNonConst()
	return z, nil
}

func (z *Scalar) Set(a curve.Scalar) curve.Scalar {
	z.s.Set(asScalar(a))
	return z
}

func (z *Scalar) Bytes() []byte {
	b := z.s.Bytes()
	return b[:]
}

func (z *Scalar) SetBytes(data []byte) (curve.Scalar, error) {
	if len(data) != 32 {
		return nil, fmt.Errorf("secp256k1 scalar must be 32 bytes, got %d", len(data))
	}
	var buf [32]byte
	copy(buf[:], data)
	s := new(dcrec.ModNScalar)
	s.SetBytes(&buf)
	z.s = s
	return z, nil
}

func (z *Scalar) Equal(b curve.Scalar) bool {
	return z.s.Equals(asScalar(b))
}

func (z *Scalar) IsZero() bool { return z.s.IsZero() }

func (z *Scalar) Zero() { z.s.Zero() }

// Point wraps a secp256k1 Jacobian point to satisfy curve.Point.
type Point struct {
	p *dcrec.JacobianPoint
}

func asPoint(x curve.Point) *dcrec.JacobianPoint { return x.(*Point).p }

func (z *Point) Add(a, b curve.Point) curve.Point {
	var res dcrec.JacobianPoint
	dcrec.AddNonConst(asPoint(a), asPoint(b), &res)
	z.p = &res
	return z
}

func (z *Point) Sub(a, b curve.Point) curve.Point {
	var negB dcrec.JacobianPoint
	negB.Set(asPoint(b))
	negB.Y.Negate(1)
	negB.Y.Normalize()
	var res dcrec.JacobianPoint
	dcrec.AddNonConst(asPoint(a), &negB, &res)
	z.p = &res
	return z
}

func (z *Point) Negate(a curve.Point) curve.Point {
	var res dcrec.JacobianPoint
	res.Set(asPoint(a))
	res.Y.Negate(1)
	res.Y.Normalize()
	z.p = &res
	return z
}

func (z *Point) ScalarMult(s curve.Scalar, p curve.Point) curve.Point {
	var res dcrec.JacobianPoint
	dcrec.ScalarMultNonConst(asScalar(s), asPoint(p), &res)
	z.p = &res
	return z
}

func (z *Point) Set(a curve.Point) curve.Point {
	var res dcrec.JacobianPoint
	res.Set(asPoint(a))
	z.p = &res
	return z
}

func (z *Point) Bytes() []byte {
	affine := new(dcrec.JacobianPoint)
	affine.Set(z.p)
	affine.ToAffine()
	pub := dcrec.NewPublicKey(&affine.X, &affine.Y)
	return pub.SerializeCompressed()
}

func (z *Point) SetBytes(data []byte) (curve.Point, error) {
	pub, err := dcrec.ParsePubKey(data)
	if err != nil {
		return nil, fmt.Errorf("parse secp256k1 point bytes: %w", err)
	}
	var jp dcrec.JacobianPoint
	pub.AsJacobian(&jp)
	z.p = &jp
	return z, nil
}

func (z *Point) Equal(b curve.Point) bool {
	lhs := new(dcrec.JacobianPoint)
	lhs.Set(z.p)
	lhs.ToAffine()
	rhs := new(dcrec.JacobianPoint)
	rhs.Set(asPoint(b))
	rhs.ToAffine()
	return lhs.X.Equals(&rhs.X) && lhs.Y.Equals(&rhs.Y)
}

func (z *Point) IsIdentity() bool {
	affine := new(dcrec.JacobianPoint)
	affine.Set(z.p)
	affine.ToAffine()
	return affine.X.IsZero() && affine.Y.IsZero()
}
