// Package curve abstracts the elliptic-curve group arithmetic the FROST
// cipher suites are built over, so pkg/frost is generic across
// secp256k1 (Ethereum/Bitcoin Schnorr) and Ed25519 (Solana).
//
// Implementations live in pkg/curve/secp256k1 and pkg/curve/ed25519; per
// §9's dispatch note, the node never templatizes over a Group type
// parameter — it holds a Suite interface value chosen once at session
// creation from config.CurveType.
package curve

import "io"

// Scalar is an element of a group's scalar field. All arithmetic methods
// use a mutable-receiver pattern: they write the result into the receiver
// and return it, so call sites can chain without extra allocations.
type Scalar interface {
	Add(a, b Scalar) Scalar
	Sub(a, b Scalar) Scalar
	Mul(a, b Scalar) Scalar
	Negate(a Scalar) Scalar
	Invert(a Scalar) (Scalar, error)
	Set(a Scalar) Scalar
	Bytes() []byte
	SetBytes(data []byte) (Scalar, error)
	Equal(b Scalar) bool
	IsZero() bool
	// Zero overwrites the scalar's backing storage with zero bytes.
	// Required by §3/§9's secret-zeroization discipline: every
	// single-use secret container calls Zero before it goes out of
	// scope.
	Zero()
}

// Point is an element of the group, typically an elliptic-curve point.
type Point interface {
	Add(a, b Point) Point
	Sub(a, b Point) Point
	Negate(a Point) Point
	ScalarMult(s Scalar, p Point) Point
	Set(a Point) Point
	Bytes() []byte
	SetBytes(data []byte) (Point, error)
	Equal(b Point) bool
	IsIdentity() bool
}

// Group encapsulates all curve-specific details behind factory methods,
// so the FROST protocol logic in pkg/frost never references a concrete
// curve library directly.
type Group interface {
	Name() string
	NewScalar() Scalar
	NewPoint() Point
	Generator() Point
	RandomScalar(r io.Reader) (Scalar, error)
	// HashToScalar derives a scalar deterministically from the
	// concatenation of data, domain-separated per curve (used for FROST
	// binding factors and Schnorr challenges).
	HashToScalar(domainSep string, data ...[]byte) (Scalar, error)
	ScalarFromUint16(n uint16) Scalar
}
