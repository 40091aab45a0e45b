package frost

import (
	"crypto/rand"
	"fmt"
	"sort"

	"github.com/Layr-Labs/frost-wallet-node/pkg/curve"
)

// SigningNonce holds this device's round-1 nonce pair. Per §3/§5, nonces
// are memory-resident only, never serialized, and scrubbed immediately
// after SignRound2 consumes them.
type SigningNonce struct {
	Identifier curve.Scalar
	Hiding     curve.Scalar
	Binding    curve.Scalar
}

func (n *SigningNonce) Zero() {
	if n == nil {
		return
	}
	n.Hiding.Zero()
	n.Binding.Zero()
}

// SigningCommitment is the public counterpart broadcast in round 1.
type SigningCommitment struct {
	Identifier   curve.Scalar
	HidingPoint  curve.Point
	BindingPoint curve.Point
}

// SigningPackage is the canonical binding of all commitments to the
// message being signed, derived independently by every signer once it has
// all t commitments in hand (§4.F "Round 2").
type SigningPackage struct {
	Message     []byte
	Commitments map[string]*SigningCommitment
}

// SignatureShare is one signer's contribution, broadcast in round 2.
type SignatureShare struct {
	Identifier curve.Scalar
	Z          curve.Scalar
}

// Signature is the final aggregated Schnorr signature.
type Signature struct {
	R curve.Point
	Z curve.Scalar
}

// SignRound1 generates a fresh nonce pair and commitment for this signer
// (§4.F "Round 1").
func (s *Suite) SignRound1(key *KeyPackage) (*SigningNonce, *SigningCommitment, error) {
	g := s.group
	hiding, err := g.RandomScalar(rand.Reader)
	if err != nil {
		return nil, nil, fmt.Errorf("generate hiding nonce: %w", err)
	}
	binding, err := g.RandomScalar(rand.Reader)
	if err != nil {
		return nil, nil, fmt.Errorf("generate binding nonce: %w", err)
	}

	nonce := &SigningNonce{Identifier: key.Identifier, Hiding: hiding, Binding: binding}
	commitment := &SigningCommitment{
		Identifier:   key.Identifier,
		HidingPoint:  g.NewPoint().ScalarMult(hiding, g.Generator()),
		BindingPoint: g.NewPoint().ScalarMult(binding, g.Generator()),
	}
	return nonce, commitment, nil
}

// NewSigningPackage builds the canonical signing package once all t
// commitments are in hand.
func NewSigningPackage(message []byte, commitments map[string]*SigningCommitment) *SigningPackage {
	return &SigningPackage{Message: message, Commitments: commitments}
}

func (s *Suite) bindingFactors(pkg *SigningPackage) map[string]curve.Scalar {
	g := s.group
	keys := make([]string, 0, len(pkg.Commitments))
	for key := range pkg.Commitments {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	var commBytes []byte
	for _, key := range keys {
		c := pkg.Commitments[key]
		commBytes = append(commBytes, c.Identifier.Bytes()...)
		commBytes = append(commBytes, c.HidingPoint.Bytes()...)
		commBytes = append(commBytes, c.BindingPoint.Bytes()...)
	}
	factors := make(map[string]curve.Scalar, len(pkg.Commitments))
	for key, c := range pkg.Commitments {
		rho, _ := g.HashToScalar("frost-signing-binding", pkg.Message, commBytes, c.Identifier.Bytes())
		factors[key] = rho
	}
	return factors
}

func (s *Suite) groupCommitment(pkg *SigningPackage, factors map[string]curve.Scalar) curve.Point {
	g := s.group
	R := g.NewPoint()
	for key, c := range pkg.Commitments {
		rho := factors[key]
		rhoE := g.NewPoint().ScalarMult(rho, c.BindingPoint)
		term := g.NewPoint().Add(c.HidingPoint, rhoE)
		R = g.NewPoint().Add(R, term)
	}
	return R
}

// lagrangeCoefficient computes participant id's Lagrange coefficient over
// the signer set implied by pkg.Commitments, evaluated at x=0.
func (s *Suite) lagrangeCoefficient(id curve.Scalar, pkg *SigningPackage) curve.Scalar {
	g := s.group
	num := g.ScalarFromUint16(1)
	den := g.ScalarFromUint16(1)
	for _, c := range pkg.Commitments {
		if c.Identifier.Equal(id) {
			continue
		}
		num = g.NewScalar().Mul(num, c.Identifier)
		diff := g.NewScalar().Sub(c.Identifier, id)
		den = g.NewScalar().Mul(den, diff)
	}
	denInv, err := g.NewScalar().Invert(den)
	if err != nil {
		// Only possible if the signer set contains a duplicate identifier,
		// which the command bus's deduplicator (§4.I) should have already
		// prevented from reaching here.
		return g.NewScalar()
	}
	return g.NewScalar().Mul(num, denInv)
}

// SignRound2 derives the signing package's challenge and computes this
// signer's signature share (§4.F "Round 2"). The caller must zero nonce
// immediately after this returns.
func (s *Suite) SignRound2(key *KeyPackage, nonce *SigningNonce, pkg *SigningPackage) (*SignatureShare, error) {
	g := s.group
	factors := s.bindingFactors(pkg)
	R := s.groupCommitment(pkg, factors)

	c, err := g.HashToScalar("frost-signing-challenge", R.Bytes(), key.GroupKey.Bytes(), pkg.Message)
	if err != nil {
		return nil, fmt.Errorf("hash signing challenge: %w", err)
	}

	lambda := s.lagrangeCoefficient(key.Identifier, pkg)

	myRho, ok := factors[idKey(key.Identifier)]
	if !ok {
		return nil, fmt.Errorf("signer %x missing from its own signing package", key.Identifier.Bytes())
	}

	z := g.NewScalar().Mul(myRho, nonce.Binding)
	z = g.NewScalar().Add(nonce.Hiding, z)
	lambdaS := g.NewScalar().Mul(lambda, key.SecretKey)
	lambdaSC := g.NewScalar().Mul(lambdaS, c)
	z = g.NewScalar().Add(z, lambdaSC)

	return &SignatureShare{Identifier: key.Identifier, Z: z}, nil
}

// Aggregate combines t verified signature shares into the final signature
// (§4.F "Aggregation"). Each share is checked against the sender's
// verifying share before being folded in; a bad share surfaces as a
// protocol error naming the offending identifier rather than silently
// producing an invalid aggregate.
func (s *Suite) Aggregate(pkg *SigningPackage, shares map[string]*SignatureShare, pubKeys *PublicKeyPackage) (*Signature, error) {
	g := s.group
	factors := s.bindingFactors(pkg)
	R := s.groupCommitment(pkg, factors)

	c, err := g.HashToScalar("frost-signing-challenge", R.Bytes(), pubKeys.GroupKey.Bytes(), pkg.Message)
	if err != nil {
		return nil, fmt.Errorf("hash signing challenge: %w", err)
	}

	z := g.NewScalar()
	for key, share := range shares {
		comm, ok := pkg.Commitments[key]
		if !ok {
			return nil, fmt.Errorf("signature share from %s has no matching commitment", key)
		}
		verifyingShare, ok := pubKeys.VerifyingShare[key]
		if !ok {
			return nil, fmt.Errorf("no verifying share on file for signer %s", key)
		}
		lambda := s.lagrangeCoefficient(comm.Identifier, pkg)
		if err := s.verifySignatureShare(share, comm, factors[key], c, lambda, verifyingShare); err != nil {
			return nil, fmt.Errorf("signer %s: %w", key, err)
		}
		z = g.NewScalar().Add(z, share.Z)
	}

	return &Signature{R: R, Z: z}, nil
}

// verifySignatureShare checks z_i*G == (hiding_i + rho_i*binding_i) +
// lambda_i*c*verifyingShare_i, rejecting a malicious or corrupted share
// before it pollutes the aggregate (§4.F edge case "share arriving after
// aggregation" and §7 "signature share rejected by aggregate").
func (s *Suite) verifySignatureShare(share *SignatureShare, comm *SigningCommitment, rho curve.Scalar, c, lambda curve.Scalar, verifyingShare curve.Point) error {
	g := s.group
	lhs := g.NewPoint().ScalarMult(share.Z, g.Generator())

	rhoE := g.NewPoint().ScalarMult(rho, comm.BindingPoint)
	commitPart := g.NewPoint().Add(comm.HidingPoint, rhoE)

	lambdaC := g.NewScalar().Mul(lambda, c)
	keyPart := g.NewPoint().ScalarMult(lambdaC, verifyingShare)

	rhs := g.NewPoint().Add(commitPart, keyPart)

	if !lhs.Equal(rhs) {
		return fmt.Errorf("signature share failed verification")
	}
	return nil
}

// Verify checks a final aggregated signature against the group public key
// (§8 invariant 2).
func (s *Suite) Verify(message []byte, sig *Signature, groupKey curve.Point) bool {
	g := s.group
	c, err := g.HashToScalar("frost-signing-challenge", sig.R.Bytes(), groupKey.Bytes(), message)
	if err != nil {
		return false
	}
	lhs := g.NewPoint().ScalarMult(sig.Z, g.Generator())
	cY := g.NewPoint().ScalarMult(c, groupKey)
	rhs := g.NewPoint().Add(sig.R, cY)
	return lhs.Equal(rhs)
}
