package frost

import (
	"crypto/rand"
	"fmt"

	"github.com/Layr-Labs/frost-wallet-node/pkg/curve"
)

// Round1Package is the public data a participant broadcasts in DKG round 1
// (spec §4.E): Feldman commitments to its secret polynomial, plus a
// Schnorr proof of knowledge of the polynomial's constant term binding the
// identifier and commitments — this defeats rogue-key attacks where a
// malicious dealer picks its commitment as a function of others'.
type Round1Package struct {
	Identifier  curve.Scalar
	Commitments []curve.Point
	ProofR      curve.Point
	ProofMu     curve.Scalar
}

// Round1SecretPackage holds this device's round-1 secret state. It is
// single-use: Part2 consumes it and the caller must scrub Coefficients
// immediately after (§3, §9 secret-zeroization discipline).
type Round1SecretPackage struct {
	Identifier   curve.Scalar
	Coefficients []curve.Scalar
}

// Zero overwrites every coefficient scalar's backing storage.
func (p *Round1SecretPackage) Zero() {
	if p == nil {
		return
	}
	for _, c := range p.Coefficients {
		c.Zero()
	}
}

// Round2Package is the pairwise secret share one participant sends another
// in DKG round 2.
type Round2Package struct {
	From  curve.Scalar
	To    curve.Scalar
	Share curve.Scalar
}

// Round2SecretPackage carries forward what Part3 needs: this device's own
// identifier and the running sum of shares received so far (shares are
// consumed into the sum, not retained individually — there is nothing left
// to scrub beyond the final secret itself; Part3 does not zero it, the
// caller does so with Zero once Part3 has derived the key package).
type Round2SecretPackage struct {
	Identifier curve.Scalar
	SecretSum  curve.Scalar
}

func (p *Round2SecretPackage) Zero() {
	if p == nil {
		return
	}
	p.SecretSum.Zero()
}

// KeyPackage is this device's final DKG output: its signing share.
type KeyPackage struct {
	Identifier curve.Scalar
	SecretKey  curve.Scalar
	PublicKey  curve.Point
	GroupKey   curve.Point
}

// Zero scrubs the secret key share. Callers persist a KeyPackage into the
// keystore and must not retain an unscrubbed copy afterward.
func (k *KeyPackage) Zero() {
	if k == nil {
		return
	}
	k.SecretKey.Zero()
}

// PublicKeyPackage is the public DKG output shared by every participant:
// the group verification key and each identifier's verifying share, used
// to validate individual signature shares during signing.
type PublicKeyPackage struct {
	GroupKey       curve.Point
	VerifyingShare map[string]curve.Point // keyed by identifier.Bytes()
}

// Part1 generates this device's round-1 secret polynomial of degree t-1
// and its public commitments plus proof of knowledge, per §4.E "Round 1".
func (s *Suite) Part1(identifier curve.Scalar) (*Round1SecretPackage, *Round1Package, error) {
	g := s.group
	coeffs := make([]curve.Scalar, s.threshold)
	for i := 0; i < s.threshold; i++ {
		c, err := g.RandomScalar(rand.Reader)
		if err != nil {
			return nil, nil, fmt.Errorf("generate polynomial coefficient: %w", err)
		}
		coeffs[i] = c
	}

	commitments := make([]curve.Point, s.threshold)
	for i, c := range coeffs {
		commitments[i] = g.NewPoint().ScalarMult(c, g.Generator())
	}

	// Schnorr proof of knowledge of coeffs[0] (the constant term /
	// this participant's contribution to the eventual group secret).
	k, err := g.RandomScalar(rand.Reader)
	if err != nil {
		return nil, nil, fmt.Errorf("generate proof nonce: %w", err)
	}
	R := g.NewPoint().ScalarMult(k, g.Generator())
	c, err := g.HashToScalar("frost-dkg-pok", identifier.Bytes(), R.Bytes(), commitments[0].Bytes())
	if err != nil {
		return nil, nil, fmt.Errorf("hash proof challenge: %w", err)
	}
	mu := g.NewScalar().Mul(c, coeffs[0])
	mu = g.NewScalar().Add(k, mu)

	secret := &Round1SecretPackage{Identifier: identifier, Coefficients: coeffs}
	public := &Round1Package{
		Identifier:  identifier,
		Commitments: commitments,
		ProofR:      R,
		ProofMu:     mu,
	}
	return secret, public, nil
}

// verifyProofOfKnowledge checks pkg's Schnorr proof over its own
// commitments.
func (s *Suite) verifyProofOfKnowledge(pkg *Round1Package) error {
	g := s.group
	c, err := g.HashToScalar("frost-dkg-pok", pkg.Identifier.Bytes(), pkg.ProofR.Bytes(), pkg.Commitments[0].Bytes())
	if err != nil {
		return fmt.Errorf("hash proof challenge: %w", err)
	}
	lhs := g.NewPoint().ScalarMult(pkg.ProofMu, g.Generator())
	cY := g.NewPoint().ScalarMult(c, pkg.Commitments[0])
	rhs := g.NewPoint().Add(pkg.ProofR, cY)
	if !lhs.Equal(rhs) {
		return fmt.Errorf("invalid proof of knowledge from participant %x", pkg.Identifier.Bytes())
	}
	return nil
}

// Part2 verifies every peer's round-1 proof of knowledge, evaluates this
// device's secret polynomial at every other participant's identifier, and
// returns the pairwise packages to send (§4.E "Round 2"). received must
// contain every other participant's Round1Package — the DKG coordinator is
// responsible for not calling Part2 until all n-1 packages are in hand.
func (s *Suite) Part2(secret *Round1SecretPackage, received map[string]*Round1Package) (*Round2SecretPackage, map[string]*Round2Package, error) {
	for key, pkg := range received {
		if err := s.verifyProofOfKnowledge(pkg); err != nil {
			return nil, nil, fmt.Errorf("participant %s: %w", key, err)
		}
	}

	out := make(map[string]*Round2Package, len(received))
	for key, pkg := range received {
		share := s.evalPolynomial(secret.Coefficients, pkg.Identifier)
		out[key] = &Round2Package{
			From:  secret.Identifier,
			To:    pkg.Identifier,
			Share: share,
		}
	}

	// This device's own share of its own polynomial seeds the running sum
	// that Part3 will add every received share into.
	ownShare := s.evalPolynomial(secret.Coefficients, secret.Identifier)
	secretOut := &Round2SecretPackage{Identifier: secret.Identifier, SecretSum: ownShare}
	return secretOut, out, nil
}

// Part3 verifies each received round-2 share against the sender's
// round-1 commitments (Feldman VSS), sums them into the final secret key
// share, and derives the group public key and per-identifier verifying
// shares (§4.E "Finalize"). receivedR1 must include this device's own
// Round1Package (the coordinator folds it in alongside the n-1 received
// from peers) so the group key sums all n participants' contributions.
func (s *Suite) Part3(secret *Round2SecretPackage, receivedR1 map[string]*Round1Package, receivedR2 map[string]*Round2Package) (*KeyPackage, *PublicKeyPackage, error) {
	g := s.group

	secretKey := g.NewScalar().Set(secret.SecretSum)
	for key, r2 := range receivedR2 {
		r1, ok := receivedR1[key]
		if !ok {
			return nil, nil, fmt.Errorf("round-2 share from %s has no matching round-1 package", key)
		}
		if err := s.verifyFeldmanShare(r2.Share, secret.Identifier, r1.Commitments); err != nil {
			return nil, nil, fmt.Errorf("participant %s: %w", key, err)
		}
		secretKey = g.NewScalar().Add(secretKey, r2.Share)
	}

	publicKey := g.NewPoint().ScalarMult(secretKey, g.Generator())

	groupKey := g.NewPoint()
	for _, r1 := range receivedR1 {
		groupKey = g.NewPoint().Add(groupKey, r1.Commitments[0])
	}

	// An identifier's verifying share is the sum over every dealer of that
	// dealer's commitment polynomial evaluated at the identifier.
	verifyingShares := make(map[string]curve.Point, len(receivedR1))
	for _, target := range receivedR1 {
		share := g.NewPoint()
		for _, dealer := range receivedR1 {
			share = g.NewPoint().Add(share, evaluateCommitmentPoly(g, dealer.Commitments, target.Identifier))
		}
		verifyingShares[idKey(target.Identifier)] = share
	}
	verifyingShares[idKey(secret.Identifier)] = publicKey

	keyPkg := &KeyPackage{
		Identifier: secret.Identifier,
		SecretKey:  secretKey,
		PublicKey:  publicKey,
		GroupKey:   groupKey,
	}
	pubPkg := &PublicKeyPackage{GroupKey: groupKey, VerifyingShare: verifyingShares}
	return keyPkg, pubPkg, nil
}

// verifyFeldmanShare checks share*G == sum(commitments[i] * recipientID^i).
func (s *Suite) verifyFeldmanShare(share curve.Scalar, recipientID curve.Scalar, commitments []curve.Point) error {
	g := s.group
	lhs := g.NewPoint().ScalarMult(share, g.Generator())
	rhs := evaluateCommitmentPoly(g, commitments, recipientID)
	if !lhs.Equal(rhs) {
		return fmt.Errorf("feldman verification failed")
	}
	return nil
}

// evaluateCommitmentPoly computes sum(commitments[i] * x^i), the public
// analogue of evalPolynomial, used both for Feldman verification and for
// deriving a dealer's contribution to a given identifier's verifying share.
func evaluateCommitmentPoly(g curve.Group, commitments []curve.Point, x curve.Scalar) curve.Point {
	result := g.NewPoint()
	xPower := g.ScalarFromUint16(1)
	for _, commit := range commitments {
		term := g.NewPoint().ScalarMult(xPower, commit)
		result = g.NewPoint().Add(result, term)
		xPower = g.NewScalar().Mul(xPower, x)
	}
	return result
}
