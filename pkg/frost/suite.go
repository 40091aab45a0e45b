// Package frost implements the two-round FROST DKG and signing protocols
// (the `{part1, part2, part3, sign_round1, sign_round2, aggregate, verify}`
// contract named in spec §9) generically over pkg/curve.Group, so the same
// code drives both the secp256k1 and Ed25519 cipher suites.
package frost

import (
	"fmt"

	"github.com/Layr-Labs/frost-wallet-node/pkg/curve"
	"github.com/Layr-Labs/frost-wallet-node/pkg/curve/ed25519"
	"github.com/Layr-Labs/frost-wallet-node/pkg/curve/secp256k1"
)

// CipherSuite names one of the two supported FROST instantiations.
type CipherSuite string

const (
	SuiteSecp256k1 CipherSuite = "secp256k1"
	SuiteEd25519   CipherSuite = "ed25519"
)

// Suite bundles a curve.Group with the threshold parameters for one
// session and exposes the full DKG + signing contract. Two concrete
// groups exist (secp256k1, ed25519); per §9 the node holds this interface
// value rather than templatizing over a group type.
type Suite struct {
	group     curve.Group
	threshold int
	total     int
}

// New returns a Suite for the named cipher and (t, n) parameters. Callers
// validate t/n against §3's invariants before calling this (1 ≤ t ≤ n ≤
// 100); New re-checks the same bound defensively.
func New(name CipherSuite, threshold, total int) (*Suite, error) {
	if threshold < 1 || total < threshold || total > 100 {
		return nil, fmt.Errorf("invalid threshold parameters t=%d n=%d", threshold, total)
	}
	var g curve.Group
	switch name {
	case SuiteSecp256k1:
		g = secp256k1.Group{}
	case SuiteEd25519:
		g = ed25519.Group{}
	default:
		return nil, fmt.Errorf("unsupported cipher suite: %s", name)
	}
	return &Suite{group: g, threshold: threshold, total: total}, nil
}

func (s *Suite) Group() curve.Group { return s.group }
func (s *Suite) Threshold() int     { return s.threshold }
func (s *Suite) Total() int         { return s.total }

// GroupFor resolves a cipher suite name to its curve.Group without
// requiring threshold parameters, for callers (e.g. keystore loading) that
// need a group before a session's (t, n) is known.
func GroupFor(name CipherSuite) (curve.Group, error) {
	switch name {
	case SuiteSecp256k1:
		return secp256k1.Group{}, nil
	case SuiteEd25519:
		return ed25519.Group{}, nil
	default:
		return nil, fmt.Errorf("unsupported cipher suite: %s", name)
	}
}

// IdentifierFromUint16 builds a non-zero FROST identifier scalar from a
// 1-indexed participant position, per §3's deterministic assignment rule.
func (s *Suite) IdentifierFromUint16(i uint16) curve.Scalar {
	return s.group.ScalarFromUint16(i)
}

func idKey(id curve.Scalar) string { return string(id.Bytes()) }

// evalPolynomial evaluates coeffs (constant term first) at x via Horner's
// method.
func (s *Suite) evalPolynomial(coeffs []curve.Scalar, x curve.Scalar) curve.Scalar {
	g := s.group
	result := g.NewScalar().Set(coeffs[len(coeffs)-1])
	for i := len(coeffs) - 2; i >= 0; i-- {
		result = g.NewScalar().Mul(result, x)
		result = g.NewScalar().Add(result, coeffs[i])
	}
	return result
}
