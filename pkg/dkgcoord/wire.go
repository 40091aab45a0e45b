package dkgcoord

import (
	"encoding/base64"
	"encoding/json"
	"fmt"

	"github.com/Layr-Labs/frost-wallet-node/pkg/curve"
	"github.com/Layr-Labs/frost-wallet-node/pkg/frost"
	"github.com/Layr-Labs/frost-wallet-node/pkg/protocolerr"
)

// wireRound1Package is the base64-of-JSON shape carried in a
// DkgRound1Frame's package_bytes field, mirroring the scalar/point
// base64 encoding pkg/keystore uses for its own secretBundle.
type wireRound1Package struct {
	IdentifierB64   string   `json:"identifier"`
	CommitmentsB64  []string `json:"commitments"`
	ProofRB64       string   `json:"proof_r"`
	ProofMuB64      string   `json:"proof_mu"`
}

type wireRound2Package struct {
	FromB64  string `json:"from"`
	ToB64    string `json:"to"`
	ShareB64 string `json:"share"`
}

func encodeRound1(pkg *frost.Round1Package) (string, error) {
	commitments := make([]string, len(pkg.Commitments))
	for i, c := range pkg.Commitments {
		commitments[i] = base64.StdEncoding.EncodeToString(c.Bytes())
	}
	wire := wireRound1Package{
		IdentifierB64:  base64.StdEncoding.EncodeToString(pkg.Identifier.Bytes()),
		CommitmentsB64: commitments,
		ProofRB64:      base64.StdEncoding.EncodeToString(pkg.ProofR.Bytes()),
		ProofMuB64:     base64.StdEncoding.EncodeToString(pkg.ProofMu.Bytes()),
	}
	raw, err := json.Marshal(wire)
	if err != nil {
		return "", protocolerr.Wrap(protocolerr.KindProtocol, err, "marshal round-1 package")
	}
	return base64.StdEncoding.EncodeToString(raw), nil
}

func decodeRound1(group curve.Group, packageB64 string) (*frost.Round1Package, error) {
	raw, err := base64.StdEncoding.DecodeString(packageB64)
	if err != nil {
		return nil, protocolerr.Wrap(protocolerr.KindProtocol, err, "decode round-1 package envelope")
	}
	var wire wireRound1Package
	if err := json.Unmarshal(raw, &wire); err != nil {
		return nil, protocolerr.Wrap(protocolerr.KindProtocol, err, "unmarshal round-1 package")
	}

	identifier, err := decodeScalar(group, wire.IdentifierB64)
	if err != nil {
		return nil, fmt.Errorf("round-1 identifier: %w", err)
	}
	proofR, err := decodePoint(group, wire.ProofRB64)
	if err != nil {
		return nil, fmt.Errorf("round-1 proof R: %w", err)
	}
	proofMu, err := decodeScalar(group, wire.ProofMuB64)
	if err != nil {
		return nil, fmt.Errorf("round-1 proof mu: %w", err)
	}
	commitments := make([]curve.Point, len(wire.CommitmentsB64))
	for i, cb64 := range wire.CommitmentsB64 {
		p, err := decodePoint(group, cb64)
		if err != nil {
			return nil, fmt.Errorf("round-1 commitment %d: %w", i, err)
		}
		commitments[i] = p
	}

	return &frost.Round1Package{
		Identifier:  identifier,
		Commitments: commitments,
		ProofR:      proofR,
		ProofMu:     proofMu,
	}, nil
}

func encodeRound2(pkg *frost.Round2Package) (string, error) {
	wire := wireRound2Package{
		FromB64:  base64.StdEncoding.EncodeToString(pkg.From.Bytes()),
		ToB64:    base64.StdEncoding.EncodeToString(pkg.To.Bytes()),
		ShareB64: base64.StdEncoding.EncodeToString(pkg.Share.Bytes()),
	}
	raw, err := json.Marshal(wire)
	if err != nil {
		return "", protocolerr.Wrap(protocolerr.KindProtocol, err, "marshal round-2 package")
	}
	return base64.StdEncoding.EncodeToString(raw), nil
}

func decodeRound2(group curve.Group, packageB64 string) (*frost.Round2Package, error) {
	raw, err := base64.StdEncoding.DecodeString(packageB64)
	if err != nil {
		return nil, protocolerr.Wrap(protocolerr.KindProtocol, err, "decode round-2 package envelope")
	}
	var wire wireRound2Package
	if err := json.Unmarshal(raw, &wire); err != nil {
		return nil, protocolerr.Wrap(protocolerr.KindProtocol, err, "unmarshal round-2 package")
	}

	from, err := decodeScalar(group, wire.FromB64)
	if err != nil {
		return nil, fmt.Errorf("round-2 from: %w", err)
	}
	to, err := decodeScalar(group, wire.ToB64)
	if err != nil {
		return nil, fmt.Errorf("round-2 to: %w", err)
	}
	share, err := decodeScalar(group, wire.ShareB64)
	if err != nil {
		return nil, fmt.Errorf("round-2 share: %w", err)
	}
	return &frost.Round2Package{From: from, To: to, Share: share}, nil
}

func decodeScalar(group curve.Group, b64 string) (curve.Scalar, error) {
	raw, err := base64.StdEncoding.DecodeString(b64)
	if err != nil {
		return nil, protocolerr.Wrap(protocolerr.KindProtocol, err, "decode scalar")
	}
	return group.NewScalar().SetBytes(raw)
}

func decodePoint(group curve.Group, b64 string) (curve.Point, error) {
	raw, err := base64.StdEncoding.DecodeString(b64)
	if err != nil {
		return nil, protocolerr.Wrap(protocolerr.KindProtocol, err, "decode point")
	}
	return group.NewPoint().SetBytes(raw)
}
