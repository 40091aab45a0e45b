package signingcoord

import (
	"encoding/base64"
	"encoding/json"
	"fmt"

	"github.com/Layr-Labs/frost-wallet-node/pkg/curve"
	"github.com/Layr-Labs/frost-wallet-node/pkg/frost"
	"github.com/Layr-Labs/frost-wallet-node/pkg/protocolerr"
)

// wireCommitment, wireShare and wireSignature mirror pkg/dkgcoord/wire.go's
// base64-of-JSON scalar/point encoding.
type wireCommitment struct {
	IdentifierB64   string `json:"identifier"`
	HidingPointB64  string `json:"hiding_point"`
	BindingPointB64 string `json:"binding_point"`
}

type wireShare struct {
	IdentifierB64 string `json:"identifier"`
	ZB64          string `json:"z"`
}

type wireSignature struct {
	RB64 string `json:"r"`
	ZB64 string `json:"z"`
}

func encodeCommitment(c *frost.SigningCommitment) (string, error) {
	wire := wireCommitment{
		IdentifierB64:   base64.StdEncoding.EncodeToString(c.Identifier.Bytes()),
		HidingPointB64:  base64.StdEncoding.EncodeToString(c.HidingPoint.Bytes()),
		BindingPointB64: base64.StdEncoding.EncodeToString(c.BindingPoint.Bytes()),
	}
	raw, err := json.Marshal(wire)
	if err != nil {
		return "", protocolerr.Wrap(protocolerr.KindProtocol, err, "marshal signing commitment")
	}
	return base64.StdEncoding.EncodeToString(raw), nil
}

// decodeCommitment decodes a peer's commitment. expectIdentifier is the
// identifier this device's identity assignment resolves the sender's
// device-id to; a mismatch against the encoded identifier means the
// frame was forged or the assignment is stale.
func decodeCommitment(group curve.Group, expectIdentifier curve.Scalar, commitmentB64 string) (*frost.SigningCommitment, error) {
	raw, err := base64.StdEncoding.DecodeString(commitmentB64)
	if err != nil {
		return nil, protocolerr.Wrap(protocolerr.KindProtocol, err, "decode signing commitment envelope")
	}
	var wire wireCommitment
	if err := json.Unmarshal(raw, &wire); err != nil {
		return nil, protocolerr.Wrap(protocolerr.KindProtocol, err, "unmarshal signing commitment")
	}
	identifier, err := decodeScalar(group, wire.IdentifierB64)
	if err != nil {
		return nil, fmt.Errorf("commitment identifier: %w", err)
	}
	if expectIdentifier != nil && !identifier.Equal(expectIdentifier) {
		return nil, protocolerr.New(protocolerr.KindProtocol, "commitment identifier does not match sender's assigned identifier")
	}
	hiding, err := decodePoint(group, wire.HidingPointB64)
	if err != nil {
		return nil, fmt.Errorf("commitment hiding point: %w", err)
	}
	binding, err := decodePoint(group, wire.BindingPointB64)
	if err != nil {
		return nil, fmt.Errorf("commitment binding point: %w", err)
	}
	return &frost.SigningCommitment{Identifier: identifier, HidingPoint: hiding, BindingPoint: binding}, nil
}

func encodeShare(share *frost.SignatureShare) (string, error) {
	wire := wireShare{
		IdentifierB64: base64.StdEncoding.EncodeToString(share.Identifier.Bytes()),
		ZB64:          base64.StdEncoding.EncodeToString(share.Z.Bytes()),
	}
	raw, err := json.Marshal(wire)
	if err != nil {
		return "", protocolerr.Wrap(protocolerr.KindProtocol, err, "marshal signature share")
	}
	return base64.StdEncoding.EncodeToString(raw), nil
}

func decodeShare(group curve.Group, expectIdentifier curve.Scalar, shareB64 string) (*frost.SignatureShare, error) {
	raw, err := base64.StdEncoding.DecodeString(shareB64)
	if err != nil {
		return nil, protocolerr.Wrap(protocolerr.KindProtocol, err, "decode signature share envelope")
	}
	var wire wireShare
	if err := json.Unmarshal(raw, &wire); err != nil {
		return nil, protocolerr.Wrap(protocolerr.KindProtocol, err, "unmarshal signature share")
	}
	identifier, err := decodeScalar(group, wire.IdentifierB64)
	if err != nil {
		return nil, fmt.Errorf("share identifier: %w", err)
	}
	if expectIdentifier != nil && !identifier.Equal(expectIdentifier) {
		return nil, protocolerr.New(protocolerr.KindProtocol, "share identifier does not match sender's assigned identifier")
	}
	z, err := decodeScalar(group, wire.ZB64)
	if err != nil {
		return nil, fmt.Errorf("share z: %w", err)
	}
	return &frost.SignatureShare{Identifier: identifier, Z: z}, nil
}

func encodeSignature(sig *frost.Signature) (string, error) {
	wire := wireSignature{
		RB64: base64.StdEncoding.EncodeToString(sig.R.Bytes()),
		ZB64: base64.StdEncoding.EncodeToString(sig.Z.Bytes()),
	}
	raw, err := json.Marshal(wire)
	if err != nil {
		return "", protocolerr.Wrap(protocolerr.KindProtocol, err, "marshal signature")
	}
	return base64.StdEncoding.EncodeToString(raw), nil
}

func decodeSignature(group curve.Group, signatureB64 string) (*frost.Signature, error) {
	raw, err := base64.StdEncoding.DecodeString(signatureB64)
	if err != nil {
		return nil, protocolerr.Wrap(protocolerr.KindProtocol, err, "decode signature envelope")
	}
	var wire wireSignature
	if err := json.Unmarshal(raw, &wire); err != nil {
		return nil, protocolerr.Wrap(protocolerr.KindProtocol, err, "unmarshal signature")
	}
	r, err := decodePoint(group, wire.RB64)
	if err != nil {
		return nil, fmt.Errorf("signature r: %w", err)
	}
	z, err := decodeScalar(group, wire.ZB64)
	if err != nil {
		return nil, fmt.Errorf("signature z: %w", err)
	}
	return &frost.Signature{R: r, Z: z}, nil
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

func encodeB64(data []byte) string { return base64.StdEncoding.EncodeToString(data) }

func decodeB64(data string) []byte {
	raw, err := base64.StdEncoding.DecodeString(data)
	if err != nil {
		return nil
	}
	return raw
}
