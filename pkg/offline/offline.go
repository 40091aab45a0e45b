// Package offline implements the air-gapped signing interchange: writing a
// signing-round frame to a file with an expiry so a device with no network
// path can review and act on it, then reading the result back.
//
// Grounded on apps/cli-node/src/offline/export.rs's export_signing_request/
// export_commitments/export_signing_package/export_signature_share/
// export_aggregated_signature functions, each of which builds an
// OfflineData envelope (data type, session id, payload, expiration) and
// writes it via write_offline_data. The original's offline/mod.rs defining
// OfflineData's exact fields was not retrieved into this pack, so the
// envelope shape here is reconstructed from export.rs's usage rather than
// copied: a data type tag, the session id, created-at/expires-at
// timestamps, and the JSON-encoded payload.
package offline

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/Layr-Labs/frost-wallet-node/pkg/protocolerr"
	"github.com/Layr-Labs/frost-wallet-node/pkg/types"
)

// DataType names which signing-round frame an envelope carries, mirroring
// export.rs's per-artifact export functions.
type DataType string

const (
	DataTypeSigningRequest      DataType = "signing_request"
	DataTypeCommitments         DataType = "commitments"
	DataTypeSigningPackage      DataType = "signing_package"
	DataTypeSignatureShare      DataType = "signature_share"
	DataTypeAggregatedSignature DataType = "aggregated_signature"
)

// Data is a self-describing, expiring envelope around one signing-round
// frame. Exported to a file for physical transfer; imported back on the
// air-gapped side (or on the coordinator, once the transfer completes).
type Data struct {
	DataType  DataType        `json:"data_type"`
	SessionID string          `json:"session_id"`
	CreatedAt time.Time       `json:"created_at"`
	ExpiresAt time.Time       `json:"expires_at"`
	Payload   json.RawMessage `json:"payload"`
}

// Expired reports whether now is past this envelope's expiry.
func (d *Data) Expired(now time.Time) bool {
	return now.After(d.ExpiresAt)
}

// newData wraps payload with the given data type, session id, and an
// expiry expirationMinutes out from now.
func newData(dataType DataType, sessionID string, payload interface{}, now time.Time, expirationMinutes uint) (*Data, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, protocolerr.Wrap(protocolerr.KindValidation, err, "marshal offline payload")
	}
	return &Data{
		DataType:  dataType,
		SessionID: sessionID,
		CreatedAt: now,
		ExpiresAt: now.Add(time.Duration(expirationMinutes) * time.Minute),
		Payload:   raw,
	}, nil
}

// write serializes data as pretty-printed JSON to path, creating parent
// directories as needed and syncing before close, the same atomic-ish
// shape pkg/keystore.writeAtomic uses for wallet files.
func write(data *Data, path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return protocolerr.Wrap(protocolerr.KindStorage, err, "create offline export directory")
	}
	raw, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		return protocolerr.Wrap(protocolerr.KindStorage, err, "marshal offline data")
	}

	tmp, err := os.CreateTemp(dir, ".offline-*.tmp")
	if err != nil {
		return protocolerr.Wrap(protocolerr.KindStorage, err, "create temp offline file")
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(raw); err != nil {
		tmp.Close()
		return protocolerr.Wrap(protocolerr.KindStorage, err, "write temp offline file")
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return protocolerr.Wrap(protocolerr.KindStorage, err, "sync temp offline file")
	}
	if err := tmp.Close(); err != nil {
		return protocolerr.Wrap(protocolerr.KindStorage, err, "close temp offline file")
	}
	if err := os.Rename(tmpName, path); err != nil {
		return protocolerr.Wrap(protocolerr.KindStorage, err, "rename offline file into place")
	}
	return nil
}

// read loads an envelope back from path and fails closed if it has already
// expired: an air-gapped round trip that took too long must not silently
// resume with stale round state.
func read(path string, now time.Time) (*Data, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, protocolerr.Wrap(protocolerr.KindStorage, err, "read offline file")
	}
	var data Data
	if err := json.Unmarshal(raw, &data); err != nil {
		return nil, protocolerr.Wrap(protocolerr.KindValidation, err, "unmarshal offline data")
	}
	if data.Expired(now) {
		return nil, protocolerr.New(protocolerr.KindSession, fmt.Sprintf("offline data for session %s expired at %s", data.SessionID, data.ExpiresAt))
	}
	return &data, nil
}

func expectType(data *Data, want DataType) error {
	if data.DataType != want {
		return protocolerr.New(protocolerr.KindValidation, fmt.Sprintf("expected %s offline data, got %s", want, data.DataType))
	}
	return nil
}

// StandardFilename mirrors export.rs's create_filename naming: a name that
// sorts and greps by data type and session, with an optional device-id
// suffix for a pairwise artifact (e.g. a per-signer commitment).
func StandardFilename(dataType DataType, sessionID, deviceID string) string {
	if deviceID == "" {
		return fmt.Sprintf("%s_%s.json", dataType, sessionID)
	}
	return fmt.Sprintf("%s_%s_%s.json", dataType, sessionID, deviceID)
}

// ExportSigningRequest writes frame for an air-gapped signer to pick up
// without ever joining the mesh.
func ExportSigningRequest(frame types.SigningRequestFrame, path string, now time.Time, expirationMinutes uint) error {
	data, err := newData(DataTypeSigningRequest, frame.SigningID, frame, now, expirationMinutes)
	if err != nil {
		return err
	}
	return write(data, path)
}

// ImportSigningRequest reads back an exported SigningRequestFrame.
func ImportSigningRequest(path string, now time.Time) (*types.SigningRequestFrame, error) {
	data, err := read(path, now)
	if err != nil {
		return nil, err
	}
	if err := expectType(data, DataTypeSigningRequest); err != nil {
		return nil, err
	}
	var frame types.SigningRequestFrame
	if err := json.Unmarshal(data.Payload, &frame); err != nil {
		return nil, protocolerr.Wrap(protocolerr.KindValidation, err, "unmarshal signing request frame")
	}
	return &frame, nil
}

// ExportCommitments writes an air-gapped participant's round-1 commitment
// for physical transfer back to the coordinating device.
func ExportCommitments(frame types.SigningCommitmentFrame, path string, now time.Time, expirationMinutes uint) error {
	data, err := newData(DataTypeCommitments, frame.SigningID, frame, now, expirationMinutes)
	if err != nil {
		return err
	}
	return write(data, path)
}

// ImportCommitments reads back an exported SigningCommitmentFrame.
func ImportCommitments(path string, now time.Time) (*types.SigningCommitmentFrame, error) {
	data, err := read(path, now)
	if err != nil {
		return nil, err
	}
	if err := expectType(data, DataTypeCommitments); err != nil {
		return nil, err
	}
	var frame types.SigningCommitmentFrame
	if err := json.Unmarshal(data.Payload, &frame); err != nil {
		return nil, protocolerr.Wrap(protocolerr.KindValidation, err, "unmarshal signing commitment frame")
	}
	return &frame, nil
}

// ExportSigningPackage writes the coordinator's selected-signer package
// (this repo's equivalent of FROST's signing package: the set of
// identifiers chosen for this round) for an air-gapped participant to pick
// up and begin round 2 from.
func ExportSigningPackage(frame types.SignerSelectionFrame, path string, now time.Time, expirationMinutes uint) error {
	data, err := newData(DataTypeSigningPackage, frame.SigningID, frame, now, expirationMinutes)
	if err != nil {
		return err
	}
	return write(data, path)
}

// ImportSigningPackage reads back an exported SignerSelectionFrame.
func ImportSigningPackage(path string, now time.Time) (*types.SignerSelectionFrame, error) {
	data, err := read(path, now)
	if err != nil {
		return nil, err
	}
	if err := expectType(data, DataTypeSigningPackage); err != nil {
		return nil, err
	}
	var frame types.SignerSelectionFrame
	if err := json.Unmarshal(data.Payload, &frame); err != nil {
		return nil, protocolerr.Wrap(protocolerr.KindValidation, err, "unmarshal signer selection frame")
	}
	return &frame, nil
}

// ExportSignatureShare writes an air-gapped signer's round-2 share for
// physical transfer back to the coordinator.
func ExportSignatureShare(frame types.SignatureShareFrame, path string, now time.Time, expirationMinutes uint) error {
	data, err := newData(DataTypeSignatureShare, frame.SigningID, frame, now, expirationMinutes)
	if err != nil {
		return err
	}
	return write(data, path)
}

// ImportSignatureShare reads back an exported SignatureShareFrame.
func ImportSignatureShare(path string, now time.Time) (*types.SignatureShareFrame, error) {
	data, err := read(path, now)
	if err != nil {
		return nil, err
	}
	if err := expectType(data, DataTypeSignatureShare); err != nil {
		return nil, err
	}
	var frame types.SignatureShareFrame
	if err := json.Unmarshal(data.Payload, &frame); err != nil {
		return nil, protocolerr.Wrap(protocolerr.KindValidation, err, "unmarshal signature share frame")
	}
	return &frame, nil
}

// ExportAggregatedSignature writes the final aggregated signature so an
// air-gapped participant can confirm the round completed.
func ExportAggregatedSignature(frame types.AggregatedSignatureFrame, path string, now time.Time, expirationMinutes uint) error {
	data, err := newData(DataTypeAggregatedSignature, frame.SigningID, frame, now, expirationMinutes)
	if err != nil {
		return err
	}
	return write(data, path)
}

// ImportAggregatedSignature reads back an exported AggregatedSignatureFrame.
func ImportAggregatedSignature(path string, now time.Time) (*types.AggregatedSignatureFrame, error) {
	data, err := read(path, now)
	if err != nil {
		return nil, err
	}
	if err := expectType(data, DataTypeAggregatedSignature); err != nil {
		return nil, err
	}
	var frame types.AggregatedSignatureFrame
	if err := json.Unmarshal(data.Payload, &frame); err != nil {
		return nil, protocolerr.Wrap(protocolerr.KindValidation, err, "unmarshal aggregated signature frame")
	}
	return &frame, nil
}
