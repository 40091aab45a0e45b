// Package keystore implements the encrypted per-wallet file format in
// spec §4.G: one self-contained JSON file per wallet, cleartext metadata
// alongside an AEAD-encrypted ciphertext covering the key-share bundle.
package keystore

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/pbkdf2"

	"github.com/Layr-Labs/frost-wallet-node/pkg/curve"
	"github.com/Layr-Labs/frost-wallet-node/pkg/frost"
	"github.com/Layr-Labs/frost-wallet-node/pkg/protocolerr"
)

const (
	AlgorithmArgon2id = "AES-256-GCM-Argon2id"
	AlgorithmPBKDF2   = "AES-256-GCM-PBKDF2" // legacy, decrypt-only by convention
)

const (
	argon2Time    = 1
	argon2Memory  = 64 * 1024 // KiB
	argon2Threads = 4
	argon2KeyLen  = 32

	pbkdf2Iterations = 600_000
	pbkdf2KeyLen     = 32

	saltLen  = 16
	gcmNonce = 12
)

// WalletMetadata is the cleartext portion of a wallet file (§4.G). It is
// the source of truth for deriving every supported-chain address — an
// address-derivation collaborator reads this, never the ciphertext.
type WalletMetadata struct {
	SessionID         string `json:"session_id"`
	DeviceID          string `json:"device_id"`
	CurveType         string `json:"curve_type"`
	Threshold         int    `json:"threshold"`
	TotalParticipants int    `json:"total_participants"`
	ParticipantIndex  int    `json:"participant_index"`
	GroupPublicKeyB64 string `json:"group_public_key"`
	// Participants is the sorted device-id list DKG assigned identifiers
	// from (pkg/identity.Assign). Signing reconstructs the identical
	// identity.Assignment from this list rather than persisting raw
	// identifiers, so a signing Coordinator's forged-sender check
	// (commitmentIdentifier) has something to resolve a peer's device-id
	// against.
	Participants []string `json:"participants"`
	CreatedAt    string   `json:"created_at"`    // RFC3339 / ISO-8601
	LastModified string   `json:"last_modified"` // RFC3339 / ISO-8601
}

// WalletFile is the on-disk JSON shape (§4.G "On-disk layout").
type WalletFile struct {
	Version   int            `json:"version"`
	Encrypted bool           `json:"encrypted"`
	Algorithm string         `json:"algorithm"`
	Data      string         `json:"data"` // base64 ciphertext
	Metadata  WalletMetadata `json:"metadata"`
	Salt      string         `json:"salt"`  // base64
	Nonce     string         `json:"nonce"` // base64
}

// secretBundle is the JSON shape encrypted inside Data, per §4.G
// "Encryption": {key_package, group_public_key, session_id, device_id}.
type secretBundle struct {
	IdentifierB64 string `json:"identifier"`
	SecretKeyB64  string `json:"secret_key"`
	PublicKeyB64  string `json:"public_key"`
	GroupKeyB64   string `json:"group_key"`
	SessionID     string `json:"session_id"`
	DeviceID      string `json:"device_id"`

	// VerifyingShares lets a signer verify every other signer's
	// signature share during Aggregate without a network round-trip.
	VerifyingShares map[string]string `json:"verifying_shares"`
}

// Store reads and writes wallet files under root/<device_id>/<curve>/.
type Store struct {
	mu   sync.Mutex
	root string
}

// New builds a Store rooted at keystoreRoot (typically
// ~/.frost_keystore, per §6 "Environment variables").
func New(keystoreRoot string) *Store {
	return &Store{root: keystoreRoot}
}

func (s *Store) walletPath(deviceID, curveType, walletID string) string {
	return filepath.Join(s.root, deviceID, curveType, walletID+".json")
}

// SaveParams bundles a completed DKG's output for persistence.
type SaveParams struct {
	WalletID          string
	Password          []byte
	DeviceID          string
	CurveType         string
	SessionID         string
	Threshold         int
	TotalParticipants int
	ParticipantIndex  int
	Participants      []string
	KeyPackage        *frost.KeyPackage
	PublicKeyPackage  *frost.PublicKeyPackage
}

// Save encrypts and atomically persists a wallet file. It always writes
// with the current algorithm (Argon2id); legacy PBKDF2 files are only
// ever read, never produced.
func (s *Store) Save(p SaveParams) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	salt := make([]byte, saltLen)
	if _, err := rand.Read(salt); err != nil {
		return protocolerr.Wrap(protocolerr.KindCrypto, err, "generate salt")
	}
	nonce := make([]byte, gcmNonce)
	if _, err := rand.Read(nonce); err != nil {
		return protocolerr.Wrap(protocolerr.KindCrypto, err, "generate nonce")
	}

	verifying := make(map[string]string, len(p.PublicKeyPackage.VerifyingShare))
	for idKey, point := range p.PublicKeyPackage.VerifyingShare {
		verifying[base64.StdEncoding.EncodeToString([]byte(idKey))] = base64.StdEncoding.EncodeToString(point.Bytes())
	}

	bundle := secretBundle{
		IdentifierB64:   base64.StdEncoding.EncodeToString(p.KeyPackage.Identifier.Bytes()),
		SecretKeyB64:    base64.StdEncoding.EncodeToString(p.KeyPackage.SecretKey.Bytes()),
		PublicKeyB64:    base64.StdEncoding.EncodeToString(p.KeyPackage.PublicKey.Bytes()),
		GroupKeyB64:     base64.StdEncoding.EncodeToString(p.KeyPackage.GroupKey.Bytes()),
		SessionID:       p.SessionID,
		DeviceID:        p.DeviceID,
		VerifyingShares: verifying,
	}
	plaintext, err := json.Marshal(bundle)
	if err != nil {
		return protocolerr.Wrap(protocolerr.KindStorage, err, "marshal secret bundle")
	}

	key := argon2.IDKey(p.Password, salt, argon2Time, argon2Memory, argon2Threads, argon2KeyLen)
	ciphertext, err := seal(key, nonce, plaintext)
	if err != nil {
		return protocolerr.Wrap(protocolerr.KindCrypto, err, "seal wallet secret")
	}

	now := time.Now().UTC().Format(time.RFC3339)
	file := WalletFile{
		Version:   1,
		Encrypted: true,
		Algorithm: AlgorithmArgon2id,
		Data:      base64.StdEncoding.EncodeToString(ciphertext),
		Salt:      base64.StdEncoding.EncodeToString(salt),
		Nonce:     base64.StdEncoding.EncodeToString(nonce),
		Metadata: WalletMetadata{
			SessionID:         p.SessionID,
			DeviceID:          p.DeviceID,
			CurveType:         p.CurveType,
			Threshold:         p.Threshold,
			TotalParticipants: p.TotalParticipants,
			ParticipantIndex:  p.ParticipantIndex,
			GroupPublicKeyB64: base64.StdEncoding.EncodeToString(p.KeyPackage.GroupKey.Bytes()),
			Participants:      p.Participants,
			CreatedAt:         now,
			LastModified:      now,
		},
	}

	path := s.walletPath(p.DeviceID, p.CurveType, p.WalletID)
	return s.writeAtomic(path, file)
}

func (s *Store) writeAtomic(path string, file WalletFile) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return protocolerr.Wrap(protocolerr.KindStorage, err, "create keystore directory")
	}
	data, err := json.MarshalIndent(file, "", "  ")
	if err != nil {
		return protocolerr.Wrap(protocolerr.KindStorage, err, "marshal wallet file")
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), ".wallet-*.tmp")
	if err != nil {
		return protocolerr.Wrap(protocolerr.KindStorage, err, "create temp wallet file")
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return protocolerr.Wrap(protocolerr.KindStorage, err, "write temp wallet file")
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return protocolerr.Wrap(protocolerr.KindStorage, err, "sync temp wallet file")
	}
	if err := tmp.Close(); err != nil {
		return protocolerr.Wrap(protocolerr.KindStorage, err, "close temp wallet file")
	}
	if err := os.Rename(tmpName, path); err != nil {
		return protocolerr.Wrap(protocolerr.KindStorage, err, "rename wallet file into place")
	}
	return nil
}

// Loaded is the decrypted, reconstructed wallet material.
type Loaded struct {
	Metadata         WalletMetadata
	KeyPackage       *frost.KeyPackage
	PublicKeyPackage *frost.PublicKeyPackage
}

// Load decrypts a wallet file using group to reconstruct curve-typed
// scalars/points from the raw bytes embedded in the ciphertext.
func (s *Store) Load(group curve.Group, deviceID, curveType, walletID string, password []byte) (*Loaded, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	path := s.walletPath(deviceID, curveType, walletID)
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, protocolerr.Wrap(protocolerr.KindStorage, err, "read wallet file")
	}

	var file WalletFile
	if err := json.Unmarshal(raw, &file); err != nil {
		return nil, protocolerr.Wrap(protocolerr.KindStorage, err, "unmarshal wallet file")
	}

	salt, err := base64.StdEncoding.DecodeString(file.Salt)
	if err != nil {
		return nil, protocolerr.Wrap(protocolerr.KindStorage, err, "decode salt")
	}
	nonce, err := base64.StdEncoding.DecodeString(file.Nonce)
	if err != nil {
		return nil, protocolerr.Wrap(protocolerr.KindStorage, err, "decode nonce")
	}
	ciphertext, err := base64.StdEncoding.DecodeString(file.Data)
	if err != nil {
		return nil, protocolerr.Wrap(protocolerr.KindStorage, err, "decode ciphertext")
	}

	var key []byte
	switch file.Algorithm {
	case AlgorithmArgon2id:
		key = argon2.IDKey(password, salt, argon2Time, argon2Memory, argon2Threads, argon2KeyLen)
	case AlgorithmPBKDF2:
		key = pbkdf2.Key(password, salt, pbkdf2Iterations, pbkdf2KeyLen, sha256.New)
	default:
		return nil, protocolerr.New(protocolerr.KindStorage, fmt.Sprintf("unsupported algorithm: %s", file.Algorithm))
	}

	plaintext, err := open(key, nonce, ciphertext)
	if err != nil {
		return nil, protocolerr.Wrap(protocolerr.KindCrypto, err, "decrypt wallet secret (wrong password?)")
	}

	var bundle secretBundle
	if err := json.Unmarshal(plaintext, &bundle); err != nil {
		return nil, protocolerr.Wrap(protocolerr.KindStorage, err, "unmarshal secret bundle")
	}

	keyPkg, pubPkg, err := reconstructKeyPackage(group, bundle)
	if err != nil {
		return nil, err
	}

	return &Loaded{Metadata: file.Metadata, KeyPackage: keyPkg, PublicKeyPackage: pubPkg}, nil
}

func reconstructKeyPackage(group curve.Group, bundle secretBundle) (*frost.KeyPackage, *frost.PublicKeyPackage, error) {
	decodeScalar := func(b64 string) (curve.Scalar, error) {
		raw, err := base64.StdEncoding.DecodeString(b64)
		if err != nil {
			return nil, protocolerr.Wrap(protocolerr.KindStorage, err, "decode scalar")
		}
		return group.NewScalar().SetBytes(raw)
	}
	decodePoint := func(b64 string) (curve.Point, error) {
		raw, err := base64.StdEncoding.DecodeString(b64)
		if err != nil {
			return nil, protocolerr.Wrap(protocolerr.KindStorage, err, "decode point")
		}
		return group.NewPoint().SetBytes(raw)
	}

	identifier, err := decodeScalar(bundle.IdentifierB64)
	if err != nil {
		return nil, nil, err
	}
	secretKey, err := decodeScalar(bundle.SecretKeyB64)
	if err != nil {
		return nil, nil, err
	}
	publicKey, err := decodePoint(bundle.PublicKeyB64)
	if err != nil {
		return nil, nil, err
	}
	groupKey, err := decodePoint(bundle.GroupKeyB64)
	if err != nil {
		return nil, nil, err
	}

	verifying := make(map[string]curve.Point, len(bundle.VerifyingShares))
	for idB64, pointB64 := range bundle.VerifyingShares {
		idBytes, err := base64.StdEncoding.DecodeString(idB64)
		if err != nil {
			return nil, nil, protocolerr.Wrap(protocolerr.KindStorage, err, "decode verifying share identifier")
		}
		point, err := decodePoint(pointB64)
		if err != nil {
			return nil, nil, err
		}
		verifying[string(idBytes)] = point
	}

	keyPkg := &frost.KeyPackage{Identifier: identifier, SecretKey: secretKey, PublicKey: publicKey, GroupKey: groupKey}
	pubPkg := &frost.PublicKeyPackage{GroupKey: groupKey, VerifyingShare: verifying}
	return keyPkg, pubPkg, nil
}

// ListWallets returns wallet ids found under root/<device_id>/<curve>/.
func (s *Store) ListWallets(deviceID, curveType string) ([]string, error) {
	dir := filepath.Join(s.root, deviceID, curveType)
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, protocolerr.Wrap(protocolerr.KindStorage, err, "list wallet directory")
	}
	wallets := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		name := e.Name()
		if filepath.Ext(name) == ".json" {
			wallets = append(wallets, name[:len(name)-len(".json")])
		}
	}
	return wallets, nil
}

// Healthcheck confirms the keystore root is reachable and writable before
// the node joins any session, creating it on first run.
func (s *Store) Healthcheck() error {
	if err := os.MkdirAll(s.root, 0o700); err != nil {
		return protocolerr.Wrap(protocolerr.KindStorage, err, "keystore root unreachable")
	}
	probe := filepath.Join(s.root, ".healthcheck")
	if err := os.WriteFile(probe, []byte{}, 0o600); err != nil {
		return protocolerr.Wrap(protocolerr.KindStorage, err, "keystore root not writable")
	}
	return os.Remove(probe)
}

func seal(key, nonce, plaintext []byte) ([]byte, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}
	return gcm.Seal(nil, nonce, plaintext, nil), nil
}

func open(key, nonce, ciphertext []byte) ([]byte, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}
	return gcm.Open(nil, nonce, ciphertext, nil)
}
