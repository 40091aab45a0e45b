package signingcoord

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Layr-Labs/frost-wallet-node/pkg/dkgcoord"
	"github.com/Layr-Labs/frost-wallet-node/pkg/frost"
	"github.com/Layr-Labs/frost-wallet-node/pkg/identity"
	"github.com/Layr-Labs/frost-wallet-node/pkg/keystore"
	"github.com/Layr-Labs/frost-wallet-node/pkg/logger"
	"github.com/Layr-Labs/frost-wallet-node/pkg/types"
)

// runDKG drives a real t-of-n DKG across deviceIDs via pkg/dkgcoord so the
// signing tests exercise genuine key material rather than hand-built
// fixtures.
func runDKG(t *testing.T, dir string, deviceIDs []string, threshold int, walletID string, password []byte) map[string]*keystore.Loaded {
	t.Helper()
	store := keystore.New(dir)
	coords := make(map[string]*dkgcoord.Coordinator, len(deviceIDs))
	for _, id := range deviceIDs {
		id := id
		coords[id] = dkgcoord.New(id, store, dkgcoord.Handlers{
			BroadcastRound1: func(sessionID string, frame types.DkgRound1Frame) error {
				for peer, c := range coords {
					if peer == id {
						continue
					}
					if err := c.OnRound1Frame(frame); err != nil {
						return err
					}
				}
				return nil
			},
			SendRound2: func(to string, frame types.DkgRound2Frame) error {
				return coords[to].OnRound2Frame(frame)
			},
		}, logger.Noop())
	}
	for _, id := range deviceIDs {
		require.NoError(t, coords[id].Start("dkg-s1", walletID, password, "secp256k1", threshold, len(deviceIDs), deviceIDs))
	}

	suite, err := frost.New(frost.SuiteSecp256k1, threshold, len(deviceIDs))
	require.NoError(t, err)

	loaded := make(map[string]*keystore.Loaded, len(deviceIDs))
	for _, id := range deviceIDs {
		l, err := store.Load(suite.Group(), id, "secp256k1", walletID, password)
		require.NoError(t, err)
		loaded[id] = l
	}
	return loaded
}

// signingNetwork wires Coordinators together, routing frames directly
// between their exported On*/Broadcast* methods as a stand-in for the
// mesh datastream.
type signingNetwork struct {
	coords    map[string]*Coordinator
	params    map[string]Params
	completed map[string]*frost.Signature
}

func newSigningNetwork(deviceIDs []string, loaded map[string]*keystore.Loaded, assignment *identity.Assignment, threshold, total int) *signingNetwork {
	n := &signingNetwork{
		coords:    make(map[string]*Coordinator, len(deviceIDs)),
		params:    make(map[string]Params, len(deviceIDs)),
		completed: make(map[string]*frost.Signature, len(deviceIDs)),
	}
	for _, id := range deviceIDs {
		suite, err := frost.New(frost.SuiteSecp256k1, threshold, total)
		if err != nil {
			panic(err)
		}
		n.params[id] = Params{
			WalletID:   "wallet-1",
			Suite:      suite,
			KeyPackage: loaded[id].KeyPackage,
			PublicKeys: loaded[id].PublicKeyPackage,
			Assignment: assignment,
			Threshold:  threshold,
		}
	}
	for _, id := range deviceIDs {
		id := id
		n.coords[id] = New(id, Handlers{
			BroadcastSigningRequest: func(signingID string, frame types.SigningRequestFrame) error {
				for peer, c := range n.coords {
					if peer == id {
						continue
					}
					if err := c.OnSigningRequest(frame, n.params[peer]); err != nil {
						return err
					}
				}
				return nil
			},
			BroadcastAcceptSigning: func(signingID string, frame types.AcceptSigningFrame) error {
				for peer, c := range n.coords {
					if peer == id {
						continue
					}
					if err := c.OnAcceptSigning(frame); err != nil {
						return err
					}
				}
				return nil
			},
			BroadcastSignerSelection: func(signingID string, frame types.SignerSelectionFrame) error {
				for peer, c := range n.coords {
					if peer == id {
						continue
					}
					if err := c.OnSignerSelection(frame); err != nil {
						return err
					}
				}
				return nil
			},
			BroadcastSigningCommitment: func(signingID string, frame types.SigningCommitmentFrame) error {
				for peer, c := range n.coords {
					if peer == id {
						continue
					}
					if err := c.OnSigningCommitment(frame); err != nil {
						return err
					}
				}
				return nil
			},
			BroadcastSignatureShare: func(signingID string, frame types.SignatureShareFrame) error {
				for peer, c := range n.coords {
					if peer == id {
						continue
					}
					if err := c.OnSignatureShare(frame); err != nil {
						return err
					}
				}
				return nil
			},
			OnComplete: func(signingID string, signature *frost.Signature) {
				n.completed[id] = signature
			},
		}, logger.Noop())
	}
	return n
}

func TestSigningCoordinator_TwoOfThreeCompletesAndVerifies(t *testing.T) {
	dir := t.TempDir()
	deviceIDs := []string{"alice", "bob", "charlie"}
	loaded := runDKG(t, dir, deviceIDs, 2, "wallet-1", []byte("hunter2"))

	suite, err := frost.New(frost.SuiteSecp256k1, 2, 3)
	require.NoError(t, err)
	assignment, err := identity.Assign(suite.Group(), deviceIDs)
	require.NoError(t, err)

	n := newSigningNetwork(deviceIDs, loaded, assignment, 2, 3)

	message := []byte("transfer 1 ETH to 0xdeadbeef")
	require.NoError(t, n.coords["alice"].Initiate("sign-1", n.params["alice"], message, "ethereum", nil))

	complete := 0
	for _, id := range deviceIDs {
		if n.coords[id].State() == types.SigningComplete {
			complete++
		}
	}
	assert.Equal(t, 2, complete, "exactly the selected 2-of-3 signers should complete")
	require.Len(t, n.completed, 2)

	groupKey := loaded["alice"].PublicKeyPackage.GroupKey
	for id, sig := range n.completed {
		assert.True(t, suite.Verify(message, sig, groupKey), "signature from %s's perspective should verify", id)
	}
}

func TestSigningCoordinator_CannotInitiateTwice(t *testing.T) {
	dir := t.TempDir()
	deviceIDs := []string{"alice", "bob"}
	loaded := runDKG(t, dir, deviceIDs, 2, "wallet-1", []byte("pw"))

	suite, err := frost.New(frost.SuiteSecp256k1, 2, 2)
	require.NoError(t, err)
	assignment, err := identity.Assign(suite.Group(), deviceIDs)
	require.NoError(t, err)

	n := newSigningNetwork(deviceIDs, loaded, assignment, 2, 2)
	require.NoError(t, n.coords["alice"].Initiate("sign-1", n.params["alice"], []byte("msg"), "ethereum", nil))

	err = n.coords["alice"].Initiate("sign-2", n.params["alice"], []byte("msg2"), "ethereum", nil)
	require.Error(t, err)
}

func TestSigningCoordinator_InsufficientAcceptorsStaysAwaiting(t *testing.T) {
	dir := t.TempDir()
	deviceIDs := []string{"alice", "bob", "charlie"}
	loaded := runDKG(t, dir, deviceIDs, 3, "wallet-1", []byte("pw"))

	suite, err := frost.New(frost.SuiteSecp256k1, 3, 3)
	require.NoError(t, err)
	assignment, err := identity.Assign(suite.Group(), deviceIDs)
	require.NoError(t, err)

	// Only alice and bob are reachable; charlie is excluded from the
	// network entirely, so the 3-of-3 quorum can never be reached.
	reachable := []string{"alice", "bob"}
	n := newSigningNetwork(reachable, loaded, assignment, 3, 3)

	require.NoError(t, n.coords["alice"].Initiate("sign-1", n.params["alice"], []byte("msg"), "ethereum", nil))

	assert.Equal(t, types.SigningAwaitingAcceptance, n.coords["alice"].State())
	assert.Equal(t, types.SigningAwaitingAcceptance, n.coords["bob"].State())
}

func TestSigningCoordinator_TamperedShareRejectedByReceiver(t *testing.T) {
	dir := t.TempDir()
	deviceIDs := []string{"alice", "bob"}
	loaded := runDKG(t, dir, deviceIDs, 2, "wallet-1", []byte("pw"))

	suite, err := frost.New(frost.SuiteSecp256k1, 2, 2)
	require.NoError(t, err)
	assignment, err := identity.Assign(suite.Group(), deviceIDs)
	require.NoError(t, err)

	var aliceFailed, bobFailed string
	n := &signingNetwork{coords: make(map[string]*Coordinator, 2), params: make(map[string]Params, 2)}
	for _, id := range deviceIDs {
		s, err := frost.New(frost.SuiteSecp256k1, 2, 2)
		require.NoError(t, err)
		n.params[id] = Params{WalletID: "wallet-1", Suite: s, KeyPackage: loaded[id].KeyPackage, PublicKeys: loaded[id].PublicKeyPackage, Assignment: assignment, Threshold: 2}
	}

	n.coords["alice"] = New("alice", Handlers{
		BroadcastSigningRequest: func(signingID string, frame types.SigningRequestFrame) error {
			return n.coords["bob"].OnSigningRequest(frame, n.params["bob"])
		},
		BroadcastAcceptSigning: func(signingID string, frame types.AcceptSigningFrame) error {
			return n.coords["alice"].OnAcceptSigning(frame)
		},
		BroadcastSignerSelection: func(signingID string, frame types.SignerSelectionFrame) error {
			return n.coords["bob"].OnSignerSelection(frame)
		},
		BroadcastSigningCommitment: func(signingID string, frame types.SigningCommitmentFrame) error {
			return n.coords["bob"].OnSigningCommitment(frame)
		},
		BroadcastSignatureShare: func(signingID string, frame types.SignatureShareFrame) error {
			// Tamper with the last byte of the encoded share before
			// delivering it, simulating a corrupted or malicious sender.
			tampered := frame
			if len(tampered.ShareB64) > 0 {
				tampered.ShareB64 = tampered.ShareB64[:len(tampered.ShareB64)-1] + flipB64Char(tampered.ShareB64[len(tampered.ShareB64)-1])
			}
			// Like a mesh broadcast, report only send errors back to the
			// sender; the receiver's rejection stays on the receiver.
			_ = n.coords["bob"].OnSignatureShare(tampered)
			return nil
		},
		OnFailed: func(signingID, reason string) { aliceFailed = reason },
	}, logger.Noop())

	n.coords["bob"] = New("bob", Handlers{
		BroadcastAcceptSigning: func(signingID string, frame types.AcceptSigningFrame) error {
			return n.coords["alice"].OnAcceptSigning(frame)
		},
		BroadcastSigningCommitment: func(signingID string, frame types.SigningCommitmentFrame) error {
			return n.coords["alice"].OnSigningCommitment(frame)
		},
		BroadcastSignatureShare: func(signingID string, frame types.SignatureShareFrame) error {
			return n.coords["alice"].OnSignatureShare(frame)
		},
		OnFailed: func(signingID, reason string) { bobFailed = reason },
	}, logger.Noop())

	require.NoError(t, n.coords["alice"].Initiate("sign-1", n.params["alice"], []byte("msg"), "ethereum", nil))

	assert.Equal(t, types.SigningFailed, n.coords["bob"].State())
	assert.NotEmpty(t, bobFailed)
	_ = aliceFailed
}

func TestSigningCoordinator_EarlyCommitmentBufferedBeforeSelection(t *testing.T) {
	dir := t.TempDir()
	deviceIDs := []string{"alice", "bob"}
	loaded := runDKG(t, dir, deviceIDs, 2, "wallet-1", []byte("pw"))

	suite, err := frost.New(frost.SuiteSecp256k1, 2, 2)
	require.NoError(t, err)
	assignment, err := identity.Assign(suite.Group(), deviceIDs)
	require.NoError(t, err)

	params := Params{WalletID: "wallet-1", Suite: suite, KeyPackage: loaded["bob"].KeyPackage, PublicKeys: loaded["bob"].PublicKeyPackage, Assignment: assignment, Threshold: 2}
	bob := New("bob", Handlers{}, logger.Noop())

	require.NoError(t, bob.OnSigningRequest(types.SigningRequestFrame{
		SigningID:       "sign-1",
		TransactionData: encodeB64([]byte("msg")),
		Blockchain:      "ethereum",
		WalletID:        "wallet-1",
	}, params))
	assert.Equal(t, types.SigningAwaitingAcceptance, bob.State())

	aliceSuite, err := frost.New(frost.SuiteSecp256k1, 2, 2)
	require.NoError(t, err)
	aliceParams := Params{WalletID: "wallet-1", Suite: aliceSuite, KeyPackage: loaded["alice"].KeyPackage, PublicKeys: loaded["alice"].PublicKeyPackage, Assignment: assignment, Threshold: 2}
	alice := New("alice", Handlers{}, logger.Noop())
	require.NoError(t, alice.Initiate("sign-1", aliceParams, []byte("msg"), "ethereum", nil))
	// alice is its own initiator and, being alone, hasn't reached the
	// quorum yet -- drive it to commitment phase directly to get a real
	// commitment frame to hand to bob early.
	alice.acceptors["bob"] = struct{}{}
	require.NoError(t, alice.maybeSelectSigners())
	require.Equal(t, types.SigningCommitmentPhase, alice.State())

	commitmentsB64, err := encodeCommitment(alice.receivedCommitments[idKey(aliceParams.Assignment.ByDeviceID["alice"])])
	require.NoError(t, err)
	earlyFrame := types.SigningCommitmentFrame{SigningID: "sign-1", From: "alice", CommitmentsB64: commitmentsB64}

	// bob hasn't received SignerSelection yet -- this must buffer, not drop.
	require.NoError(t, bob.OnSigningCommitment(earlyFrame))
	assert.Len(t, bob.pendingCommitments["sign-1"], 1)
	assert.Equal(t, types.SigningAwaitingAcceptance, bob.State())

	require.NoError(t, bob.OnSignerSelection(types.SignerSelectionFrame{SigningID: "sign-1", SelectedFrostIDs: []string{"alice", "bob"}}))
	assert.Equal(t, types.SigningSharePhase, bob.State(), "buffered commitment plus bob's own should reach threshold and advance to share phase")
	assert.Empty(t, bob.pendingCommitments["sign-1"])
}

func flipB64Char(c byte) string {
	if c == 'A' {
		return "B"
	}
	return "A"
}
