package commandbus

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Layr-Labs/frost-wallet-node/pkg/config"
	"github.com/Layr-Labs/frost-wallet-node/pkg/dedup"
	"github.com/Layr-Labs/frost-wallet-node/pkg/dkgcoord"
	"github.com/Layr-Labs/frost-wallet-node/pkg/keystore"
	"github.com/Layr-Labs/frost-wallet-node/pkg/logger"
	"github.com/Layr-Labs/frost-wallet-node/pkg/types"
)

// runDKG drives a real 2-of-3 DKG directly through pkg/dkgcoord (bypassing
// the bus, the way signingcoord's own tests do) so loadSigningParams has a
// genuine wallet file to read back.
func runDKG(t *testing.T, dir string, deviceIDs []string, threshold int, walletID string, password []byte) {
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
}

func TestInboundFrameDedupSuppressesReplay(t *testing.T) {
	b := &Bus{
		deps:    Deps{Dedup: dedup.New(64, time.Minute)},
		log:     logger.Noop(),
		signing: make(map[string]*signingContext),
	}
	raw := json.RawMessage(`{"ChannelOpen":{"device_id":"device-b"}}`)

	require.NoError(t, cmdInboundFrame{peer: "device-b", raw: raw}.run(b))

	key := dedup.Key("device-b", "frame", raw, "")
	assert.True(t, b.deps.Dedup.Seen(key), "the first delivery must have already marked this content as seen")
}

func TestInboundFrameUnrecognizedVariantErrors(t *testing.T) {
	b := &Bus{
		deps:    Deps{Dedup: dedup.New(64, time.Minute)},
		log:     logger.Noop(),
		signing: make(map[string]*signingContext),
	}
	err := cmdInboundFrame{peer: "device-b", raw: json.RawMessage(`{}`)}.run(b)
	assert.Error(t, err)
}

func TestListWalletsReturnsSavedWallet(t *testing.T) {
	dir := t.TempDir()
	deviceIDs := []string{"device-a", "device-b", "device-c"}
	runDKG(t, dir, deviceIDs, 2, "wallet-1", []byte("hunter2"))

	b := &Bus{
		deps: Deps{
			SelfDeviceID: "device-a",
			Store:        keystore.New(dir),
		},
		log:     logger.Noop(),
		signing: make(map[string]*signingContext),
	}
	reply := make(chan listWalletsResult, 1)
	require.NoError(t, cmdListWallets{curveType: "secp256k1", reply: reply}.run(b))
	res := <-reply
	require.NoError(t, res.err)
	assert.Equal(t, []string{"wallet-1"}, res.wallets)
}

func TestLoadSigningParamsReconstructsAssignment(t *testing.T) {
	dir := t.TempDir()
	deviceIDs := []string{"device-a", "device-b", "device-c"}
	password := []byte("hunter2")
	runDKG(t, dir, deviceIDs, 2, "wallet-1", password)

	b := &Bus{
		deps: Deps{
			SelfDeviceID:   "device-b",
			Curve:          config.CurveType("secp256k1"),
			Store:          keystore.New(dir),
			WalletPassword: func(walletID string) ([]byte, error) { return password, nil },
		},
		log:     logger.Noop(),
		signing: make(map[string]*signingContext),
	}

	params, err := b.loadSigningParams("wallet-1")
	require.NoError(t, err)
	assert.Equal(t, "wallet-1", params.WalletID)
	assert.Equal(t, 2, params.Threshold)
	require.NotNil(t, params.Assignment)
	assert.Equal(t, deviceIDs, params.Assignment.SortedDeviceID)

	wantID, err := params.Assignment.Identifier("device-b")
	require.NoError(t, err)
	assert.True(t, params.KeyPackage.Identifier.Equal(wantID))
}

func TestLoadSigningParamsFailsWithoutPasswordSource(t *testing.T) {
	dir := t.TempDir()
	b := &Bus{
		deps: Deps{
			SelfDeviceID: "device-a",
			Curve:        config.CurveType("secp256k1"),
			Store:        keystore.New(dir),
		},
		log:     logger.Noop(),
		signing: make(map[string]*signingContext),
	}
	_, err := b.loadSigningParams("wallet-1")
	assert.Error(t, err)
}
