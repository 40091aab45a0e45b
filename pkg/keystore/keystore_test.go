package keystore

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/Layr-Labs/frost-wallet-node/pkg/curve/secp256k1"
	"github.com/Layr-Labs/frost-wallet-node/pkg/frost"
)

func buildKeyPackage(t *testing.T) (*frost.KeyPackage, *frost.PublicKeyPackage) {
	t.Helper()
	suite, err := frost.New(frost.SuiteSecp256k1, 2, 3)
	require.NoError(t, err)

	id := suite.IdentifierFromUint16(1)
	secret, public, err := suite.Part1(id)
	require.NoError(t, err)

	r1 := map[string]*frost.Round1Package{string(id.Bytes()): public}
	secret2, _, err := suite.Part2(secret, map[string]*frost.Round1Package{})
	require.NoError(t, err)

	kp, pp, err := suite.Part3(secret2, r1, map[string]*frost.Round2Package{})
	require.NoError(t, err)
	return kp, pp
}

func TestSaveLoadRoundTrip(t *testing.T) {
	dir := t.TempDir()
	store := New(dir)
	kp, pp := buildKeyPackage(t)

	password := []byte("correct horse battery staple")
	err := store.Save(SaveParams{
		WalletID:          "w1",
		Password:          password,
		DeviceID:          "alice",
		CurveType:         "secp256k1",
		SessionID:         "w1",
		Threshold:         2,
		TotalParticipants: 3,
		ParticipantIndex:  1,
		KeyPackage:        kp,
		PublicKeyPackage:  pp,
	})
	require.NoError(t, err)

	loaded, err := store.Load(secp256k1.Group{}, "alice", "secp256k1", "w1", password)
	require.NoError(t, err)
	require.Equal(t, kp.SecretKey.Bytes(), loaded.KeyPackage.SecretKey.Bytes())
	require.Equal(t, kp.GroupKey.Bytes(), loaded.KeyPackage.GroupKey.Bytes())
	require.Equal(t, "w1", loaded.Metadata.SessionID)
	require.Equal(t, 1, loaded.Metadata.ParticipantIndex)
}

func TestLoadWithWrongPasswordFails(t *testing.T) {
	dir := t.TempDir()
	store := New(dir)
	kp, pp := buildKeyPackage(t)

	require.NoError(t, store.Save(SaveParams{
		WalletID:          "w1",
		Password:          []byte("right password"),
		DeviceID:          "alice",
		CurveType:         "secp256k1",
		SessionID:         "w1",
		Threshold:         2,
		TotalParticipants: 3,
		ParticipantIndex:  1,
		KeyPackage:        kp,
		PublicKeyPackage:  pp,
	}))

	_, err := store.Load(secp256k1.Group{}, "alice", "secp256k1", "w1", []byte("wrong password"))
	require.Error(t, err)
}

func TestListWalletsEmptyDirectory(t *testing.T) {
	dir := t.TempDir()
	store := New(dir)
	wallets, err := store.ListWallets("alice", "secp256k1")
	require.NoError(t, err)
	require.Empty(t, wallets)
}

func TestListWalletsAfterSave(t *testing.T) {
	dir := t.TempDir()
	store := New(dir)
	kp, pp := buildKeyPackage(t)

	require.NoError(t, store.Save(SaveParams{
		WalletID: "w1", Password: []byte("pw"), DeviceID: "alice", CurveType: "secp256k1",
		SessionID: "w1", Threshold: 2, TotalParticipants: 3, ParticipantIndex: 1,
		KeyPackage: kp, PublicKeyPackage: pp,
	}))

	wallets, err := store.ListWallets("alice", "secp256k1")
	require.NoError(t, err)
	require.Equal(t, []string{"w1"}, wallets)
}
