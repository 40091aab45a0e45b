package identity

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/Layr-Labs/frost-wallet-node/pkg/curve/secp256k1"
)

func TestAssignIsDeterministicAcrossInputOrder(t *testing.T) {
	group := secp256k1.Group{}

	a, err := Assign(group, []string{"charlie", "alice", "bob"})
	require.NoError(t, err)

	b, err := Assign(group, []string{"bob", "charlie", "alice"})
	require.NoError(t, err)

	for _, deviceID := range []string{"alice", "bob", "charlie"} {
		idA, err := a.Identifier(deviceID)
		require.NoError(t, err)
		idB, err := b.Identifier(deviceID)
		require.NoError(t, err)
		require.Equal(t, idA.Bytes(), idB.Bytes())
	}

	aliceID, _ := a.Identifier("alice")
	bobID, _ := a.Identifier("bob")
	charlieID, _ := a.Identifier("charlie")
	require.Equal(t, group.ScalarFromUint16(1).Bytes(), aliceID.Bytes())
	require.Equal(t, group.ScalarFromUint16(2).Bytes(), bobID.Bytes())
	require.Equal(t, group.ScalarFromUint16(3).Bytes(), charlieID.Bytes())
}

func TestAssignRejectsDuplicateDeviceID(t *testing.T) {
	_, err := Assign(secp256k1.Group{}, []string{"alice", "bob", "alice"})
	require.Error(t, err)
}

func TestAssignRejectsEmpty(t *testing.T) {
	_, err := Assign(secp256k1.Group{}, nil)
	require.Error(t, err)
}

func TestDeviceIDReverseLookup(t *testing.T) {
	group := secp256k1.Group{}
	a, err := Assign(group, []string{"alice", "bob"})
	require.NoError(t, err)

	id, err := a.Identifier("bob")
	require.NoError(t, err)
	deviceID, err := a.DeviceID(id)
	require.NoError(t, err)
	require.Equal(t, "bob", deviceID)
}
