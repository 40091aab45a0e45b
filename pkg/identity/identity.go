// Package identity assigns deterministic FROST identifiers to session
// participants, per spec §3/§4.E: sort participants by device-id and
// assign identifier i+1 to the participant at sorted index i. No
// identifier allocator is negotiated over the wire — every honest node
// computes the same map independently from the same participant list.
package identity

import (
	"fmt"
	"sort"

	"github.com/Layr-Labs/frost-wallet-node/pkg/curve"
)

// Assignment maps device-id to FROST identifier for one session.
type Assignment struct {
	Group          curve.Group
	SortedDeviceID []string
	ByDeviceID     map[string]curve.Scalar
	ByIdentifier   map[string]string // identifier.Bytes() (as string) -> device_id
}

// Assign computes the deterministic identifier map for participants. It
// validates the §3 invariants (duplicate-free, non-empty) before
// assigning, since a caller should never reach this after validation in
// the session layer — but defends here too since the mapping is a
// correctness-critical, cross-node-agreed computation.
func Assign(group curve.Group, participants []string) (*Assignment, error) {
	if len(participants) == 0 {
		return nil, fmt.Errorf("participants must be non-empty")
	}
	seen := make(map[string]struct{}, len(participants))
	sorted := make([]string, len(participants))
	copy(sorted, participants)
	sort.Strings(sorted)
	for _, id := range sorted {
		if _, dup := seen[id]; dup {
			return nil, fmt.Errorf("duplicate device_id in participant list: %s", id)
		}
		seen[id] = struct{}{}
	}

	byDevice := make(map[string]curve.Scalar, len(sorted))
	byIdentifier := make(map[string]string, len(sorted))
	for i, deviceID := range sorted {
		frostID := group.ScalarFromUint16(uint16(i + 1))
		byDevice[deviceID] = frostID
		byIdentifier[string(frostID.Bytes())] = deviceID
	}

	return &Assignment{
		Group:          group,
		SortedDeviceID: sorted,
		ByDeviceID:     byDevice,
		ByIdentifier:   byIdentifier,
	}, nil
}

// Identifier returns the FROST identifier for a device-id, or an error if
// the device was not part of the assignment.
func (a *Assignment) Identifier(deviceID string) (curve.Scalar, error) {
	id, ok := a.ByDeviceID[deviceID]
	if !ok {
		return nil, fmt.Errorf("device_id %q not in session participant list", deviceID)
	}
	return id, nil
}

// DeviceID reverse-looks-up a FROST identifier.
func (a *Assignment) DeviceID(identifier curve.Scalar) (string, error) {
	deviceID, ok := a.ByIdentifier[string(identifier.Bytes())]
	if !ok {
		return "", fmt.Errorf("identifier %x not in session participant list", identifier.Bytes())
	}
	return deviceID, nil
}
