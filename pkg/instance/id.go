// Package instance derives a stable identifier for this installation. The
// engine stamps it on saved snapshots so that state written by another host
// is never trusted on restart.
package instance

import (
	"fmt"
	"os"

	"github.com/denisbrodbeck/machineid"
)

// machineID is swapped in tests.
var machineID = machineid.ProtectedID

// ID returns an app-scoped, hashed machine id. When the platform id is not
// readable (containers without /etc/machine-id) it falls back to the hostname.
func ID(appID string) (string, error) {
	if id, err := machineID(appID); err == nil && id != "" {
		return id, nil
	}
	host, err := os.Hostname()
	if err != nil {
		return "", fmt.Errorf("instance id: %w", err)
	}
	return appID + "@" + host, nil
}
