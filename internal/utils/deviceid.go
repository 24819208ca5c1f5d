package utils

import (
	"log/slog"

	"github.com/denisbrodbeck/machineid"
)

// DeviceID is a stable, app-scoped hardware identifier sent with every API
// request so the server can tell a user's devices apart.
var DeviceID = deviceID()

func deviceID() string {
	id, err := machineid.ProtectedID("sproutlog")
	if err != nil {
		slog.Warn("device id unavailable", "error", err)
		return "unknown"
	}
	return id
}
