package host

import "errors"

// errHostStopped is returned by doDBJob when the host's stop signal fires
// while it was waiting. RPC handlers that go through doDBJob (handleInit,
// handleCall, handleGetNotifications) return it to their caller unchanged.
var errHostStopped = errors.New("host: stopped")
