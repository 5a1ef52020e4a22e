// Copyright (c) 2025
// Author: momentics <momentics@gmail.com>

// Package sockutil holds the raw TCP socket calls used by the echo server
// and the reactor tests. Handles are plain descriptors (Linux) or SOCKETs
// (Windows) so they can be passed straight to the reactor.
package sockutil
