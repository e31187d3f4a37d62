package mcpclient

import (
	"os"
	"syscall"
)

// osEnviron returns the parent process environment, merged by Connect with
// any caller-supplied overrides per SPEC §4.6.
func osEnviron() []string {
	return append([]string(nil), os.Environ()...)
}

// syscallSIGTERM is split into its own function so Disconnect's shutdown
// sequence reads the same on every POSIX target this process runs on; this
// process targets POSIX primarily (see toolexec's path/command validation),
// so no Windows taskkill fallback is implemented here.
func syscallSIGTERM() os.Signal {
	return syscall.SIGTERM
}
