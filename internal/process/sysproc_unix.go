//go:build !windows

package process

import (
	"os/exec"
	"syscall"
	"time"
)

// configureProcess starts the child in its own process group so a
// cancellation signal reaches everything it spawned. Group members still
// alive after GracePeriod are killed.
func configureProcess(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	cmd.Cancel = func() error {
		if cmd.Process == nil {
			return nil
		}
		pgid := cmd.Process.Pid
		time.AfterFunc(GracePeriod, func() {
			_ = syscall.Kill(-pgid, syscall.SIGKILL)
		})
		return syscall.Kill(-pgid, syscall.SIGTERM)
	}
}
