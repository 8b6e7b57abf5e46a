package gitlocal

import "github.com/Strob0t/moon/internal/port/vcs"

func init() {
	vcs.Register(managerName, func(cfg vcs.Config) (vcs.Vcs, error) {
		return New(cfg), nil
	})
}
