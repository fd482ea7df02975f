package judge

import (
	"fmt"
	"time"

	"duel_arena/internal/judge/sandbox"
	"duel_arena/internal/platform/config"
)

// ConfigFromApp builds the in-process judge configuration from the loaded settings.
// JUDGE_BIND_MOUNTS replaces the default system mounts when set.
func ConfigFromApp(c *config.Config) (Config, error) {
	entries := c.JudgeBindMounts
	if len(entries) == 0 {
		entries = sandbox.DefaultSystemMounts
	}
	mounts, err := sandbox.ParseMounts(entries)
	if err != nil {
		return Config{}, fmt.Errorf("judge bind mounts: %w", err)
	}
	return Config{
		WorkRoot:       c.JudgeWorkRoot,
		Parallelism:    c.JudgeParallelism,
		Budget:         time.Duration(c.JudgeBudgetSeconds) * time.Second,
		CompileTimeout: time.Duration(c.JudgeCompileSeconds) * time.Second,
		Sandbox: sandbox.Config{
			HelperPath:       c.JudgeHelperPath,
			EnableNamespaces: c.JudgeEnableNs,
			RootFS:           c.JudgeRootFS,
			SystemMounts:     mounts,
			EnableSeccomp:    c.JudgeEnableSeccomp,
			SeccompProfile:   c.JudgeSeccompProfile,
			OutputLimit:      int64(c.JudgeOutputLimitKb) * 1024,
			AllowUnsandboxed: c.JudgeAllowUnsandbox,
		},
	}, nil
}
