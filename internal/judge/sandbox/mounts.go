package sandbox

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// DefaultSystemMounts is what interpreters and compilers on a typical Linux host need
// to start. Everything is read-only.
var DefaultSystemMounts = []string{
	"/usr", "/bin", "/lib", "/lib64", "/etc/alternatives", "/etc/ld.so.cache",
	"/dev/null", "/dev/zero", "/dev/urandom",
}

// ParseMounts reads entries of the form source[:target][:ro|rw]. The target defaults
// to the source and the mode to ro.
func ParseMounts(entries []string) ([]BindMount, error) {
	out := make([]BindMount, 0, len(entries))
	for _, entry := range entries {
		parts := strings.Split(strings.TrimSpace(entry), ":")
		m := BindMount{ReadOnly: true}
		if n := len(parts); n > 1 && (parts[n-1] == "ro" || parts[n-1] == "rw") {
			m.ReadOnly = parts[n-1] == "ro"
			parts = parts[:n-1]
		}
		switch len(parts) {
		case 1:
			m.Source, m.Target = parts[0], parts[0]
		case 2:
			m.Source, m.Target = parts[0], parts[1]
		default:
			return nil, fmt.Errorf("mount %q: too many fields", entry)
		}
		if !filepath.IsAbs(m.Source) || !filepath.IsAbs(m.Target) {
			return nil, fmt.Errorf("mount %q: paths must be absolute", entry)
		}
		m.Source, m.Target = filepath.Clean(m.Source), filepath.Clean(m.Target)
		out = append(out, m)
	}
	return out, nil
}

// existing drops mounts whose source is missing on this host, such as /lib64 on
// distributions that do not ship it.
func existing(mounts []BindMount) []BindMount {
	out := make([]BindMount, 0, len(mounts))
	for _, m := range mounts {
		if _, err := os.Stat(m.Source); err == nil {
			out = append(out, m)
		}
	}
	return out
}
