// internal/infra/filequeue/owner.go
package filequeue

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"syscall"

	"github.com/google/uuid"
)

// claimOwner identifies the process holding a claim. It is embedded in the claim file name:
// "<record>.<host>@<pid>@<instance>.processing".
type claimOwner struct {
	host     string
	pid      int
	instance string
}

func newClaimOwner() claimOwner {
	host, _ := os.Hostname()
	return claimOwner{
		host:     sanitizeHost(host),
		pid:      os.Getpid(),
		instance: strings.ReplaceAll(uuid.NewString(), "-", "")[:12],
	}
}

func (o claimOwner) token() string {
	return fmt.Sprintf("%s@%d@%s", o.host, o.pid, o.instance)
}

// claimPath is the name src gets while o holds it.
func (o claimOwner) claimPath(src string) string {
	return src + "." + o.token() + claimSuffix
}

func sanitizeHost(host string) string {
	if host == "" {
		return "unknown"
	}
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			return r
		}
		return '_'
	}, host)
}

// parseClaimName splits a claim file name into the original record name and its owner. Claims
// written without an owner return a nil owner.
func parseClaimName(name string) (string, *claimOwner, bool) {
	if !strings.HasSuffix(name, claimSuffix) {
		return "", nil, false
	}
	base := strings.TrimSuffix(name, claimSuffix)
	i := strings.LastIndex(base, ".")
	if i < 0 {
		return base, nil, true
	}
	parts := strings.Split(base[i+1:], "@")
	if len(parts) != 3 {
		return base, nil, true
	}
	pid, err := strconv.Atoi(parts[1])
	if err != nil {
		return base, nil, true
	}
	return base[:i], &claimOwner{host: parts[0], pid: pid, instance: parts[2]}, true
}

// ownerExited reports whether a claim owner is known to be gone: it ran on this host and
// either its process no longer exists or its pid is now ours under another instance, which
// happens when a container restarts.
func (q *Queue) ownerExited(o *claimOwner) bool {
	if o == nil || o.host != q.owner.host || o.instance == q.owner.instance {
		return false
	}
	return o.pid == q.owner.pid || !processAlive(o.pid)
}

func processAlive(pid int) bool {
	if pid <= 0 {
		return false
	}
	p, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	err = p.Signal(syscall.Signal(0))
	if err == nil {
		return true
	}
	if errors.Is(err, os.ErrProcessDone) || errors.Is(err, syscall.ESRCH) {
		return false
	}
	// EPERM and unsupported platforms: assume alive and leave the claim to the grace period.
	return true
}
