package fallback

import (
	"fmt"
	"strings"
	"time"
)

// EscalationInfo carries the context rendered into a handoff notice when
// the full fallback budget has been spent.
type EscalationInfo struct {
	LastBackend       string
	BackendCount      int
	RetriesPerBackend int
	Cycles            int
	LastError         string
	Now               time.Time
}

// maxNoticeErrorLen truncates the raw error in the notice.
const maxNoticeErrorLen = 150

// BuildEscalationNotice renders the human-readable handoff message shown
// when every backend has been exhausted and an alternate execution path
// must take over.
func BuildEscalationNotice(info EscalationInfo) string {
	lastErr := info.LastError
	if len(lastErr) > maxNoticeErrorLen {
		lastErr = lastErr[:maxNoticeErrorLen] + "..."
	}

	// Daily quotas reset at midnight; report the rough wait.
	hoursUntilReset := 24 - info.Now.Hour()

	var b strings.Builder
	b.WriteString("ALL BACKENDS EXHAUSTED - ESCALATION REQUIRED\n\n")
	fmt.Fprintf(&b, "All backends have been exhausted after %d cycle(s).\n\n", info.Cycles)
	b.WriteString("Current status:\n")
	fmt.Fprintf(&b, "  - Last attempted backend: %s\n", info.LastBackend)
	fmt.Fprintf(&b, "  - Total backends tried: %d\n", info.BackendCount)
	fmt.Fprintf(&b, "  - Retry attempts per backend: %d\n", info.RetriesPerBackend)
	fmt.Fprintf(&b, "  - Last error: %s\n\n", lastErr)
	b.WriteString("Recommendations:\n")
	b.WriteString("  1. Check API key quota at https://aistudio.google.com/app/apikey\n")
	b.WriteString("  2. Wait for quota reset (daily at midnight Pacific Time)\n")
	b.WriteString("  3. Upgrade to a paid plan for higher limits\n")
	b.WriteString("  4. Hand the task to an alternate execution path\n\n")
	fmt.Fprintf(&b, "Time until reset: approximately %d hours\n", hoursUntilReset)

	return b.String()
}
