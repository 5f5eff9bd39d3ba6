package fallback

import "strings"

// ErrorKind categorizes a failed invocation attempt.
type ErrorKind string

const (
	// KindQuota marks a usage-limit failure; recoverable via retry,
	// rotation and cycling.
	KindQuota ErrorKind = "quota"

	// KindTimeout marks an attempt that ran out of time. Currently
	// terminal, same as KindBackend; kept distinct so the retry policy
	// can change without touching the state machine.
	KindTimeout ErrorKind = "timeout"

	// KindBackend marks any other backend failure (auth, malformed
	// input, service error). Terminal.
	KindBackend ErrorKind = "backend"
)

// Classifier maps raw error text to an ErrorKind. It is pluggable so the
// substring heuristic can be replaced by structured error codes if the
// invoker ever returns typed errors.
type Classifier func(errorText string) ErrorKind

// quotaIndicators are matched as substrings against lowercased error text.
var quotaIndicators = []string{
	"quota",
	"limit",
	"429",
	"rate limit",
}

// ClassifyError is the default Classifier: an error is a quota error iff
// its lowercased text contains any quota indicator.
func ClassifyError(errorText string) ErrorKind {
	lowered := strings.ToLower(errorText)
	for _, indicator := range quotaIndicators {
		if strings.Contains(lowered, indicator) {
			return KindQuota
		}
	}
	return KindBackend
}
