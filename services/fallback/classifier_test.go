package fallback

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClassifyError(t *testing.T) {
	tests := []struct {
		name      string
		errorText string
		want      ErrorKind
	}{
		{"plain quota", "quota exceeded for project", KindQuota},
		{"capitalized quota", "Quota exceeded", KindQuota},
		{"mixed case quota", "QUOTA limit hit", KindQuota},
		{"limit keyword", "daily limit reached", KindQuota},
		{"http 429", "server returned status 429", KindQuota},
		{"rate limit phrase", "Rate Limit exceeded, retry later", KindQuota},
		{"embedded indicator", "RESOURCE_EXHAUSTED: rateLimitExceeded", KindQuota},
		{"auth failure", "invalid API key", KindBackend},
		{"service error", "internal server error", KindBackend},
		{"empty text", "", KindBackend},
		{"unrelated text", "connection refused", KindBackend},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ClassifyError(tt.errorText))
		})
	}
}
