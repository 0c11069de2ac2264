package names

import (
	"fmt"
	"math/rand"
	"regexp"
	"strings"

	"github.com/kelda/wavectl/pkg/hash"
)

// JobPrefix starts the name of every generated upgrade job.
const JobPrefix = "upgrade-job-"

const suffixChars = "abcdefghijklmnopqrstuvwxyz0123456789"

var invalidChars = regexp.MustCompile(`[^-a-z0-9]`)

// NewJobName returns a random name for an upgrade job.
func NewJobName() string {
	suffix := make([]byte, 6)
	for i := range suffix {
		suffix[i] = suffixChars[rand.Intn(len(suffixChars))]
	}
	return JobPrefix + string(suffix)
}

// JobName returns the name to submit a job under. Names that are already
// valid are used as is, and anything else is sanitized with ToDNS1123.
func JobName(name string) string {
	if name == "" {
		return NewJobName()
	}
	if len(name) <= 63 && invalidChars.FindStringIndex(name) == nil &&
		!strings.HasPrefix(name, "-") && !strings.HasSuffix(name, "-") {
		return name
	}
	return ToDNS1123(name)
}

// ToDNS1123 returns a name derived from the given identifier that Kubernetes
// accepts as a job name.
// DNS-1123 is defined as:
//  1. Lowercase alphanumeric.
//  2. The `-` character can also be used in any interior character
//     of the string.
//  3. Max of 63 characters.
func ToDNS1123(id string) string {
	// Keep a sanitized version of the name as a prefix so that it's still
	// recognizable.
	sanitized := strings.ToLower(id)
	sanitized = invalidChars.ReplaceAllString(sanitized, "")
	sanitized = strings.TrimLeft(sanitized, "-")
	sanitized = strings.TrimRight(sanitized, "-")

	// Don't use the full permitted name length so that we have room for the
	// hash. The final name must be less than 64 characters.
	if len(sanitized) > 50 {
		sanitized = sanitized[:50]
	}

	// If the name consists purely of prohibited characters, we make
	// sure the sanitized name is nonempty. If sanitized == "", the generated
	// name would start with a "-", which is not DNS-1123 compliant.
	if len(sanitized) == 0 {
		sanitized = "empty"
	}

	// Also append a hash to distinguish between names that are identical
	// after being sanitized.
	h := hash.DNSCompliant(id)
	if len(h) > 10 {
		h = h[:10]
	}

	return fmt.Sprintf("%s-%s", sanitized, h)
}
