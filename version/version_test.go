package version

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIsNewer(t *testing.T) {
	testMatrix := []struct {
		name      string
		candidate string
		current   string
		expected  bool
	}{
		{
			name:      "major bump is newer",
			candidate: "2.0.0",
			current:   "1.9.9",
			expected:  true,
		},
		{
			name:      "minor bump decides before patch",
			candidate: "1.3",
			current:   "1.2.9",
			expected:  true,
		},
		{
			name:      "older minor is not newer",
			candidate: "1.2",
			current:   "1.3",
			expected:  false,
		},
		{
			name:      "identical versions are not newer",
			candidate: "1.2.3",
			current:   "1.2.3",
			expected:  false,
		},
		{
			name:      "longer candidate equal up to shorter length",
			candidate: "1.2.0",
			current:   "1.2",
			expected:  false,
		},
		{
			name:      "prefix candidate is not newer",
			candidate: "1.2",
			current:   "1.2.3",
			expected:  false,
		},
		{
			name:      "patch bump is newer",
			candidate: "1.2.4",
			current:   "1.2.3",
			expected:  true,
		},
		{
			name:      "much larger major",
			candidate: "99.0.0",
			current:   "1.0.0",
			expected:  true,
		},
		{
			name:      "non-numeric segment never decides",
			candidate: "1.beta.5",
			current:   "1.0.4",
			expected:  true,
		},
		{
			name:      "non-numeric candidate segment is not newer",
			candidate: "1.x",
			current:   "1.9",
			expected:  false,
		},
		{
			name:      "multi digit segments compare numerically",
			candidate: "1.10.0",
			current:   "1.9.9",
			expected:  true,
		},
	}

	for _, c := range testMatrix {
		t.Run(c.name, func(t *testing.T) {
			assert.Equal(t, c.expected, IsNewer(c.candidate, c.current))
		})
	}
}

func TestUpdraftVersion(t *testing.T) {
	assert.NotEmpty(t, UpdraftVersion())
}
