package browser

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/pagepress/engine/pkg/types"
)

func TestPaperSize(t *testing.T) {
	tests := []struct {
		format string
		width  float64
		height float64
	}{
		{types.FormatA4, 8.27, 11.69},
		{types.FormatA3, 11.69, 16.54},
		{types.FormatA5, 5.83, 8.27},
		{types.FormatLetter, 8.5, 11},
		{types.FormatLegal, 8.5, 14},
		{"", 8.27, 11.69},
		{"tabloid", 8.27, 11.69},
	}

	for _, tt := range tests {
		name := tt.format
		if name == "" {
			name = "empty"
		}
		t.Run(name, func(t *testing.T) {
			w, h := paperSize(tt.format)
			assert.Equal(t, tt.width, w)
			assert.Equal(t, tt.height, h)
			assert.Less(t, w, h, "portrait orientation expected")
		})
	}
}
