package pdftext

import (
	"testing"

	"github.com/stretchr/testify/require"

	appErr "github.com/xxxsen/certquery/internal/pkg/errors"
)

func TestExtractTextEmptyPayload(t *testing.T) {
	_, err := ExtractText(nil)
	require.ErrorIs(t, err, appErr.ErrEmptyDocument)
}

func TestExtractTextGarbagePayload(t *testing.T) {
	_, err := ExtractText([]byte("this is not a pdf"))
	require.Error(t, err)
}

func TestCleanContentStream(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{
			name:  "single literal",
			input: `BT /F1 12 Tf (Hello World) Tj ET`,
			want:  "Hello World",
		},
		{
			name:  "multiple literals",
			input: `(Part 25) Tj 0 -14 Td (Flutter substantiation) Tj`,
			want:  "Part 25 Flutter substantiation",
		},
		{
			name:  "escaped parens",
			input: `(see \(a\)\(1\)) Tj`,
			want:  "see (a)(1)",
		},
		{
			name:  "no literals",
			input: `0 0 612 792 re W n`,
			want:  "",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.Equal(t, tt.want, cleanContentStream(tt.input))
		})
	}
}
