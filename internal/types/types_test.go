package types

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCodeSeverity(t *testing.T) {
	tests := []struct {
		code Code
		want Severity
	}{
		{CodeMissingManifest, SeverityModule},
		{CodeLinkCreationFailed, SeverityModule},
		{CodeRegistryCorrupt, SeverityBatch},
		{CodeUnknownKey, SeverityAdvisory},
		{Code("SomethingNew"), SeverityModule},
	}
	for _, tt := range tests {
		t.Run(string(tt.code), func(t *testing.T) {
			assert.Equal(t, tt.want, tt.code.Severity())
		})
	}
}

func TestFinding_ErrorsIs(t *testing.T) {
	f := NewFinding(CodeSyntaxError, "rtr", "line %d", 3).WithErr(errors.New("bad indent"))
	wrapped := fmt.Errorf("activate: %w", f)

	assert.True(t, errors.Is(wrapped, CodeSyntaxError))
	assert.False(t, errors.Is(wrapped, CodeWrongShape))
	assert.Equal(t, "rtr: SyntaxError: line 3: bad indent", f.Error())
}

func TestFindings_FatalAndAdvisories(t *testing.T) {
	fs := Findings{
		NewFinding(CodeUnknownKey, "x", "custom_domain"),
		NewFinding(CodeMissingManifest, "x", ""),
	}

	fatal, ok := fs.Fatal()
	assert.True(t, ok)
	assert.Equal(t, CodeMissingManifest, fatal.Code)
	assert.Len(t, fs.Advisories(), 1)
	assert.True(t, fs.Has(CodeUnknownKey))
	assert.False(t, fs.Has(CodeRegistryCorrupt))
}
