package model

import (
	"errors"
	"strings"
	"testing"
)

func TestValidateContent(t *testing.T) {
	valid := []string{"hi", "multi\nline", strings.Repeat("a", MaxContentChars)}
	for _, content := range valid {
		if err := ValidateContent(content); err != nil {
			t.Errorf("ValidateContent(%.20q) = %v, want nil", content, err)
		}
	}

	invalid := []string{
		"",
		"   ",
		"\t\n",
		strings.Repeat("a", MaxContentBytes+1),
		strings.Repeat("é", MaxContentChars+1), // under byte cap, over rune cap
		"bad \xff utf8",
	}
	for _, content := range invalid {
		err := ValidateContent(content)
		if err == nil {
			t.Errorf("ValidateContent(%.20q) = nil, want error", content)
			continue
		}
		if !errors.Is(err, ErrValidation) {
			t.Errorf("ValidateContent(%.20q) = %v, want ErrValidation wrap", content, err)
		}
	}
}
