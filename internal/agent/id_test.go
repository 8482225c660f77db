package agent

import (
	"slices"
	"testing"

	"github.com/ciatc/band/internal/errors"
)

func TestParse(t *testing.T) {
	tests := []struct {
		in      string
		want    ID
		wantErr bool
	}{
		{"john", John, false},
		{" Gilfoyle ", Gilfoyle, false},
		{"RINGO", Ringo, false},
		{"yoko", "", true},
		{"", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := Parse(tt.in)
			if (err != nil) != tt.wantErr {
				t.Fatalf("Parse(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			}
			if tt.wantErr && !errors.Is(err, errors.ErrUnknownAgent) {
				t.Errorf("Parse(%q) error should wrap ErrUnknownAgent", tt.in)
			}
			if got != tt.want {
				t.Errorf("Parse(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestParseAll(t *testing.T) {
	got, err := ParseAll([]string{"pete", "John", "pete"})
	if err != nil {
		t.Fatalf("ParseAll() error = %v", err)
	}
	if want := []ID{Pete, John}; !slices.Equal(got, want) {
		t.Errorf("ParseAll() = %v, want %v", got, want)
	}

	if _, err := ParseAll([]string{"john", "yoko"}); err == nil {
		t.Error("ParseAll() should fail on an unknown name")
	}
}

func TestID_Title(t *testing.T) {
	if got := Marie.Title(); got != "Marie" {
		t.Errorf("Title() = %q", got)
	}
	if got := ID("").Title(); got != "" {
		t.Errorf("empty Title() = %q", got)
	}
}
