package registry

import (
	"reflect"
	"testing"
)

func TestNormalize(t *testing.T) {
	tests := []struct {
		name string
		in   []string
		want []string
	}{
		{"trailing slash", []string{"https://a.example/"}, []string{"https://a.example"}},
		{"duplicate collapse", []string{"https://a.example", "https://a.example/"}, []string{"https://a.example"}},
		{"order preserved", []string{"https://b.example", "https://a.example"}, []string{"https://b.example", "https://a.example"}},
		{"blank dropped", []string{"", "  ", "https://a.example"}, []string{"https://a.example"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Normalize(tt.in)
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("Normalize(%v) = %v, want %v", tt.in, got, tt.want)
			}
		})
	}
}

func TestReplaceIsAtomicForOldReaders(t *testing.T) {
	r := New(Lists{KindPiped: {"https://one.example"}})
	old := r.Snapshot()
	r.Replace(Lists{KindPiped: {"https://two.example"}})
	if got := old.Instances(KindPiped); len(got) != 1 || got[0] != "https://one.example" {
		t.Errorf("old snapshot changed: %v", got)
	}
	if got := r.Instances(KindPiped); len(got) != 1 || got[0] != "https://two.example" {
		t.Errorf("new snapshot = %v", got)
	}
}

func TestUnknownKindEmpty(t *testing.T) {
	r := New(Lists{})
	if got := r.Instances(KindProxy); len(got) != 0 {
		t.Errorf("expected no proxy instances, got %v", got)
	}
}
