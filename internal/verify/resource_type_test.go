package verify

import "testing"

func TestParseResourceType(t *testing.T) {
	cases := []struct {
		raw     string
		want    ResourceType
		wantErr bool
	}{
		{"", ResourceTypeRegular, false},
		{"regular", ResourceTypeRegular, false},
		{"cart", ResourceTypeCart, false},
		{"refund", ResourceTypeRefund, false},
		{"subscription", "", true},
		{"Cart", "", true},
	}

	for _, tc := range cases {
		got, err := ParseResourceType(tc.raw)
		if tc.wantErr {
			if err == nil {
				t.Errorf("ParseResourceType(%q): expected error, got %q", tc.raw, got)
			}
			continue
		}
		if err != nil {
			t.Errorf("ParseResourceType(%q): unexpected error: %v", tc.raw, err)
			continue
		}
		if got != tc.want {
			t.Errorf("ParseResourceType(%q) = %q, want %q", tc.raw, got, tc.want)
		}
	}
}
