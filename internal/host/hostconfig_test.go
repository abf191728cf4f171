package host

import "testing"

func TestParsePossibleCPUs(t *testing.T) {
	cases := []struct {
		list    string
		want    uint
		wantErr bool
	}{
		{"0-3\n", 4, false},
		{"0", 1, false},
		{"0-1,4-5", 4, false},
		{"0,2,4", 3, false},
		{"", 0, true},
		{"3-1", 0, true},
		{"a-b", 0, true},
	}

	for _, tc := range cases {
		got, err := ParsePossibleCPUs(tc.list)
		if tc.wantErr {
			if err == nil {
				t.Errorf("ParsePossibleCPUs(%q): expected error", tc.list)
			}
			continue
		}
		if err != nil {
			t.Errorf("ParsePossibleCPUs(%q): unexpected error: %v", tc.list, err)
			continue
		}
		if got != tc.want {
			t.Errorf("ParsePossibleCPUs(%q) = %d, want %d", tc.list, got, tc.want)
		}
	}
}
