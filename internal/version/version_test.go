package version

import "testing"

func TestInfoString(t *testing.T) {
	cases := []struct {
		info Info
		want string
	}{
		{Info{Version: "dev"}, "dev"},
		{Info{Version: "v1.2.0", Commit: "abc"}, "v1.2.0 (abc)"},
		{Info{Version: "v1.2.0", Commit: "0123456789abcdef"}, "v1.2.0 (0123456)"},
	}
	for _, tc := range cases {
		if got := tc.info.String(); got != tc.want {
			t.Fatalf("String() = %q, want %q", got, tc.want)
		}
	}
}
