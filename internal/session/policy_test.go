package session

import "testing"

func TestCheckDangerous(t *testing.T) {
	cases := []struct {
		cmd     string
		flagged bool
	}{
		{"rm -rf /", true},
		{"rm -fr /tmp/build", true},
		{"rm -rf ./node_modules", true},
		{"mkfs.ext4 /dev/sda1", true},
		{"dd if=/dev/zero of=/dev/sda", true},
		{"echo hi > /dev/sdb", true},
		{"rm file.txt", false},
		{"rm -f file.txt", false},
		{"ls -la /tmp", false},
		{"python train.py", false},
	}

	for _, tc := range cases {
		got := checkDangerous(tc.cmd) != ""
		if got != tc.flagged {
			t.Errorf("checkDangerous(%q) flagged=%v, want %v", tc.cmd, got, tc.flagged)
		}
	}
}
