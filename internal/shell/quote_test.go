package shell

import "testing"

func TestQuote(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"", "''"},
		{"ssh", "ssh"},
		{"BatchMode=yes", "BatchMode=yes"},
		{"user@host", "user@host"},
		{"/tmp/a-b_c.txt", "/tmp/a-b_c.txt"},
		{"hello world", "'hello world'"},
		{"it's", `'it'"'"'s'`},
		{"$HOME", "'$HOME'"},
		{"a;b", "'a;b'"},
		{"tab\there", "'tab\there'"},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			if got := Quote(tt.in); got != tt.want {
				t.Errorf("Quote(%q) = %s, want %s", tt.in, got, tt.want)
			}
		})
	}
}

func TestJoin_SSHExample(t *testing.T) {
	args := []string{"ssh", "-A", "-o", "BatchMode=yes", "user@host", "bash -c 'echo hi'"}
	want := `ssh -A -o BatchMode=yes user@host 'bash -c '"'"'echo hi'"'"''`

	if got := Join(args); got != want {
		t.Errorf("Join() = %s\nwant      %s", got, want)
	}
}

func TestJoin_Empty(t *testing.T) {
	if got := Join(nil); got != "" {
		t.Errorf("Join(nil) = %q, want empty", got)
	}
}

func TestBashCommand(t *testing.T) {
	tests := []struct {
		name  string
		flags BashFlags
		want  string
	}{
		{"plain", BashFlags{}, `bash -c 'echo hi'`},
		{"login", BashFlags{Login: true}, `bash --login -c 'echo hi'`},
		{"login interactive", BashFlags{Login: true, Interactive: true}, `bash --login -i -c 'echo hi'`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := BashCommand("echo hi", tt.flags); got != tt.want {
				t.Errorf("BashCommand() = %s, want %s", got, tt.want)
			}
		})
	}
}

func TestBashCommand_NestedQuotes(t *testing.T) {
	got := BashCommand("echo 'a b'", BashFlags{})
	want := `bash -c 'echo '"'"'a b'"'"''`
	if got != want {
		t.Errorf("BashCommand() = %s, want %s", got, want)
	}
}
