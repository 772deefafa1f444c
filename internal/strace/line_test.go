package strace

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		name      string
		raw       string
		kind      Kind
		tag       Tag
		call      string
		text      string
		malformed bool
	}{
		{
			name: "initiated untagged",
			raw:  "close(255 <unfinished ...>",
			kind: KindInitiated,
			call: "close",
			text: "close(255 ",
		},
		{
			name: "initiated tagged keeps tag in prefix",
			raw:  "[pid 19199] close(255 <unfinished ...>",
			kind: KindInitiated,
			tag:  PIDTag("19199"),
			call: "close",
			text: "[pid 19199] close(255 ",
		},
		{
			name: "initiated with padded pid tag",
			raw:  "[pid  42] write(1, \"x\", 1 <unfinished ...>",
			kind: KindInitiated,
			tag:  PIDTag("42"),
			call: "write",
			text: "[pid  42] write(1, \"x\", 1 ",
		},
		{
			name: "initiated after timestamp",
			raw:  "10:00:00.123456 read(3 <unfinished ...>",
			kind: KindInitiated,
			call: "read",
			text: "10:00:00.123456 read(3 ",
		},
		{
			name: "resumed untagged",
			raw:  "<... close resumed> )       = 0",
			kind: KindResumed,
			call: "close",
			text: " )       = 0",
		},
		{
			name: "resumed tagged",
			raw:  "[pid 19198] <... rt_sigprocmask resumed> NULL, 8) = 0",
			kind: KindResumed,
			tag:  PIDTag("19198"),
			call: "rt_sigprocmask",
			text: " NULL, 8) = 0",
		},
		{
			name: "resumed suffix keeps later angle brackets",
			raw:  "<... wait4 resumed> [{WIFEXITED(s) && WEXITSTATUS(s) == 0}], 0, NULL) = 42 <0.000010>",
			kind: KindResumed,
			call: "wait4",
			text: " [{WIFEXITED(s) && WEXITSTATUS(s) == 0}], 0, NULL) = 42 <0.000010>",
		},
		{
			name: "spawn line",
			raw:  "clone(child_stack=NULL, flags=CLONE_CHILD_SETTID) = 19199",
			kind: KindSpawn,
		},
		{
			name: "spawn wins over unfinished marker",
			raw:  "[pid 1] clone(child_stack=0x7f <unfinished ...>",
			kind: KindSpawn,
			tag:  PIDTag("1"),
		},
		{
			name: "spawn wins over resumed marker",
			raw:  "<... clone resumed> child_stack=0x7f) = 2",
			kind: KindSpawn,
		},
		{
			name: "plain syscall",
			raw:  `open("/etc/passwd", O_RDONLY) = 3`,
			kind: KindPlain,
		},
		{
			name: "plain exit notice",
			raw:  "+++ exited with 0 +++",
			kind: KindPlain,
		},
		{
			name: "tagged plain line",
			raw:  "[pid 7] getpid() = 7",
			kind: KindPlain,
			tag:  PIDTag("7"),
		},
		{
			name:      "unfinished without call",
			raw:       "foo <unfinished ...>",
			kind:      KindPlain,
			malformed: true,
		},
		{
			name:      "unfinished with paren first",
			raw:       "(oops <unfinished ...>",
			kind:      KindPlain,
			malformed: true,
		},
		{
			name:      "resumed without name",
			raw:       "<... resumed> = 0",
			kind:      KindPlain,
			malformed: true,
		},
		{
			name:      "resumed keyword without opener",
			raw:       "something resumed> = 0",
			kind:      KindPlain,
			malformed: true,
		},
		{
			name: "empty line",
			raw:  "",
			kind: KindPlain,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Classify(tt.raw)

			assert.Equal(t, tt.raw, got.Raw)
			assert.Equal(t, tt.kind, got.Kind)
			assert.Equal(t, tt.tag, got.Tag)
			assert.Equal(t, tt.call, got.Call)
			assert.Equal(t, tt.text, got.Text)
			assert.Equal(t, tt.malformed, got.Malformed)
		})
	}
}

func TestTagString(t *testing.T) {
	assert.Equal(t, "", Tag{}.String())
	assert.Equal(t, "[pid 12]", PIDTag("12").String())
}

func TestKindString(t *testing.T) {
	assert.Equal(t, "plain", KindPlain.String())
	assert.Equal(t, "spawn", KindSpawn.String())
	assert.Equal(t, "initiated", KindInitiated.String())
	assert.Equal(t, "resumed", KindResumed.String())
	assert.Equal(t, "unknown(9)", Kind(9).String())
}
