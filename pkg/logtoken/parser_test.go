package logtoken

import (
	"strings"
	"testing"

	"github.com/lithammer/dedent"
	"github.com/stretchr/testify/assert"
)

func TestParse(t *testing.T) {
	tests := []struct {
		name string
		text string
		exp  []Event
	}{
		{
			name: "Empty",
			text: "",
			exp:  nil,
		},
		{
			name: "NoTokens",
			text: "2024-06-01 10:00:00 waiting for pod to be ready\n",
			exp:  nil,
		},
		{
			name: "TargetLifecycle",
			text: dedent.Dedent(`
				2024-06-01 10:00:00 POD-START [juicefs-node-1-pvc-a] upgrading
				2024-06-01 10:00:05 POD-SUCCESS [juicefs-node-1-pvc-a] upgrade done
				`),
			exp: []Event{
				{Kind: TargetStarted, Name: "juicefs-node-1-pvc-a"},
				{Kind: TargetSucceeded, Name: "juicefs-node-1-pvc-a"},
			},
		},
		{
			name: "FailureReason",
			text: "POD-FAIL [b] disk full.\n",
			exp:  []Event{{Kind: TargetFailed, Name: "b", Reason: "disk full"}},
		},
		{
			name: "FailureWithoutReason",
			text: "POD-FAIL [b]\n",
			exp:  []Event{{Kind: TargetFailed, Name: "b"}},
		},
		{
			name: "FailureReasonWithCRLF",
			text: "POD-FAIL [b] timed out waiting for mount point.\r\n",
			exp:  []Event{{Kind: TargetFailed, Name: "b", Reason: "timed out waiting for mount point"}},
		},
		{
			name: "DottedName",
			text: "POD-START [mount.pod-1.ns]\n",
			exp:  []Event{{Kind: TargetStarted, Name: "mount.pod-1.ns"}},
		},
		{
			name: "WaveTokens",
			text: dedent.Dedent(`
				2024-06-01 10:01:00 BATCH-SUCCESS all pods upgraded successfully
				2024-06-01 10:01:00 BATCH-FAIL some pods upgrade failed
				`),
			exp: []Event{{Kind: WaveSucceeded}, {Kind: WaveFailed}},
		},
		{
			name: "StandaloneFail",
			text: "upgrade FAIL: could not reach api server\n",
			exp:  []Event{{Kind: JobFailed}},
		},
		{
			name: "FailInsideWordIgnored",
			text: "FAILED to resolve, retrying\n",
			exp:  nil,
		},
		{
			name: "MalformedPodTokenIsNotJobFailure",
			text: "POD-FAIL [Bad_Name] oops.\nBATCH-\n",
			exp:  nil,
		},
		{
			name: "ManyTokensOneLine",
			text: "POD-START [a] POD-START [b] POD-SUCCESS [a]\n",
			exp: []Event{
				{Kind: TargetStarted, Name: "a"},
				{Kind: TargetStarted, Name: "b"},
				{Kind: TargetSucceeded, Name: "a"},
			},
		},
		{
			name: "TokensAfterFailure",
			text: "POD-FAIL [a] boom. POD-SUCCESS [b] POD-START [c]\n",
			exp: []Event{
				{Kind: TargetFailed, Name: "a", Reason: "boom"},
				{Kind: TargetSucceeded, Name: "b"},
				{Kind: TargetStarted, Name: "c"},
			},
		},
		{
			name: "FailureReasonWithoutPeriodStopsAtNextToken",
			text: "POD-FAIL [a] mount point busy BATCH-FAIL\n",
			exp: []Event{
				{Kind: TargetFailed, Name: "a", Reason: "mount point busy"},
				{Kind: WaveFailed},
			},
		},
		{
			name: "FailureReasonWithInnerPeriods",
			text: "POD-FAIL [a] image v1.2.3 FAIL to pull. FAIL\n",
			exp: []Event{
				{Kind: TargetFailed, Name: "a", Reason: "image v1.2.3 FAIL to pull"},
				{Kind: JobFailed},
			},
		},
		{
			name: "UnterminatedName",
			text: "POD-START [a\n",
			exp:  nil,
		},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			assert.Equal(t, test.exp, Parse(test.text))
		})
	}
}

func TestParserSplitToken(t *testing.T) {
	var whole Parser
	exp := whole.Feed("POD-START [a]\n")

	var split Parser
	var got []Event
	got = append(got, split.Feed("POD-STA")...)
	assert.Empty(t, got)
	got = append(got, split.Feed("RT [a]\n")...)

	assert.Equal(t, []Event{{Kind: TargetStarted, Name: "a"}}, exp)
	assert.Equal(t, exp, got)
}

func TestParserEveryBoundary(t *testing.T) {
	log := dedent.Dedent(`
		POD-START [a]
		POD-SUCCESS [a]
		POD-START [b]
		POD-FAIL [b] disk full.
		BATCH-FAIL
		`)
	exp := Parse(log)

	// Splitting the log at every possible offset must produce the same events.
	for i := 0; i <= len(log); i++ {
		var p Parser
		var got []Event
		got = append(got, p.Feed(log[:i])...)
		got = append(got, p.Feed(log[i:])...)
		got = append(got, p.Flush()...)
		assert.Equal(t, exp, got, "split at %d", i)
	}
}

func TestParserByteAtATime(t *testing.T) {
	log := "x POD-START [a]\nPOD-SUCCESS [a]\nFAIL\n"

	var p Parser
	var got []Event
	for _, c := range log {
		got = append(got, p.Feed(string(c))...)
	}

	assert.Equal(t, []Event{
		{Kind: TargetStarted, Name: "a"},
		{Kind: TargetSucceeded, Name: "a"},
		{Kind: JobFailed},
	}, got)
	assert.Empty(t, p.Buffered())
}

func TestParserNoDuplicates(t *testing.T) {
	var p Parser
	assert.Equal(t, []Event{{Kind: TargetStarted, Name: "a"}}, p.Feed("POD-START [a]\nPOD-SUCC"))
	assert.Equal(t, "POD-SUCC", p.Buffered())
	assert.Equal(t, []Event{{Kind: TargetSucceeded, Name: "a"}}, p.Feed("ESS [a]\n"))
	assert.Nil(t, p.Feed("\n"))
	assert.Nil(t, p.Flush())
}

func TestParserFlush(t *testing.T) {
	var p Parser
	assert.Nil(t, p.Feed("POD-FAIL [c] killed by oom."))
	assert.Equal(t, []Event{{Kind: TargetFailed, Name: "c", Reason: "killed by oom"}}, p.Flush())
	assert.Nil(t, p.Flush())
}

func TestEventString(t *testing.T) {
	assert.Equal(t, "TargetStarted[a]", Event{Kind: TargetStarted, Name: "a"}.String())
	assert.Equal(t, "TargetFailed[b]: disk full",
		Event{Kind: TargetFailed, Name: "b", Reason: "disk full"}.String())
	assert.Equal(t, "WaveFailed", Event{Kind: WaveFailed}.String())
	assert.True(t, strings.HasPrefix(Kind(42).String(), "Kind("))
}
