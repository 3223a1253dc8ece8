package signal

import "testing"

func TestParse(t *testing.T) {
	cases := []struct {
		name string
		in   string
		want Result
	}{
		{"complete", "all done. <complete/>", Result{Kind: Complete}},
		{"continue explicit", "still working <continue/>", Result{Kind: Continue}},
		{"blocked", `stuck <blocked reason="missing api key"/>`, Result{Kind: Blocked, Reason: "missing api key"}},
		{"approve with summary", `looks right <approve summary="ship it"/>`, Result{Kind: Approve, Summary: "ship it"}},
		{"reject", `<reject reason="tests fail"/>`, Result{Kind: Reject, Reason: "tests fail"}},
		{"no signal", "just some prose", Result{Kind: Continue}},
		{"case insensitive", "<COMPLETE/>", Result{Kind: Complete}},
		{"whitespace before slash", "<complete />", Result{Kind: Complete}},
		{
			"first match wins",
			`talked myself into it, then <reject reason="actually no"/> but also <approve summary="yes"/>`,
			Result{Kind: Reject, Reason: "actually no"},
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := Parse(tc.in)
			if got != tc.want {
				t.Errorf("Parse(%q) = %+v, want %+v", tc.in, got, tc.want)
			}
		})
	}
}

func TestParseIdempotent(t *testing.T) {
	inputs := []string{
		`<complete/>`,
		`<blocked reason="x"/>`,
		"no signal here",
	}
	for _, in := range inputs {
		a := Parse(in)
		b := Parse(in)
		if a != b {
			t.Errorf("Parse(%q) not deterministic: %+v != %+v", in, a, b)
		}
	}
}

func TestParseReviewDefaultsToReject(t *testing.T) {
	got := ParseReview("no signal in this response")
	want := Result{Kind: Reject, Reason: noReviewSignalReason}
	if got != want {
		t.Errorf("ParseReview() = %+v, want %+v", got, want)
	}
}

func TestParseReviewIgnoresIterationSignals(t *testing.T) {
	// Complete/Continue/Blocked mean nothing in review context; the
	// review default (reject) applies exactly as if no signal matched.
	got := ParseReview("<complete/>")
	if got.Kind != Reject {
		t.Errorf("ParseReview(<complete/>) = %+v, want Reject", got)
	}
}

func TestParseReviewApprove(t *testing.T) {
	got := ParseReview(`<approve summary="good"/>`)
	want := Result{Kind: Approve, Summary: "good"}
	if got != want {
		t.Errorf("ParseReview() = %+v, want %+v", got, want)
	}
}
