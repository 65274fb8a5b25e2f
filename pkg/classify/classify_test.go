package classify

import (
	"context"
	"errors"
	"testing"

	"github.com/paulschiretz/rager/pkg/entry"
)

type fakeSource struct {
	details entry.Details
	err     error
	calls   int
}

func (f *fakeSource) Details(ctx context.Context, id string) (entry.Details, error) {
	f.calls++
	return f.details, f.err
}

func TestClassify(t *testing.T) {
	errTransport := errors.New("connection reset")
	iosFiles := []string{"console.log.gz", "details.log.gz"}
	androidFiles := []string{"logcat.log.gz", "details.log.gz"}

	testCases := []struct {
		name        string
		files       []string
		beeperHacks bool
		src         *fakeSource
		wantOS      entry.OS
		wantConf    Confidence
		wantCalls   int
		wantErr     error
	}{
		{
			name: "Heuristic iOS skips the network", files: iosFiles, beeperHacks: true,
			src: &fakeSource{}, wantOS: entry.OSiOS, wantConf: Heuristic, wantCalls: 0,
		},
		{
			name: "Heuristic miss falls back to details", files: androidFiles, beeperHacks: true,
			src:    &fakeSource{details: entry.Details{OS: entry.OSAndroid}},
			wantOS: entry.OSAndroid, wantConf: Authoritative, wantCalls: 1,
		},
		{
			name: "Without hacks console logs are ignored", files: iosFiles, beeperHacks: false,
			src:    &fakeSource{details: entry.Details{OS: entry.OSDesktop}},
			wantOS: entry.OSDesktop, wantConf: Authoritative, wantCalls: 1,
		},
		{
			name: "Unparseable application is a confirmed unknown", files: androidFiles,
			src:    &fakeSource{details: entry.Details{OS: entry.OSUnknown}},
			wantOS: entry.OSUnknown, wantConf: Authoritative, wantCalls: 1,
		},
		{
			name: "Missing details stays unresolved", files: androidFiles,
			src:    &fakeSource{err: ErrNoDetails},
			wantOS: entry.OSUnresolved, wantConf: None, wantCalls: 1,
		},
		{
			name: "Transport errors are returned", files: androidFiles,
			src:     &fakeSource{err: errTransport},
			wantErr: errTransport, wantCalls: 1,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			e := &entry.Entry{Ref: entry.Ref{ID: "2021-07-21/022901"}, Files: tc.files}
			res, err := Classify(context.Background(), e, tc.beeperHacks, tc.src)
			if tc.wantErr != nil {
				if !errors.Is(err, tc.wantErr) {
					t.Fatalf("expected error %v, but got %v", tc.wantErr, err)
				}
			} else if err != nil {
				t.Fatalf("expected no error, but got: %v", err)
			}
			if res.OS != tc.wantOS || res.Confidence != tc.wantConf {
				t.Errorf("expected (%s, %s), but got (%s, %s)", tc.wantOS, tc.wantConf, res.OS, res.Confidence)
			}
			if tc.src.calls != tc.wantCalls {
				t.Errorf("expected %d details fetches, but got %d", tc.wantCalls, tc.src.calls)
			}
			if res.Confidence == Authoritative && res.Details == nil {
				t.Error("expected details to be returned with an authoritative answer")
			}
		})
	}
}
