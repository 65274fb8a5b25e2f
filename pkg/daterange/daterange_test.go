package daterange

import (
	"encoding/json"
	"testing"
	"time"
)

func day(t *testing.T, s string) Day {
	t.Helper()
	d, err := ParseDay(s)
	if err != nil {
		t.Fatalf("bad test day %q: %v", s, err)
	}
	return d
}

func daysToStrings(days []Day) []string {
	out := make([]string, len(days))
	for i, d := range days {
		out[i] = d.String()
	}
	return out
}

func equalStrings(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func TestParseDay(t *testing.T) {
	testCases := []struct {
		input   string
		want    string
		wantErr bool
	}{
		{"2021-07-21", "2021-07-21", false},
		{"2021-07-21/", "2021-07-21", false},
		{" 2021-01-02 ", "2021-01-02", false},
		{"2021-7-1", "", true},
		{"2021-13-01", "", true},
		{"yesterday", "", true},
	}
	for _, tc := range testCases {
		t.Run(tc.input, func(t *testing.T) {
			got, err := ParseDay(tc.input)
			if tc.wantErr {
				if err == nil {
					t.Errorf("expected an error, but got %s", got)
				}
				return
			}
			if err != nil {
				t.Fatalf("expected no error, but got: %v", err)
			}
			if got.String() != tc.want {
				t.Errorf("expected %s, but got %s", tc.want, got)
			}
		})
	}
}

func TestParseRelative(t *testing.T) {
	// 2021-07-14 was a Wednesday.
	now := time.Date(2021, 7, 14, 15, 30, 0, 0, time.UTC)

	testCases := []struct {
		input string
		want  string
	}{
		{"2021-07-01", "2021-07-01"},
		{"today", "2021-07-14"},
		{"Yesterday", "2021-07-13"},
		{"monday", "2021-07-12"},
		{"fri", "2021-07-09"},
		{"wednesday", "2021-07-07"},
	}
	for _, tc := range testCases {
		t.Run(tc.input, func(t *testing.T) {
			got, err := Parse(tc.input, now)
			if err != nil {
				t.Fatalf("expected no error, but got: %v", err)
			}
			if got.String() != tc.want {
				t.Errorf("expected %s, but got %s", tc.want, got)
			}
		})
	}

	t.Run("Rejects empty input", func(t *testing.T) {
		if _, err := Parse("  ", now); err == nil {
			t.Error("expected an error, but got nil")
		}
	})
}

func TestParseRejectsMalformed(t *testing.T) {
	now := time.Date(2021, 7, 12, 9, 0, 0, 0, time.UTC)

	testCases := []struct {
		name  string
		input string
	}{
		{"Day Out Of Range", "2021-02-30"},
		{"Month Out Of Range", "2021-13-01"},
		{"Two Digit Year", "21-07-10"},
		{"Slash Separated", "2021/07/10"},
		{"Dot Separated", "2021.07.10"},
		{"Gibberish", "xyzzy"},
		{"Trailing Garbage", "tomorrow xyzzy"},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := Parse(tc.input, now)
			if err == nil {
				t.Errorf("expected an error for %q, but got day %s", tc.input, got)
			}
		})
	}
}

func TestParseList(t *testing.T) {
	now := time.Date(2021, 7, 14, 0, 0, 0, 0, time.UTC)
	got, err := ParseList("2021-07-12, today,,2021-07-12,yesterday", now)
	if err != nil {
		t.Fatalf("expected no error, but got: %v", err)
	}
	want := []string{"2021-07-12", "2021-07-13", "2021-07-14"}
	if !equalStrings(daysToStrings(got), want) {
		t.Errorf("expected %v, but got %v", want, daysToStrings(got))
	}
}

func TestDayJSON(t *testing.T) {
	type state struct {
		LastSyncedDay Day `json:"lastSyncedDay"`
	}
	data, err := json.Marshal(state{LastSyncedDay: NewDay(2021, 7, 12)})
	if err != nil {
		t.Fatalf("expected no error, but got: %v", err)
	}
	if string(data) != `{"lastSyncedDay":"2021-07-12"}` {
		t.Errorf("unexpected JSON: %s", data)
	}

	var back state
	if err := json.Unmarshal(data, &back); err != nil {
		t.Fatalf("expected no error, but got: %v", err)
	}
	if !back.LastSyncedDay.Equal(NewDay(2021, 7, 12)) {
		t.Errorf("expected 2021-07-12, but got %s", back.LastSyncedDay)
	}
}

func TestWindowEmpty(t *testing.T) {
	testCases := []struct {
		name  string
		w     Window
		empty bool
	}{
		{"Unbounded", Window{}, false},
		{"After greater than Before", Window{After: day(t, "2021-07-20"), Before: day(t, "2021-07-10")}, true},
		{"After equals Before", Window{After: day(t, "2021-07-10"), Before: day(t, "2021-07-10")}, true},
		{"Adjacent bounds leave no day", Window{After: day(t, "2021-07-10"), Before: day(t, "2021-07-11")}, true},
		{"One day between", Window{After: day(t, "2021-07-10"), Before: day(t, "2021-07-12")}, false},
		{"When outside bounds", Window{After: day(t, "2021-07-10"), When: []Day{day(t, "2021-07-01")}}, true},
		{"When inside bounds", Window{After: day(t, "2021-07-10"), When: []Day{day(t, "2021-07-11")}}, false},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			if got := tc.w.Empty(); got != tc.empty {
				t.Errorf("expected Empty()=%v, but got %v", tc.empty, got)
			}
		})
	}
}

func TestWindowContains(t *testing.T) {
	w := Window{After: day(t, "2021-07-10"), Before: day(t, "2021-07-13")}
	for s, want := range map[string]bool{
		"2021-07-10": false,
		"2021-07-11": true,
		"2021-07-12": true,
		"2021-07-13": false,
	} {
		if got := w.Contains(day(t, s)); got != want {
			t.Errorf("expected Contains(%s)=%v, but got %v", s, want, got)
		}
	}

	when := Window{When: []Day{day(t, "2021-07-02")}}
	if !when.Contains(day(t, "2021-07-02")) || when.Contains(day(t, "2021-07-03")) {
		t.Error("expected a when-list window to contain only listed days")
	}
}

func TestWindowEnumerate(t *testing.T) {
	today := day(t, "2021-07-12")

	t.Run("Since last day through today", func(t *testing.T) {
		days, ok := Window{After: day(t, "2021-07-10")}.Enumerate(today)
		if !ok {
			t.Fatal("expected local enumeration")
		}
		want := []string{"2021-07-11", "2021-07-12"}
		if !equalStrings(daysToStrings(days), want) {
			t.Errorf("expected %v, but got %v", want, daysToStrings(days))
		}
	})

	t.Run("Inconsistent window yields nothing", func(t *testing.T) {
		days, ok := Window{After: day(t, "2021-07-20"), Before: day(t, "2021-07-01")}.Enumerate(today)
		if !ok || len(days) != 0 {
			t.Errorf("expected no days, but got %v (ok=%v)", daysToStrings(days), ok)
		}
	})

	t.Run("Before bound stops enumeration", func(t *testing.T) {
		days, _ := Window{After: day(t, "2021-07-05"), Before: day(t, "2021-07-08")}.Enumerate(today)
		want := []string{"2021-07-06", "2021-07-07"}
		if !equalStrings(daysToStrings(days), want) {
			t.Errorf("expected %v, but got %v", want, daysToStrings(days))
		}
	})

	t.Run("When list drops future days", func(t *testing.T) {
		w := Window{When: []Day{day(t, "2021-07-13"), day(t, "2021-07-02")}}
		days, ok := w.Enumerate(today)
		if !ok || !equalStrings(daysToStrings(days), []string{"2021-07-02"}) {
			t.Errorf("expected [2021-07-02], but got %v", daysToStrings(days))
		}
	})

	t.Run("No lower bound needs the server index", func(t *testing.T) {
		if _, ok := (Window{Before: today}).Enumerate(today); ok {
			t.Error("expected ok=false for a window without lower bound")
		}
	})
}

func TestWindowReachesThrough(t *testing.T) {
	today := day(t, "2021-07-12")
	if !(Window{}).ReachesThrough(today) {
		t.Error("expected an open window to reach today")
	}
	if (Window{Before: today}).ReachesThrough(today) {
		t.Error("expected an exclusive Before of today not to reach today")
	}
	if (Window{When: []Day{day(t, "2021-07-11")}}).ReachesThrough(today) {
		t.Error("expected a when-list without today not to reach today")
	}
}
