package domain

import "testing"

func TestStreak(t *testing.T) {
	const d = "2026-03-10"
	tests := []struct {
		name   string
		active []int // days back from d with completions
		want   int
	}{
		{name: "no activity", want: 0},
		{name: "today only", active: []int{0}, want: 1},
		{name: "three days then gap", active: []int{0, 1, 2}, want: 3},
		{name: "today exempt", active: []int{1, 2, 3, 4, 5}, want: 5},
		{name: "gap discards older activity", active: []int{0, 1, 3}, want: 2},
		{name: "yesterday empty breaks", active: []int{0, 2, 3}, want: 1},
		{name: "window capped", active: seq(40), want: StreakWindow},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			counts := map[string]int{}
			for _, back := range tt.active {
				counts[AddDays(d, -back)] = 1
			}
			if got := Streak(d, counts); got != tt.want {
				t.Fatalf("Streak = %d, want %d", got, tt.want)
			}
		})
	}
}

func seq(n int) []int {
	out := make([]int, n)
	for i := range out {
		out[i] = i
	}
	return out
}

func TestAddDaysCrossesMonth(t *testing.T) {
	if got := AddDays("2026-03-01", -1); got != "2026-02-28" {
		t.Fatalf("unexpected day: %s", got)
	}
	if got := AddDays("not-a-day", -1); got != "not-a-day" {
		t.Fatalf("invalid input should be returned unchanged, got %s", got)
	}
}
