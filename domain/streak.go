package domain

// StreakWindow bounds how many days back a streak is computed.
const StreakWindow = 30

// Streak counts consecutive active days ending at asOf. asOf itself may be
// empty without breaking the streak; any earlier empty day ends the scan.
func Streak(asOf string, completions map[string]int) int {
	streak := 0
	for i := 0; i < StreakWindow; i++ {
		day := AddDays(asOf, -i)
		if completions[day] > 0 {
			streak++
			continue
		}
		if i > 0 {
			break
		}
	}
	return streak
}
