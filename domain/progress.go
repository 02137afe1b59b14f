package domain

const (
	// TasksPerLevel is the fixed size of a level's task set.
	TasksPerLevel = 4
	// LevelBonusXP is credited every TasksPerLevel completions in a day.
	LevelBonusXP = 100
	// MaxLevel is the highest reachable level.
	MaxLevel = 5
)

// levelFloors holds the minimum total XP of levels 2..5.
var levelFloors = [...]int{101, 301, 601, 1001}

// LevelForXP derives the level for a total XP value.
func LevelForXP(total int) int {
	level := 1
	for _, floor := range levelFloors {
		if total < floor {
			break
		}
		level++
	}
	return level
}

// LevelCompletionBonus returns the bonus due after the day's completedToday-th
// completion. It repeats on every multiple of TasksPerLevel.
func LevelCompletionBonus(completedToday int) int {
	if completedToday > 0 && completedToday%TasksPerLevel == 0 {
		return LevelBonusXP
	}
	return 0
}

// ProgressRecord is the per-user ledger entry. Level is always derived.
type ProgressRecord struct {
	UserID         string `json:"userId"`
	TotalXP        int    `json:"totalXP"`
	LastActiveDate string `json:"lastActiveDate,omitempty"`
}

// Level returns the level derived from the record's XP.
func (p ProgressRecord) Level() int { return LevelForXP(p.TotalXP) }

// Progress is the read model returned to clients.
type Progress struct {
	TotalXP        int    `json:"totalXP"`
	CurrentLevel   int    `json:"currentLevel"`
	Streak         int    `json:"streak"`
	LastActiveDate string `json:"lastActiveDate"`
	CompletedToday int    `json:"completedToday"`
}

// CompletionOutcome is the engine's answer to a completed task.
type CompletionOutcome struct {
	XPGained       int `json:"xpGained"`
	BonusXP        int `json:"bonusXP"`
	TotalXP        int `json:"totalXP"`
	CompletedToday int `json:"completedToday"`
}
