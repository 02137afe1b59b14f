package domain

// Category groups tasks by the kind of care they provide.
type Category string

const (
	CategoryPhysical  Category = "physical"
	CategoryMental    Category = "mental"
	CategoryEmotional Category = "emotional"
)

// Valid reports whether c is one of the known categories.
func (c Category) Valid() bool {
	switch c {
	case CategoryPhysical, CategoryMental, CategoryEmotional:
		return true
	}
	return false
}

// Difficulty determines the XP a completion is worth.
type Difficulty string

const (
	DifficultyEasy   Difficulty = "easy"
	DifficultyMedium Difficulty = "medium"
	DifficultyHard   Difficulty = "hard"
)

// XP returns the experience awarded for completing a task of difficulty d.
// Unknown difficulties are worth nothing and report ok=false.
func (d Difficulty) XP() (xp int, ok bool) {
	switch d {
	case DifficultyEasy:
		return 10, true
	case DifficultyMedium:
		return 20, true
	case DifficultyHard:
		return 30, true
	}
	return 0, false
}

// GardenElement is the decoration unlocked by completing a task.
type GardenElement struct {
	Emoji string `json:"emoji" yaml:"emoji"`
	Name  string `json:"name" yaml:"name"`
}

// Task is an immutable catalog entry.
type Task struct {
	ID         string     `json:"id" yaml:"id"`
	Title      string     `json:"title" yaml:"title"`
	Category   Category   `json:"type" yaml:"type"`
	Difficulty Difficulty `json:"difficulty" yaml:"difficulty"`
	Duration   int        `json:"duration" yaml:"duration"`
	Level      int        `json:"level" yaml:"level"`
	WhenToShow []string   `json:"whenToShow" yaml:"whenToShow"`

	VideoLink          string        `json:"videoLink,omitempty" yaml:"videoLink"`
	GardenElement      GardenElement `json:"gardenElement" yaml:"gardenElement"`
	ScienceExplanation string        `json:"scienceExplanation,omitempty" yaml:"scienceExplanation"`
	ScienceSource      string        `json:"scienceSource,omitempty" yaml:"scienceSource"`
}

// ShownFor reports whether the task is tagged for the given mood.
func (t Task) ShownFor(mood string) bool {
	for _, m := range t.WhenToShow {
		if m == mood {
			return true
		}
	}
	return false
}

// TaskStatus is a catalog task annotated with a user's activity for the day.
type TaskStatus struct {
	Task
	Completed      bool `json:"completed"`
	TimerStarted   bool `json:"timerStarted"`
	TimerCompleted bool `json:"timerCompleted"`
}
