package domain

// Level describes one stage of the garden progression.
type Level struct {
	Level       int      `json:"level" yaml:"level"`
	Name        string   `json:"name" yaml:"name"`
	Emoji       string   `json:"emoji" yaml:"emoji"`
	MinXP       int      `json:"minXP" yaml:"minXP"`
	MaxXP       *int     `json:"maxXP,omitempty" yaml:"maxXP"`
	Description string   `json:"description,omitempty" yaml:"description"`
	Unlocks     []string `json:"unlocks,omitempty" yaml:"unlocks"`
}

// LevelStatus reports a user's progress through one level's task set for the day.
type LevelStatus struct {
	Level      int          `json:"level"`
	Tasks      []TaskStatus `json:"tasks"`
	Completed  int          `json:"completed"`
	Total      int          `json:"total"`
	Complete   bool         `json:"complete"`
	CanAdvance bool         `json:"canAdvance"`
}
