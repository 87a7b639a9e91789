package domain

// Difficulty labels a challenge.
type Difficulty string

const (
	DifficultyEasy   Difficulty = "Easy"
	DifficultyMedium Difficulty = "Medium"
	DifficultyHard   Difficulty = "Hard"
)

// Option represents a possible answer for a question.
type Option struct {
	ID      string `json:"id" yaml:"id"`
	Text    string `json:"text" yaml:"text"`
	Correct bool   `json:"correct" yaml:"correct"`
}

// Question models an MCQ question with exactly one correct option.
type Question struct {
	ID          string   `json:"id" yaml:"id"`
	Prompt      string   `json:"prompt" yaml:"prompt"`
	Options     []Option `json:"options" yaml:"options"`
	Points      int      `json:"points" yaml:"points"` // defaults to 1 if zero
	Explanation string   `json:"explanation,omitempty" yaml:"explanation"`
}

// PointValue returns the configured points, defaulting to 1.
func (q Question) PointValue() int {
	if q.Points <= 0 {
		return 1
	}
	return q.Points
}

// Challenge is a fixed multiple-choice quiz from the catalog.
type Challenge struct {
	ID          string     `json:"id" yaml:"id"`
	Title       string     `json:"title" yaml:"title"`
	Description string     `json:"description" yaml:"description"`
	Difficulty  Difficulty `json:"difficulty" yaml:"difficulty"`
	Category    string     `json:"category" yaml:"category"`
	Questions   []Question `json:"questions" yaml:"questions"`
	TotalPoints int        `json:"totalPoints" yaml:"total_points"`
}

// MaxPoints returns TotalPoints or, when unset, the sum of the question points.
func (c Challenge) MaxPoints() int {
	if c.TotalPoints > 0 {
		return c.TotalPoints
	}
	total := 0
	for _, q := range c.Questions {
		total += q.PointValue()
	}
	return total
}

// Question looks up a question by ID.
func (c Challenge) Question(id string) (Question, bool) {
	for _, q := range c.Questions {
		if q.ID == id {
			return q, true
		}
	}
	return Question{}, false
}
