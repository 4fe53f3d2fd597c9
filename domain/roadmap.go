package domain

// Subtask status values as stored in the student_subtasks table.
const (
	StatusYetToStart = "yet_to_start"
	StatusInProgress = "in_progress"
	StatusDone       = "done"
)

// Phase is a top-level roadmap stage shared by all students.
type Phase struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Order int    `json:"order"`
}

// Task is a roadmap item under a phase. Tasks are taxonomy rows; per-student
// work hangs off them as subtasks.
type Task struct {
	ID      string `json:"id"`
	PhaseID string `json:"phaseId"`
	Name    string `json:"name"`
	Order   int    `json:"order"`
}

// Subtask is a per-student work item attached to a roadmap task.
type Subtask struct {
	ID        SubtaskID `json:"id"`
	StudentID string    `json:"studentId"`
	TaskID    string    `json:"taskId"`
	Name      string    `json:"name"`
	Status    string    `json:"status"`
	Remark    string    `json:"remark,omitempty"`
	ETA       string    `json:"eta,omitempty"`
	Owner     string    `json:"owner,omitempty"`
}

// Roadmap is the full taxonomy plus one student's subtasks grouped by task.
type Roadmap struct {
	Phases   []Phase              `json:"phases"`
	Tasks    []Task               `json:"tasks"`
	Subtasks map[string][]Subtask `json:"subtasks"`
}

// CalendarEntry is a deadline row in the calendar read model, derived from
// subtask ETAs by the updater.
type CalendarEntry struct {
	StudentID string    `json:"studentId"`
	Date      string    `json:"date"`
	SubtaskID SubtaskID `json:"subtaskId"`
	Label     string    `json:"label"`
	Owner     string    `json:"owner,omitempty"`
}
