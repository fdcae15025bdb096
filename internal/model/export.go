package model

// SessionExport is the JSON document served when a user downloads the
// artifacts generated in their session.
type SessionExport struct {
	FactBaseName string              `json:"fact_base_name"`
	FactBaseLen  int                 `json:"fact_base_length"`
	Objectives   []LearningObjective `json:"larandemal"`
	Questions    map[string][]MCQ    `json:"flervalsfragor"`
}
