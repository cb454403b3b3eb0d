package migrations

import _ "embed"

//go:embed 0001_create_exam_attempts.sql
var createExamAttemptsSQL string

func init() {
	Migrations.MustRegister(
		execSQL(createExamAttemptsSQL),
		execSQL(`DROP TABLE IF EXISTS exam_attempts`),
	)
}
