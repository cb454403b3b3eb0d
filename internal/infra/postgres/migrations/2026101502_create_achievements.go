package migrations

import _ "embed"

//go:embed 0002_create_achievements.sql
var createAchievementsSQL string

func init() {
	Migrations.MustRegister(
		execSQL(createAchievementsSQL),
		execSQL(`DROP TABLE IF EXISTS redemptions, user_challenge_progress, challenges, user_achievements`),
	)
}
