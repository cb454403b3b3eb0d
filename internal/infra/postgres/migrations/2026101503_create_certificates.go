package migrations

import _ "embed"

//go:embed 0003_create_certificates.sql
var createCertificatesSQL string

func init() {
	Migrations.MustRegister(
		execSQL(createCertificatesSQL),
		execSQL(`DROP TABLE IF EXISTS certificates`),
	)
}
