// Package migration manages versioned schema migrations for the FlowForge
// database using golang-migrate with embedded SQL sources.
//
// Migrations are embedded per dialect under migrations/<dialect>/ and named
// NNNNNN_description.up.sql / NNNNNN_description.down.sql. PostgreSQL and
// MySQL are supported here; SQLite deployments are development-only and use
// the store's AutoMigrate path instead.
package migration
