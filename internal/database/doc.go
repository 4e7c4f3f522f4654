// Package database provides the PostgreSQL connection pool for the alert store.
//
// The gateway shares the alerts database with the CRUD service that owns
// the "Alert" table. It only reads active symbols and marks alerts
// triggered.
package database
