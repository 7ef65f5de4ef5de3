// Package database simulates managed relational databases.
//
// A database is created in creating and becomes available before
// CreateDatabase returns. Modifications pass through modifying; stop and
// start toggle between available and stopped; deletion passes through
// deleting and removes the record. The engine (mysql, postgresql or
// mariadb) is fixed at creation.
//
// Snapshots are stored as records of their own kind. They are not removed
// with the database they were taken from.
package database
