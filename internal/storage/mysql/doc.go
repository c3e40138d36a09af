// Package mysql provides the MySQL-backed conversation store, wallet cache
// reader and knowledge base reader. Schema changes are applied from the
// embedded migrations in deploy/migrations when the store is opened.
package mysql
