package migrations

import "embed"

// Files 暴露 MySQL 的 SQL 迁移文件。
//
//go:embed *.sql
var Files embed.FS

// Postgres 暴露钱包缓存与知识库的 PostgreSQL 迁移文件。
//
//go:embed postgres/*.sql
var Postgres embed.FS
