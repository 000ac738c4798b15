package demo

import (
	"context"
	"database/sql"
	"fmt"
)

type Department struct {
	ID   int
	Name string
}

type User struct {
	ID           int
	Name         string
	Email        string
	DepartmentID int
}

type Skill struct {
	ID     int
	UserID int
	Skill  string
	Rating int
}

var Departments = []Department{
	{ID: 1, Name: "HR"},
	{ID: 2, Name: "IT"},
	{ID: 3, Name: "Sales"},
	{ID: 4, Name: "Marketing"},
}

var Users = []User{
	{ID: 1, Name: "Alice Smith", Email: "alice@example.com", DepartmentID: 2},
	{ID: 2, Name: "Bob Jones", Email: "bob@example.com", DepartmentID: 1},
	{ID: 3, Name: "Charlie Brown", Email: "charlie@example.com", DepartmentID: 2},
	{ID: 4, Name: "David Wilson", Email: "david@example.com", DepartmentID: 3},
	{ID: 5, Name: "Eve Davis", Email: "eve@example.com", DepartmentID: 4},
}

var Skills = []Skill{
	{ID: 1, UserID: 1, Skill: "Python", Rating: 5},
	{ID: 2, UserID: 1, Skill: "SQL", Rating: 4},
	{ID: 3, UserID: 2, Skill: "Recruiting", Rating: 5},
	{ID: 4, UserID: 3, Skill: "Java", Rating: 4},
	{ID: 5, UserID: 3, Skill: "Python", Rating: 3},
	{ID: 6, UserID: 4, Skill: "Negotiation", Rating: 5},
	{ID: 7, UserID: 5, Skill: "SEO", Rating: 4},
}

// The DDL avoids SERIAL and identity columns so the same statements run on
// Postgres and DuckDB.
var schemaStatements = []string{
	`DROP TABLE IF EXISTS userskillandratings`,
	`DROP TABLE IF EXISTS usermaster`,
	`DROP TABLE IF EXISTS department`,
	`CREATE TABLE department (
    id INTEGER PRIMARY KEY,
    name VARCHAR(255) NOT NULL
)`,
	`CREATE TABLE usermaster (
    id INTEGER PRIMARY KEY,
    name VARCHAR(255) NOT NULL,
    email VARCHAR(255) UNIQUE NOT NULL,
    department_id INTEGER REFERENCES department(id)
)`,
	`CREATE TABLE userskillandratings (
    id INTEGER PRIMARY KEY,
    user_id INTEGER REFERENCES usermaster(id),
    skill VARCHAR(255) NOT NULL,
    rating INTEGER CHECK (rating >= 1 AND rating <= 5)
)`,
}

type SeedSummary struct {
	Departments int
	Users       int
	Skills      int
}

// Seed recreates the demo tables and loads the fixed dataset. Existing demo
// tables are dropped first.
func Seed(ctx context.Context, db *sql.DB) (SeedSummary, error) {
	if db == nil {
		return SeedSummary{}, fmt.Errorf("database is required")
	}
	for _, statement := range schemaStatements {
		if _, err := db.ExecContext(ctx, statement); err != nil {
			return SeedSummary{}, fmt.Errorf("apply demo schema: %w", err)
		}
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return SeedSummary{}, fmt.Errorf("begin seed transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	for _, department := range Departments {
		if _, err := tx.ExecContext(ctx, `INSERT INTO department (id, name) VALUES ($1, $2)`, department.ID, department.Name); err != nil {
			return SeedSummary{}, fmt.Errorf("insert department %q: %w", department.Name, err)
		}
	}
	for _, user := range Users {
		if _, err := tx.ExecContext(ctx, `INSERT INTO usermaster (id, name, email, department_id) VALUES ($1, $2, $3, $4)`,
			user.ID, user.Name, user.Email, user.DepartmentID); err != nil {
			return SeedSummary{}, fmt.Errorf("insert user %q: %w", user.Email, err)
		}
	}
	for _, skill := range Skills {
		if _, err := tx.ExecContext(ctx, `INSERT INTO userskillandratings (id, user_id, skill, rating) VALUES ($1, $2, $3, $4)`,
			skill.ID, skill.UserID, skill.Skill, skill.Rating); err != nil {
			return SeedSummary{}, fmt.Errorf("insert skill %q: %w", skill.Skill, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return SeedSummary{}, fmt.Errorf("commit seed transaction: %w", err)
	}

	return SeedSummary{Departments: len(Departments), Users: len(Users), Skills: len(Skills)}, nil
}
