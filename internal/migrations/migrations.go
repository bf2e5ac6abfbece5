package migrations

import (
	"embed"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strings"
)

//go:embed sql
var embedded embed.FS

const initialSchemaFile = "001_initial_schema.sql"

var (
	// MigrationsDir can be overridden in tests or by the application. Files found
	// there take precedence over the embedded schema.
	MigrationsDir = getDefaultMigrationsDir()
)

func getDefaultMigrationsDir() string {
	if dir := os.Getenv("DUET_MIGRATIONS_DIR"); dir != "" {
		return dir
	}
	return "scripts/migrations"
}

// SupportedDrivers lists the dialects with a bundled schema.
func SupportedDrivers() []string {
	return []string{"sqlite3", "mysql"}
}

// GetInitialSchema returns the initial schema for the given driver
func GetInitialSchema(driver string) (string, error) {
	if !isSupported(driver) {
		return "", fmt.Errorf("unsupported database driver %q", driver)
	}

	override := filepath.Join(MigrationsDir, driver, initialSchemaFile)
	if content, err := os.ReadFile(override); err == nil {
		return string(content), nil
	}

	content, err := embedded.ReadFile(path.Join("sql", driver, initialSchemaFile))
	if err != nil {
		return "", fmt.Errorf("could not read bundled schema for %s: %w", driver, err)
	}
	return string(content), nil
}

// Statements splits the schema for driver into individually executable statements.
func Statements(driver string) ([]string, error) {
	schema, err := GetInitialSchema(driver)
	if err != nil {
		return nil, err
	}
	return SplitStatements(schema), nil
}

// SplitStatements breaks a script on statement terminators, dropping blanks and
// "--" comment lines. Bodies containing ';' (triggers) are not supported.
func SplitStatements(script string) []string {
	var cleaned strings.Builder
	for _, line := range strings.Split(script, "\n") {
		if strings.HasPrefix(strings.TrimSpace(line), "--") {
			continue
		}
		cleaned.WriteString(line)
		cleaned.WriteString("\n")
	}

	var statements []string
	for _, stmt := range strings.Split(cleaned.String(), ";") {
		if stmt = strings.TrimSpace(stmt); stmt != "" {
			statements = append(statements, stmt)
		}
	}
	return statements
}

func isSupported(driver string) bool {
	for _, d := range SupportedDrivers() {
		if d == driver {
			return true
		}
	}
	return false
}
