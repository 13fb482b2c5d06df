package infra

import "testing"

func TestWithSearchPath(t *testing.T) {
	got, err := withSearchPath("postgres://u:p@localhost:5432/db?sslmode=disable", "stress_run_1")
	if err != nil {
		t.Fatalf("url dsn: %v", err)
	}
	if got != "postgres://u:p@localhost:5432/db?search_path=stress_run_1&sslmode=disable" {
		t.Fatalf("unexpected dsn %q", got)
	}

	got, err = withSearchPath("host=localhost dbname=db", "stress_run_1")
	if err != nil {
		t.Fatalf("keyword dsn: %v", err)
	}
	if got != "host=localhost dbname=db search_path=stress_run_1" {
		t.Fatalf("unexpected dsn %q", got)
	}
}
