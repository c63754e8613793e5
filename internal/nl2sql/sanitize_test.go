package nl2sql

import (
	"strings"
	"testing"
)

func TestSanitizeExtractsMarkerLine(t *testing.T) {
	raw := "Question: how many students?\nSQLQuery: SELECT COUNT(*) FROM STUDENT;;\nSQLResult: [(5,)]\nAnswer: 5"
	got := Sanitize(raw)
	if got.SQL != "SELECT COUNT(*) FROM STUDENT;" {
		t.Fatalf("SQL = %q", got.SQL)
	}
	if !got.MarkerFound {
		t.Fatal("expected marker to be found")
	}
	if !got.Executable() {
		t.Fatal("expected query to be executable")
	}
}

func TestSanitizeMarkerIsCaseInsensitive(t *testing.T) {
	got := Sanitize("sqlquery:   SELECT 1")
	if got.SQL != "SELECT 1;" || !got.MarkerFound {
		t.Fatalf("Sanitize() = %#v", got)
	}
}

func TestSanitizeSchemaMetaCommand(t *testing.T) {
	got := Sanitize(".schema")
	if got.SQL != "SELECT sql FROM sqlite_master WHERE type='table';" {
		t.Fatalf("SQL = %q", got.SQL)
	}
	if !got.Executable() {
		t.Fatal("rewritten meta-command should be executable")
	}
}

func TestSanitizeTablesMetaCommand(t *testing.T) {
	got := Sanitize(".tables")
	if got.SQL != "SELECT name FROM sqlite_master WHERE type='table';" {
		t.Fatalf("SQL = %q", got.SQL)
	}
	got = Sanitize("SQLQuery: .tables;")
	if got.SQL != "SELECT name FROM sqlite_master WHERE type='table';" {
		t.Fatalf("SQL with marker = %q", got.SQL)
	}
}

func TestSanitizeStripsFencesAndCommentary(t *testing.T) {
	got := Sanitize("```sql\nSELECT 1\n```\nLet's run it")
	if got.SQL != "SELECT 1;" {
		t.Fatalf("SQL = %q", got.SQL)
	}
	if got.MarkerFound {
		t.Fatal("no marker was present")
	}
	if !got.Executable() {
		t.Fatal("fallback SELECT should be executable")
	}
}

func TestSanitizeTakesFencedBlockAfterMarker(t *testing.T) {
	raw := "SQLQuery:\n```sql\nSELECT \"NAME\"\nFROM STUDENT\nWHERE \"MARKS\" > 80;\n```\nSQLResult: ..."
	got := Sanitize(raw)
	want := "SELECT \"NAME\"\nFROM STUDENT\nWHERE \"MARKS\" > 80;"
	if got.SQL != want {
		t.Fatalf("SQL = %q, want %q", got.SQL, want)
	}
}

func TestSanitizeTakesMultiLineStatementUntilLabel(t *testing.T) {
	raw := "SQLQuery: SELECT \"NAME\"\nFROM STUDENT\nSQLResult: [('Krish',)]"
	got := Sanitize(raw)
	if got.SQL != "SELECT \"NAME\"\nFROM STUDENT;" {
		t.Fatalf("SQL = %q", got.SQL)
	}
}

func TestSanitizeStopsAtProseAfterMarkerLine(t *testing.T) {
	raw := "Question: How many students?\nSQLQuery: SELECT COUNT(*) FROM STUDENT\nThis query counts every student in the table."
	got := Sanitize(raw)
	if got.SQL != "SELECT COUNT(*) FROM STUDENT;" {
		t.Fatalf("SQL = %q", got.SQL)
	}
}

func TestSanitizeKeepsIndentedAndClauseContinuations(t *testing.T) {
	raw := "SQLQuery: SELECT \"CLASS\",\n  AVG(\"MARKS\")\nFROM STUDENT\nGROUP BY \"CLASS\";\nThe average per class is shown above."
	got := Sanitize(raw)
	want := "SELECT \"CLASS\",\n  AVG(\"MARKS\")\nFROM STUDENT\nGROUP BY \"CLASS\";"
	if got.SQL != want {
		t.Fatalf("SQL = %q, want %q", got.SQL, want)
	}
}

func TestSanitizeStripsInlineAndBlockComments(t *testing.T) {
	tests := map[string]string{
		"SQLQuery: SELECT 1 -- the answer":                             "SELECT 1;",
		"SQLQuery: SELECT /* count */ COUNT(*) FROM STUDENT":            "SELECT   COUNT(*) FROM STUDENT;",
		"SQLQuery: SELECT '--not a comment' AS s -- trailing":          "SELECT '--not a comment' AS s;",
		"SQLQuery: SELECT \"a/*b\" FROM t":                             "SELECT \"a/*b\" FROM t;",
		"SQLQuery: ```sql\n/* top\n students */\nSELECT 2; -- done\n```": "SELECT 2;",
	}
	for raw, want := range tests {
		if got := Sanitize(raw).SQL; got != want {
			t.Fatalf("Sanitize(%q).SQL = %q, want %q", raw, got, want)
		}
	}
}

func TestSanitizeDropsCommentLines(t *testing.T) {
	got := Sanitize("SQLQuery: ```sql -- top students\nSELECT 1```")
	if strings.Contains(got.SQL, "--") {
		t.Fatalf("SQL still has comment: %q", got.SQL)
	}
}

func TestSanitizeWithoutMarkerIsNotExecutableProse(t *testing.T) {
	got := Sanitize("I could not find a table that matches your question.")
	if got.MarkerFound {
		t.Fatal("MarkerFound = true")
	}
	if got.Executable() {
		t.Fatalf("prose should not be executable: %q", got.SQL)
	}
}

func TestSanitizeEmptyInput(t *testing.T) {
	got := Sanitize("SQLQuery: ;")
	if got.SQL != ";" {
		t.Fatalf("SQL = %q", got.SQL)
	}
	if !got.Empty() || got.Executable() {
		t.Fatalf("empty query flagged wrong: %#v", got)
	}
}

func TestSanitizeAlwaysEndsWithSingleSemicolonAndNoFences(t *testing.T) {
	inputs := []string{
		"SQLQuery: SELECT * FROM STUDENT",
		"SQLQuery: SELECT * FROM STUDENT;;;",
		"SQLQuery: ```SELECT * FROM STUDENT```",
		"SQLQuery: ```sql SELECT * FROM STUDENT;``` Let's run this query",
		"Reasoning...\nSQLQuery: ```postgresql\nSELECT 2\n```",
		"SQLQuery: SELECT \"CLASS\", AVG(\"MARKS\") FROM STUDENT GROUP BY \"CLASS\" ;  \nAnswer: done",
	}
	for _, input := range inputs {
		got := Sanitize(input).SQL
		if !strings.HasSuffix(got, ";") || strings.HasSuffix(got, ";;") {
			t.Fatalf("Sanitize(%q) = %q, want exactly one trailing semicolon", input, got)
		}
		if strings.Contains(got, "```") {
			t.Fatalf("Sanitize(%q) = %q still contains a fence", input, got)
		}
	}
}

func TestIsReadOnly(t *testing.T) {
	allowed := []string{
		"SELECT 1;",
		"  with t as (select 1) select * from t",
		"(SELECT 1)",
		"SELECT ';' AS s;",
		"PRAGMA table_info('STUDENT')",
	}
	for _, sqlText := range allowed {
		if !IsReadOnly(sqlText) {
			t.Fatalf("IsReadOnly(%q) = false", sqlText)
		}
	}
	rejected := []string{
		"",
		";",
		"DELETE FROM STUDENT;",
		"SELECT 1; DROP TABLE STUDENT;",
		"selected",
	}
	for _, sqlText := range rejected {
		if IsReadOnly(sqlText) {
			t.Fatalf("IsReadOnly(%q) = true", sqlText)
		}
	}
}
