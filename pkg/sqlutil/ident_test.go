package sqlutil

import "testing"

func TestQuoteIdent(t *testing.T) {
	tests := []struct {
		driver string
		name   string
		want   string
		err    bool
	}{
		{"sqlite", "Results", "`Results`", false},
		{"mysql", "lab.Results", "`lab`.`Results`", false},
		{"pgx", "public.results", `"public"."results"`, false},
		{"sqlserver", "dbo.Results", "[dbo].[Results]", false},
		{"sqlite", "Results; DROP TABLE x", "", true},
		{"sqlite", "", "", true},
		{"sqlite", "a..b", "", true},
	}

	for _, tt := range tests {
		got, err := QuoteIdent(tt.driver, tt.name)
		if tt.err {
			if err == nil {
				t.Errorf("QuoteIdent(%q, %q) expected error", tt.driver, tt.name)
			}
			continue
		}
		if err != nil {
			t.Errorf("QuoteIdent(%q, %q) unexpected error: %v", tt.driver, tt.name, err)
			continue
		}
		if got != tt.want {
			t.Errorf("QuoteIdent(%q, %q) = %s; want %s", tt.driver, tt.name, got, tt.want)
		}
	}
}

func TestPlaceholder(t *testing.T) {
	if got := Placeholder("postgres", 2); got != "$2" {
		t.Errorf("expected $2, got %s", got)
	}
	if got := Placeholder("sqlserver", 1); got != "@p1" {
		t.Errorf("expected @p1, got %s", got)
	}
	if got := Placeholder("sqlite", 3); got != "?" {
		t.Errorf("expected ?, got %s", got)
	}
}

func TestSelectLimited(t *testing.T) {
	got := SelectLimited("sqlserver", "a", "[t]", "a DESC", 5)
	if got != "SELECT TOP (5) a FROM [t] ORDER BY a DESC" {
		t.Errorf("unexpected sqlserver query: %s", got)
	}
	got = SelectLimited("mysql", "a", "`t`", "a DESC", 5)
	if got != "SELECT a FROM `t` ORDER BY a DESC LIMIT 5" {
		t.Errorf("unexpected mysql query: %s", got)
	}
}

func TestSplitTable(t *testing.T) {
	s, tbl := SplitTable("dbo.Results")
	if s != "dbo" || tbl != "Results" {
		t.Errorf("got %q %q", s, tbl)
	}
	s, tbl = SplitTable("Results")
	if s != "" || tbl != "Results" {
		t.Errorf("got %q %q", s, tbl)
	}
}
