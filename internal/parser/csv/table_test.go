package csv

import (
	"strings"
	"testing"
)

func TestReadBasicTable(t *testing.T) {
	in := "Biz Name,Phone,State\nAcme Inc,555-1234,CA\nGlobex,555-9999,NY\n"
	tbl, err := Read(strings.NewReader(in))
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if tbl.Len() != 2 {
		t.Fatalf("Len = %d", tbl.Len())
	}
	if len(tbl.Headers) != 3 || tbl.Headers[0] != "Biz Name" {
		t.Fatalf("Headers = %v", tbl.Headers)
	}
	col := tbl.Column("Phone")
	if len(col) != 2 || col[0] != "555-1234" || col[1] != "555-9999" {
		t.Fatalf("Column(Phone) = %v", col)
	}
}

func TestReadStripsBOMAndTrimsHeaders(t *testing.T) {
	in := "\ufeff Biz Name , Phone \nAcme,555\n"
	tbl, err := Read(strings.NewReader(in))
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if tbl.Headers[0] != "Biz Name" || tbl.Headers[1] != "Phone" {
		t.Fatalf("Headers = %v", tbl.Headers)
	}
}

func TestReadPadsShortRows(t *testing.T) {
	in := "a,b,c\n1,2\n"
	tbl, err := Read(strings.NewReader(in))
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if got := tbl.Column("c"); len(got) != 1 || got[0] != "" {
		t.Fatalf("Column(c) = %v", got)
	}
}

func TestReadEmptyInputIsError(t *testing.T) {
	if _, err := Read(strings.NewReader("")); err == nil {
		t.Fatalf("want error on empty input")
	}
}

func TestColumnUnknownHeader(t *testing.T) {
	tbl, err := Read(strings.NewReader("a\n1\n"))
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if got := tbl.Column("missing"); got != nil {
		t.Fatalf("Column(missing) = %v", got)
	}
}

func TestAddColumn(t *testing.T) {
	tbl, err := Read(strings.NewReader("first,last\nJane,Doe\nJohn,Roe\n"))
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	tbl.AddColumn("owner_name", []string{"Jane Doe", "John Roe"})
	got := tbl.Column("owner_name")
	if len(got) != 2 || got[0] != "Jane Doe" || got[1] != "John Roe" {
		t.Fatalf("Column(owner_name) = %v", got)
	}
}
