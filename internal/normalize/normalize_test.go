package normalize

import (
	"testing"
	"time"
)

func TestPlaceholdersBecomeNull(t *testing.T) {
	for _, v := range []string{"", "  ", "NA", "n/a", "None", "NULL", "nil", "Unknown", "unspecified", "TBD", "NaN"} {
		if got, ok := Normalize(v, "string"); ok {
			t.Fatalf("Normalize(%q) = %q, want null", v, got)
		}
	}
}

func TestPhoneStripsToDigits(t *testing.T) {
	got, ok := Normalize("(555) 123-4567", "phone")
	if !ok || got != "5551234567" {
		t.Fatalf("phone = %q ok=%v", got, ok)
	}
	if _, ok := Normalize("ext.", "phone"); ok {
		t.Fatalf("phone with no digits should be null")
	}
}

func TestPhoneIsIdempotent(t *testing.T) {
	once, _ := Normalize("+1 (555) 123-4567", "phone")
	twice, _ := Normalize(once, "phone")
	if once != twice {
		t.Fatalf("phone not stable: %q vs %q", once, twice)
	}
}

func TestZipTakesFirstFiveDigits(t *testing.T) {
	got, ok := Normalize("90210-1234", "zip")
	if !ok || got != "90210" {
		t.Fatalf("zip = %q ok=%v", got, ok)
	}
}

func TestStatePassesThroughUppercased(t *testing.T) {
	got, ok := Normalize(" ca ", "state")
	if !ok || got != "CA" {
		t.Fatalf("state = %q ok=%v", got, ok)
	}
	// Longer strings are not rejected.
	got, ok = Normalize("California", "state")
	if !ok || got != "CALIFORNIA" {
		t.Fatalf("state = %q ok=%v", got, ok)
	}
}

func TestEmailRequiresAtAndDot(t *testing.T) {
	got, ok := Normalize(" Jane@Example.COM ", "email")
	if !ok || got != "jane@example.com" {
		t.Fatalf("email = %q ok=%v", got, ok)
	}
	for _, bad := range []string{"jane.example.com", "jane@example"} {
		if _, ok := Normalize(bad, "email"); ok {
			t.Fatalf("email %q should be null", bad)
		}
	}
}

func TestDateLayouts(t *testing.T) {
	cases := []struct{ in, want string }{
		{"2023-04-15", "2023-04-15"},
		{"04/15/2023", "2023-04-15"},
		{"04-15-2023", "2023-04-15"},
		{"2023/04/15", "2023-04-15"},
		{"20230415", "2023-04-15"},
	}
	for _, c := range cases {
		got, ok := Normalize(c.in, "date")
		if !ok || got != c.want {
			t.Fatalf("date(%q) = %q ok=%v, want %q", c.in, got, ok, c.want)
		}
	}
	if _, ok := Normalize("not a date", "date"); ok {
		t.Fatalf("garbage date should be null")
	}
}

func TestDatetimeTarget(t *testing.T) {
	got, ok := Normalize("2023-04-15 09:30:00", "datetime")
	if !ok || got != "2023-04-15 09:30:00" {
		t.Fatalf("datetime = %q ok=%v", got, ok)
	}
	got, ok = Normalize("2023-04-15", "datetime")
	if !ok || got != "2023-04-15 00:00:00" {
		t.Fatalf("datetime from date = %q ok=%v", got, ok)
	}
}

func TestUnknownTagTrimsOnly(t *testing.T) {
	got, ok := Normalize("  hello world  ", "mystery_tag")
	if !ok || got != "hello world" {
		t.Fatalf("unknown tag = %q ok=%v", got, ok)
	}
}

func TestCurrencyStripsPunctuation(t *testing.T) {
	got, ok := Normalize("$1,250,000.50", "currency")
	if !ok || got != "1250000.50" {
		t.Fatalf("currency = %q ok=%v", got, ok)
	}
}

func TestCodePassThrough(t *testing.T) {
	got, ok := Normalize("7372", "sic_code")
	if !ok || got != "7372" {
		t.Fatalf("sic = %q ok=%v", got, ok)
	}
	got, ok = Normalize("SVC", "sic_code")
	if !ok || got != "SVC" {
		t.Fatalf("sic fallback = %q ok=%v", got, ok)
	}
}

func TestDerivePhoneClean(t *testing.T) {
	got, ok := DerivePhoneClean("(555) 123-4567")
	if !ok || got != "5551234567" {
		t.Fatalf("DerivePhoneClean = %q ok=%v", got, ok)
	}
}

var ref = time.Date(2024, time.June, 15, 0, 0, 0, 0, time.UTC)

func TestDurationToDate(t *testing.T) {
	cases := []struct{ in, want string }{
		{"10 years", ref.AddDate(0, 0, -10*365).Format("2006-01-02")},
		{"36+ months", ref.AddDate(0, 0, -36*30).Format("2006-01-02")},
		{"2yrs in business", ref.AddDate(0, 0, -2*365).Format("2006-01-02")},
		{"5", ref.AddDate(0, 0, -5*365).Format("2006-01-02")},
		{"36", ref.AddDate(0, 0, -36*30).Format("2006-01-02")},
	}
	for _, c := range cases {
		got, ok := DurationToDate(c.in, ref)
		if !ok || got != c.want {
			t.Fatalf("DurationToDate(%q) = %q ok=%v, want %q", c.in, got, ok, c.want)
		}
	}
	if _, ok := DurationToDate("forever", ref); ok {
		t.Fatalf("non-numeric duration should be null")
	}
	if _, ok := DurationToDate("n/a", ref); ok {
		t.Fatalf("placeholder duration should be null")
	}
}

func TestTimeInBusinessToDate(t *testing.T) {
	got, ok := TimeInBusinessToDate("04/15/2019", ref)
	if !ok || got != "2019-04-15" {
		t.Fatalf("TIB date = %q ok=%v", got, ok)
	}
	got, ok = TimeInBusinessToDate("7", ref)
	if !ok || got != "2017-01-01" {
		t.Fatalf("TIB years = %q ok=%v", got, ok)
	}
	got, ok = TimeInBusinessToDate("10 years", ref)
	if !ok || got != ref.AddDate(0, 0, -10*365).Format("2006-01-02") {
		t.Fatalf("TIB duration fallback = %q ok=%v", got, ok)
	}
	if _, ok := TimeInBusinessToDate("n/a", ref); ok {
		t.Fatalf("TIB placeholder should be null")
	}
}
