package config

import "testing"

func TestParseCredentials(t *testing.T) {
	creds, err := parseCredentials("key1:pharmacist-1:ph-1:A. Diallo, key2:pharmacist-2:ph-2")
	if err != nil {
		t.Fatal(err)
	}
	if len(creds) != 2 {
		t.Fatalf("credentials = %d, want 2", len(creds))
	}
	first := creds[0]
	if first.APIKey != "key1" || first.PharmacistID != "pharmacist-1" || first.PharmacyID != "ph-1" || first.Name != "A. Diallo" {
		t.Errorf("first = %+v", first)
	}
	if creds[1].Name != "" {
		t.Errorf("name = %q, want empty when omitted", creds[1].Name)
	}
}

func TestParseCredentialsRejectsShortEntries(t *testing.T) {
	if _, err := parseCredentials("key1:pharmacist-1"); err == nil {
		t.Fatal("expected error for entry without pharmacy")
	}
}

func TestParseCredentialsEmpty(t *testing.T) {
	creds, err := parseCredentials("")
	if err != nil {
		t.Fatal(err)
	}
	if creds != nil {
		t.Errorf("creds = %v, want nil", creds)
	}
}
