package store

import (
	"os"
	"path/filepath"
	"testing"
)

func openTest(t *testing.T) *Store {
	t.Helper()
	dir := t.TempDir()
	s, err := Open("", dir)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestOpenCreatesSqliteFileUnderDataDir(t *testing.T) {
	dir := t.TempDir()
	s, err := Open("", dir)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer s.Close()

	if _, err := os.Stat(filepath.Join(dir, "sandboxkit.db")); err != nil {
		t.Fatalf("expected sqlite file under data dir: %v", err)
	}
}

func TestSaveAndGetDefaultSession(t *testing.T) {
	s := openTest(t)

	if id, err := s.GetDefaultSession("sbx1"); err != nil || id != "" {
		t.Fatalf("GetDefaultSession on empty store = (%q, %v)", id, err)
	}

	if err := s.SaveDefaultSession("sbx1", "sandbox-sbx1", "sandboxkit.test"); err != nil {
		t.Fatalf("SaveDefaultSession: %v", err)
	}
	id, err := s.GetDefaultSession("sbx1")
	if err != nil {
		t.Fatalf("GetDefaultSession: %v", err)
	}
	if id != "sandbox-sbx1" {
		t.Errorf("id = %q, want sandbox-sbx1", id)
	}

	// Saving again for the same sandbox id updates in place rather than
	// creating a second row.
	if err := s.SaveDefaultSession("sbx1", "sandbox-sbx1-renamed", "sandboxkit.test"); err != nil {
		t.Fatalf("SaveDefaultSession (update): %v", err)
	}
	id, err = s.GetDefaultSession("sbx1")
	if err != nil {
		t.Fatalf("GetDefaultSession: %v", err)
	}
	if id != "sandbox-sbx1-renamed" {
		t.Errorf("id = %q, want sandbox-sbx1-renamed", id)
	}
}

func TestRecordPortGrantIncrementsGeneration(t *testing.T) {
	s := openTest(t)

	gen, err := s.RecordPortGrant("sbx1", 8080, "web")
	if err != nil {
		t.Fatalf("RecordPortGrant: %v", err)
	}
	if gen != 1 {
		t.Errorf("first generation = %d, want 1", gen)
	}

	gen, err = s.RecordPortGrant("sbx1", 8080, "web")
	if err != nil {
		t.Fatalf("RecordPortGrant: %v", err)
	}
	if gen != 2 {
		t.Errorf("second generation = %d, want 2", gen)
	}

	grants, err := s.ListPortGrants("sbx1")
	if err != nil {
		t.Fatalf("ListPortGrants: %v", err)
	}
	if len(grants) != 1 {
		t.Fatalf("len(grants) = %d, want 1", len(grants))
	}
	if grants[0].Generation != 2 {
		t.Errorf("grants[0].Generation = %d, want 2", grants[0].Generation)
	}
}

func TestDeletePortGrant(t *testing.T) {
	s := openTest(t)

	if _, err := s.RecordPortGrant("sbx1", 8080, "web"); err != nil {
		t.Fatalf("RecordPortGrant: %v", err)
	}
	if err := s.DeletePortGrant("sbx1", 8080); err != nil {
		t.Fatalf("DeletePortGrant: %v", err)
	}
	grants, err := s.ListPortGrants("sbx1")
	if err != nil {
		t.Fatalf("ListPortGrants: %v", err)
	}
	if len(grants) != 0 {
		t.Errorf("len(grants) = %d, want 0", len(grants))
	}
}

func TestPortGrantsAreScopedPerSandbox(t *testing.T) {
	s := openTest(t)

	if _, err := s.RecordPortGrant("sbx1", 8080, "web"); err != nil {
		t.Fatalf("RecordPortGrant: %v", err)
	}
	if _, err := s.RecordPortGrant("sbx2", 8080, "web"); err != nil {
		t.Fatalf("RecordPortGrant: %v", err)
	}

	grants, err := s.ListPortGrants("sbx1")
	if err != nil {
		t.Fatalf("ListPortGrants: %v", err)
	}
	if len(grants) != 1 {
		t.Fatalf("len(grants) = %d, want 1", len(grants))
	}
}
