package scanstore

import (
	"path/filepath"
	"reflect"
	"testing"
)

func TestRecordAndQuery(t *testing.T) {
	s, err := Open(filepath.Join(t.TempDir(), "scan.db"))
	if err != nil {
		t.Fatal(err)
	}
	defer s.Close()

	in := []string{
		"120.80.13.5:4022",
		"120.80.13.9:8888", // same /24, new port
		"113.68.2.1:4022",  // duplicate port, new segment
		"not-an-endpoint",  // skipped
	}
	if err := s.RecordEndpoints(in); err != nil {
		t.Fatal(err)
	}

	segs, err := s.Segments()
	if err != nil {
		t.Fatal(err)
	}
	wantSegs := []string{"113.68.2.0/24", "120.80.13.0/24"}
	if !reflect.DeepEqual(segs, wantSegs) {
		t.Errorf("Segments = %v, want %v", segs, wantSegs)
	}

	ports, err := s.Ports()
	if err != nil {
		t.Fatal(err)
	}
	wantPorts := []int{4022, 8888}
	if !reflect.DeepEqual(ports, wantPorts) {
		t.Errorf("Ports = %v, want %v", ports, wantPorts)
	}
}

func TestRecord_idempotent(t *testing.T) {
	s, err := Open(filepath.Join(t.TempDir(), "scan.db"))
	if err != nil {
		t.Fatal(err)
	}
	defer s.Close()

	for i := 0; i < 2; i++ {
		if err := s.RecordEndpoints([]string{"120.80.13.5:4022"}); err != nil {
			t.Fatal(err)
		}
	}
	segs, _ := s.Segments()
	ports, _ := s.Ports()
	if len(segs) != 1 || len(ports) != 1 {
		t.Errorf("segments=%v ports=%v, want one each", segs, ports)
	}
}

func TestNilStoreIsInert(t *testing.T) {
	var s *Store
	if err := s.RecordEndpoints([]string{"1.1.1.1:1"}); err != nil {
		t.Errorf("nil RecordEndpoints: %v", err)
	}
	if segs, err := s.Segments(); err != nil || segs != nil {
		t.Errorf("nil Segments: %v %v", segs, err)
	}
	if ports, err := s.Ports(); err != nil || ports != nil {
		t.Errorf("nil Ports: %v %v", ports, err)
	}
	if err := s.Close(); err != nil {
		t.Errorf("nil Close: %v", err)
	}
}
