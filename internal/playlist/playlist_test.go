package playlist

import (
	"os"
	"path/filepath"
	"reflect"
	"testing"

	"github.com/JE668/get-m3u/internal/template"
)

func TestAssemble_crossProduct(t *testing.T) {
	endpoints := []string{"120.1.2.3:8080", "120.1.2.5:4022"}
	entries := []template.Entry{
		{Name: "CCTV1", Locator: "rtp://239.1.1.1:1234"},
		{Name: "CCTV2", Locator: "udp://239.1.1.2:1234"},
		{Name: "CCTV3", Locator: "rtp://239.1.1.3:1234"},
	}
	got := Assemble(endpoints, entries)
	if len(got) != 6 {
		t.Fatalf("len = %d, want 6", len(got))
	}
	// The relay path is /udp/ no matter which scheme the locator carries.
	if got[0].URL != "http://120.1.2.3:8080/udp/239.1.1.1:1234" {
		t.Errorf("URL[0] = %q", got[0].URL)
	}
	if got[1].URL != "http://120.1.2.3:8080/udp/239.1.1.2:1234" {
		t.Errorf("URL[1] = %q", got[1].URL)
	}
	if got[3].Name != "CCTV1" || got[3].URL != "http://120.1.2.5:4022/udp/239.1.1.1:1234" {
		t.Errorf("entry[3] = %+v", got[3])
	}
}

func TestAssemble_singleEndpoint(t *testing.T) {
	got := Assemble([]string{"120.1.2.3:8080"}, []template.Entry{{Name: "CCTV1", Locator: "rtp://239.1.1.1:1234"}})
	want := []Entry{{Name: "CCTV1", URL: "http://120.1.2.3:8080/udp/239.1.1.1:1234"}}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("Assemble = %v, want %v", got, want)
	}
}

func TestAssemble_emptyInputs(t *testing.T) {
	if got := Assemble(nil, []template.Entry{{Name: "x", Locator: "rtp://a"}}); len(got) != 0 {
		t.Errorf("no endpoints: %v", got)
	}
	if got := Assemble([]string{"1.1.1.1:1"}, nil); len(got) != 0 {
		t.Errorf("no template: %v", got)
	}
}

func TestWriteBoth_emptyLeavesFilesUntouched(t *testing.T) {
	dir := t.TempDir()
	ref := filepath.Join(dir, "ref.txt")
	work := filepath.Join(dir, "work.txt")
	prev := "CCTV1,http://1.2.3.4:80/rtp/239.1.1.1:1234\n"
	os.WriteFile(ref, []byte(prev), 0o644)
	os.WriteFile(work, []byte(prev), 0o644)

	if err := WriteBoth(ref, work, nil); err != nil {
		t.Fatal(err)
	}
	for _, p := range []string{ref, work} {
		data, _ := os.ReadFile(p)
		if string(data) != prev {
			t.Errorf("%s modified by empty write: %q", p, data)
		}
	}
}

func TestWriteBoth_roundTrip(t *testing.T) {
	dir := t.TempDir()
	ref := filepath.Join(dir, "ref.txt")
	work := filepath.Join(dir, "work.txt")
	entries := []Entry{
		{Name: "CCTV1", URL: "http://1.2.3.4:80/rtp/239.1.1.1:1234"},
		{Name: "CCTV2", URL: "http://1.2.3.4:80/rtp/239.1.1.2:1234"},
	}
	if err := WriteBoth(ref, work, entries); err != nil {
		t.Fatal(err)
	}
	gotRef, err := Load(ref)
	if err != nil {
		t.Fatal(err)
	}
	gotWork, err := Load(work)
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(gotRef, entries) || !reflect.DeepEqual(gotWork, entries) {
		t.Errorf("round trip: ref=%v work=%v", gotRef, gotWork)
	}
}

func TestWriteWorking_prunedAndSorted(t *testing.T) {
	dir := t.TempDir()
	work := filepath.Join(dir, "work.txt")
	entries := []Entry{
		{Name: "ZTV", URL: "http://1.1.1.1:1/rtp/z"},
		{Name: "ATV", URL: "http://1.1.1.1:1/rtp/a"},
	}
	if err := WriteWorking(work, entries); err != nil {
		t.Fatal(err)
	}
	got, _ := Load(work)
	if len(got) != 2 || got[0].Name != "ATV" {
		t.Errorf("working playlist not sorted: %v", got)
	}
	// Pruning to empty rewrites the file as empty.
	if err := WriteWorking(work, nil); err != nil {
		t.Fatal(err)
	}
	data, _ := os.ReadFile(work)
	if len(data) != 0 {
		t.Errorf("empty prune left content: %q", data)
	}
}

func TestParseLine(t *testing.T) {
	e, ok := ParseLine("CCTV1,http://1.2.3.4:80/rtp/x")
	if !ok || e.Name != "CCTV1" || e.URL != "http://1.2.3.4:80/rtp/x" {
		t.Errorf("ParseLine = %+v %v", e, ok)
	}
	if _, ok := ParseLine("no-comma-here"); ok {
		t.Error("ParseLine accepted a line without a comma")
	}
}
