package template

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
)

func TestParse_playlistForm(t *testing.T) {
	doc := `#EXTM3U
#EXTINF:-1 tvg-id="cctv1",CCTV1
rtp://239.1.1.1:1234
#EXTINF:-1,CCTV2
udp://239.1.1.2:1234
# comment
http://example.com/ignored.m3u8
`
	got, err := parse(strings.NewReader(doc))
	if err != nil {
		t.Fatal(err)
	}
	want := []Entry{
		{Name: "CCTV1", Locator: "rtp://239.1.1.1:1234"},
		{Name: "CCTV2", Locator: "udp://239.1.1.2:1234"},
	}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("parse = %v, want %v", got, want)
	}
}

func TestParse_flatForm(t *testing.T) {
	doc := "CCTV1,rtp://239.1.1.1:1234\nbadline\nCCTV2,udp://239.1.1.2:1234\nCCTV3,http://not-multicast\n"
	got, err := parse(strings.NewReader(doc))
	if err != nil {
		t.Fatal(err)
	}
	want := []Entry{
		{Name: "CCTV1", Locator: "rtp://239.1.1.1:1234"},
		{Name: "CCTV2", Locator: "udp://239.1.1.2:1234"},
	}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("parse = %v, want %v", got, want)
	}
}

func TestSuffix(t *testing.T) {
	if Suffix("rtp://239.1.1.1:1234") != "239.1.1.1:1234" {
		t.Error("Suffix rtp")
	}
	if Suffix("udp://239.1.1.2:1234") != "239.1.1.2:1234" {
		t.Error("Suffix udp")
	}
	if Suffix("no-scheme") != "no-scheme" {
		t.Error("Suffix passthrough")
	}
}

func TestRefresh_firstWriterWins(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/a":
			w.Write([]byte("CCTV1,rtp://239.1.1.1:1234\n"))
		case "/b":
			// Same locator under a different name: must not replace the first.
			w.Write([]byte("CCTV-One,rtp://239.1.1.1:1234\nCCTV2,rtp://239.1.1.2:1234\n"))
		}
	}))
	defer srv.Close()

	path := filepath.Join(t.TempDir(), "rtp.txt")
	s := &Store{Path: path, Upstreams: []string{srv.URL + "/a", srv.URL + "/b"}, Client: srv.Client()}
	if err := s.Refresh(context.Background()); err != nil {
		t.Fatal(err)
	}
	got, err := s.Load()
	if err != nil {
		t.Fatal(err)
	}
	want := []Entry{
		{Name: "CCTV1", Locator: "rtp://239.1.1.1:1234"},
		{Name: "CCTV2", Locator: "rtp://239.1.1.2:1234"},
	}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("Load after Refresh = %v, want %v", got, want)
	}
}

func TestRefresh_partialUpstreamFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/bad" {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.Write([]byte("CCTV1,rtp://239.1.1.1:1234\n"))
	}))
	defer srv.Close()

	path := filepath.Join(t.TempDir(), "rtp.txt")
	s := &Store{Path: path, Upstreams: []string{srv.URL + "/bad", srv.URL + "/ok"}, Client: srv.Client()}
	if err := s.Refresh(context.Background()); err != nil {
		t.Fatal(err)
	}
	got, _ := s.Load()
	if len(got) != 1 || got[0].Name != "CCTV1" {
		t.Errorf("Load = %v", got)
	}
}

func TestRefresh_allFailKeepsExisting(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	path := filepath.Join(t.TempDir(), "rtp.txt")
	prev := "CCTV9,rtp://239.9.9.9:1234\n"
	os.WriteFile(path, []byte(prev), 0o644)

	s := &Store{Path: path, Upstreams: []string{srv.URL}, Client: srv.Client()}
	if err := s.Refresh(context.Background()); err != nil {
		t.Fatalf("Refresh should retain existing table, got %v", err)
	}
	data, _ := os.ReadFile(path)
	if string(data) != prev {
		t.Errorf("existing table modified: %q", data)
	}
}

func TestRefresh_allFailNoExisting(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	s := &Store{Path: filepath.Join(t.TempDir(), "rtp.txt"), Upstreams: []string{srv.URL}, Client: srv.Client()}
	if err := s.Refresh(context.Background()); err == nil {
		t.Error("want error when all upstreams fail and no table exists")
	}
}

func TestLoad_missing(t *testing.T) {
	s := &Store{Path: filepath.Join(t.TempDir(), "absent.txt")}
	_, err := s.Load()
	if !errors.Is(err, os.ErrNotExist) {
		t.Errorf("Load missing: err = %v, want wrapped os.ErrNotExist", err)
	}
}
