package registry

import (
	"errors"
	"strings"
	"testing"
)

func TestRegistryCreate(t *testing.T) {
	r := New[string]()
	r.Register("echo", func(config map[string]string) (string, error) {
		return config["name"], nil
	})

	got, err := r.Create("echo", map[string]string{"name": "primary"})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if got != "primary" {
		t.Errorf("Create = %q, want %q", got, "primary")
	}
	if !r.Has("echo") {
		t.Error("Has(echo) = false")
	}
}

func TestRegistryUnknownKind(t *testing.T) {
	r := New[string]()
	r.Register("b", func(map[string]string) (string, error) { return "", nil })
	r.Register("a", func(map[string]string) (string, error) { return "", nil })

	_, err := r.Create("missing", nil)
	if err == nil {
		t.Fatal("expected error for unknown kind")
	}
	if !strings.Contains(err.Error(), "missing") {
		t.Errorf("error %q does not name the kind", err)
	}

	if got := strings.Join(r.List(), ","); got != "a,b" {
		t.Errorf("List = %q, want sorted a,b", got)
	}
}

func TestRegistryFactoryError(t *testing.T) {
	r := New[int]()
	boom := errors.New("no api key")
	r.Register("cloud", func(map[string]string) (int, error) { return 0, boom })

	if _, err := r.Create("cloud", nil); !errors.Is(err, boom) {
		t.Errorf("Create error = %v, want %v", err, boom)
	}
}

func TestRegistryDuplicatePanics(t *testing.T) {
	r := New[int]()
	r.Register("x", func(map[string]string) (int, error) { return 1, nil })

	defer func() {
		if recover() == nil {
			t.Error("expected panic on duplicate registration")
		}
	}()
	r.Register("x", func(map[string]string) (int, error) { return 2, nil })
}
