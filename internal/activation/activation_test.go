package activation

import (
	"fmt"
	"os"
	"strconv"
	"testing"
)

func envOf(vars map[string]string) func(string) string {
	return func(key string) string { return vars[key] }
}

func TestCount(t *testing.T) {
	const pid = 4242

	tests := []struct {
		name    string
		env     map[string]string
		want    int
		wantErr bool
	}{
		{name: "no environment", env: nil, want: 0},
		{name: "wrong pid", env: map[string]string{"LISTEN_PID": "99999", "LISTEN_FDS": "1"}, want: 0},
		{name: "invalid pid", env: map[string]string{"LISTEN_PID": "not-a-number", "LISTEN_FDS": "1"}, wantErr: true},
		{name: "invalid fds", env: map[string]string{"LISTEN_PID": "4242", "LISTEN_FDS": "not-a-number"}, wantErr: true},
		{name: "missing fds", env: map[string]string{"LISTEN_PID": "4242"}, want: 0},
		{name: "zero fds", env: map[string]string{"LISTEN_PID": "4242", "LISTEN_FDS": "0"}, want: 0},
		{name: "negative fds", env: map[string]string{"LISTEN_PID": "4242", "LISTEN_FDS": "-2"}, want: 0},
		{name: "two fds", env: map[string]string{"LISTEN_PID": "4242", "LISTEN_FDS": "2"}, want: 2},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := count(envOf(tt.env), pid)
			if (err != nil) != tt.wantErr {
				t.Fatalf("count() error = %v, wantErr %v", err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("count() = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestListeners_NotActivated(t *testing.T) {
	t.Setenv("LISTEN_PID", "")
	t.Setenv("LISTEN_FDS", "")

	listeners, err := Listeners()
	if err != nil {
		t.Fatalf("Listeners() unexpected error: %v", err)
	}
	if listeners != nil {
		t.Errorf("expected nil listeners, got %v", listeners)
	}
}

func TestListeners_InvalidEnvironment(t *testing.T) {
	t.Setenv("LISTEN_PID", strconv.Itoa(os.Getpid()))
	t.Setenv("LISTEN_FDS", "many")

	if _, err := Listeners(); err == nil {
		t.Error("expected error for invalid LISTEN_FDS, got nil")
	}
}

func TestListen_FallsBackToAddress(t *testing.T) {
	t.Setenv("LISTEN_PID", "")

	listener, activated, err := Listen("127.0.0.1:0")
	if err != nil {
		t.Fatalf("Listen() unexpected error: %v", err)
	}
	defer func() {
		_ = listener.Close()
	}()

	if activated {
		t.Error("expected a fresh listener without socket activation")
	}
	if listener.Addr().String() == "127.0.0.1:0" {
		t.Errorf("expected a bound port, got %s", listener.Addr())
	}
}

func TestListen_InvalidAddress(t *testing.T) {
	t.Setenv("LISTEN_PID", "")

	if _, _, err := Listen("not an address"); err == nil {
		t.Error("expected error for an invalid address")
	}
}

// Example demonstrates how socket activation detection works
func ExampleListeners() {
	listeners, err := Listeners()
	if err != nil {
		fmt.Printf("Error: %v\n", err)
		return
	}

	if listeners == nil {
		fmt.Println("No socket activation detected")
	} else {
		fmt.Printf("Received %d systemd socket(s)\n", len(listeners))
	}
}
