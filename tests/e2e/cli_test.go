package e2e_test

import (
	"bytes"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"testing"
	"time"

	"github.com/rogpeppe/go-internal/testscript"
)

var (
	binaryPath string
	buildOnce  sync.Once
	buildErr   error
)

// buildBinary builds the aoaisim binary once for all testscript tests.
func buildBinary(t *testing.T) string {
	t.Helper()
	buildOnce.Do(func() {
		binaryPath = filepath.Join(os.TempDir(), "aoaisim")
		buildCmd := exec.Command("go", "build", "-o", binaryPath, "../../cmd/aoaisim")
		if out, err := buildCmd.CombinedOutput(); err != nil {
			buildErr = err
			t.Logf("Failed to build CLI: %v\n%s", err, out)
		}
	})
	if buildErr != nil {
		t.Fatal(buildErr)
	}
	return binaryPath
}

func TestCLIScripts(t *testing.T) {
	bin := buildBinary(t)

	testscript.Run(t, testscript.Params{
		Dir: "testdata",
		Setup: func(env *testscript.Env) error {
			binDir := filepath.Dir(bin)
			env.Setenv("PATH", binDir+string(os.PathListSeparator)+env.Getenv("PATH"))
			return nil
		},
	})
}

// TestServeLifecycle starts the real binary, talks to it over HTTP, and
// checks that SIGTERM shuts it down cleanly.
func TestServeLifecycle(t *testing.T) {
	bin := buildBinary(t)
	port := getFreePort(t)

	var out bytes.Buffer
	cmd := exec.Command(bin, "serve",
		"--host", "127.0.0.1",
		"--port", strconv.Itoa(port),
		"--print-url",
		"--api-key", "e2e-key")
	cmd.Stdout = &out
	cmd.Stderr = &out
	if err := cmd.Start(); err != nil {
		t.Fatalf("failed to start server: %v", err)
	}
	defer cmd.Process.Kill()

	baseURL := fmt.Sprintf("http://127.0.0.1:%d", port)
	waitForServer(t, baseURL+"/")

	// A valid key gets a generated completion
	resp := postCompletion(t, baseURL, "e2e-key")
	if resp.StatusCode != http.StatusOK {
		t.Errorf("completion status = %d, want 200", resp.StatusCode)
	}
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	if !strings.Contains(string(body), "chat.completion") {
		t.Errorf("completion body = %.100s", body)
	}

	// A wrong key is rejected
	resp = postCompletion(t, baseURL, "wrong-key")
	resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("bad-key status = %d, want 401", resp.StatusCode)
	}

	// SIGTERM stops the server gracefully
	if err := cmd.Process.Signal(syscall.SIGTERM); err != nil {
		t.Fatalf("failed to signal server: %v", err)
	}
	done := make(chan error, 1)
	go func() { done <- cmd.Wait() }()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("serve exited with error: %v\noutput:\n%s", err, out.String())
		}
	case <-time.After(10 * time.Second):
		t.Error("server did not exit within 10s of SIGTERM")
	}

	if !strings.Contains(out.String(), "Server stopped") {
		t.Errorf("expected a shutdown message in output:\n%s", out.String())
	}
	if !strings.Contains(out.String(), baseURL) {
		t.Errorf("--print-url output missing %s:\n%s", baseURL, out.String())
	}
}

func postCompletion(t *testing.T, baseURL, apiKey string) *http.Response {
	t.Helper()
	url := baseURL + "/openai/deployments/e2e-test/chat/completions?api-version=2024-02-01"
	req, err := http.NewRequest(http.MethodPost, url,
		strings.NewReader(`{"messages":[{"role":"user","content":"Hello"}],"max_tokens":16}`))
	if err != nil {
		t.Fatalf("failed to build request: %v", err)
	}
	req.Header.Set("api-key", apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("completion request failed: %v", err)
	}
	return resp
}

func getFreePort(t *testing.T) int {
	t.Helper()
	l, err := net.Listen("tcp", "localhost:0")
	if err != nil {
		t.Fatalf("failed to get port: %v", err)
	}
	defer l.Close()
	return l.Addr().(*net.TCPAddr).Port
}

func waitForServer(t *testing.T, url string) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		resp, err := http.Get(url)
		if err == nil {
			resp.Body.Close()
			if resp.StatusCode == 200 {
				return
			}
		}
		time.Sleep(100 * time.Millisecond)
	}
	t.Fatalf("server at %s never became healthy", url)
}

// TestMain acts as the main entrypoint. Testscript requires its own Main wrapper.
func TestMain(m *testing.M) {
	defer func() {
		if binaryPath != "" {
			os.Remove(binaryPath)
		}
	}()

	os.Exit(testscript.RunMain(m, nil))
}
