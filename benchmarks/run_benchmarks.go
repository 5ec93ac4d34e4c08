// Package main runs the simulator benchmarks and outputs results to JSON/Markdown.
// Run with: go run benchmarks/run_benchmarks.go
package main

import (
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"regexp"
	"runtime"
	"strconv"
	"strings"
	"time"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// BenchmarkResults holds all benchmark data
type BenchmarkResults struct {
	Timestamp   string           `json:"timestamp"`
	Environment Environment      `json:"environment"`
	Suites      map[string]Suite `json:"suites"`
	Summary     Summary          `json:"summary"`
}

type Environment struct {
	OS        string `json:"os"`
	Arch      string `json:"arch"`
	CPU       string `json:"cpu"`
	NumCPU    int    `json:"num_cpu"`
	GoVersion string `json:"go_version"`
}

type Suite struct {
	Benchmarks []Benchmark `json:"benchmarks"`
}

type Benchmark struct {
	Name        string  `json:"name"`
	NsPerOp     float64 `json:"ns_per_op"`
	OpsPerSec   float64 `json:"ops_per_sec"`
	BytesPerOp  int64   `json:"bytes_per_op"`
	AllocsPerOp int64   `json:"allocs_per_op"`
}

type Summary struct {
	Generate GenerateSummary `json:"generate"`
	Replay   ReplaySummary   `json:"replay"`
	Startup  StartupSummary  `json:"startup"`
}

type GenerateSummary struct {
	ChatOpsPerSec       float64 `json:"chat_ops_per_sec"`
	ChatLatencyNs       float64 `json:"chat_latency_ns"`
	ConcurrentOpsPerSec float64 `json:"concurrent_ops_per_sec"`
	Claim               string  `json:"claim"`
}

type ReplaySummary struct {
	HitOpsPerSec float64 `json:"hit_ops_per_sec"`
	HitLatencyNs float64 `json:"hit_latency_ns"`
	Claim        string  `json:"claim"`
}

type StartupSummary struct {
	ServerNs float64 `json:"server_ns"`
	Claim    string  `json:"claim"`
}

func main() {
	fmt.Println("==========================================")
	fmt.Println("   AOAISIM BENCHMARK SUITE")
	fmt.Println("==========================================")
	fmt.Println()

	results := BenchmarkResults{
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Environment: Environment{
			OS:        runtime.GOOS,
			Arch:      runtime.GOARCH,
			CPU:       getCPUInfo(),
			NumCPU:    runtime.NumCPU(),
			GoVersion: runtime.Version(),
		},
		Suites: make(map[string]Suite),
	}

	// Run benchmarks
	fmt.Println("Running generate pipeline benchmarks...")
	results.Suites["generate"] = Suite{Benchmarks: runBenchmarks("BenchmarkPipeline")}

	fmt.Println("Running replay benchmarks...")
	results.Suites["replay"] = Suite{Benchmarks: runBenchmarks("BenchmarkReplay")}

	fmt.Println("Running startup benchmarks...")
	results.Suites["startup"] = Suite{Benchmarks: runBenchmarks("BenchmarkServerStartup")}

	// Calculate summary
	results.Summary = calculateSummary(results.Suites)

	if err := os.MkdirAll("benchmarks/results", 0755); err != nil {
		fmt.Printf("Error creating results dir: %v\n", err)
		return
	}

	// Write JSON
	jsonPath := "benchmarks/results/latest.json"
	writeJSON(results, jsonPath)
	fmt.Printf("\nJSON results: %s\n", jsonPath)

	// Write Markdown
	mdPath := "benchmarks/results/LATEST.md"
	writeMarkdown(results, mdPath)
	fmt.Printf("Markdown results: %s\n", mdPath)

	// Print summary
	printSummary(results)
}

func getCPUInfo() string {
	if runtime.GOOS == "linux" {
		data, err := os.ReadFile("/proc/cpuinfo")
		if err == nil {
			lines := strings.Split(string(data), "\n")
			for _, line := range lines {
				if strings.HasPrefix(line, "model name") {
					parts := strings.SplitN(line, ":", 2)
					if len(parts) == 2 {
						return strings.TrimSpace(parts[1])
					}
				}
			}
		}
	}
	return "unknown"
}

func runBenchmarks(pattern string) []Benchmark {
	cmd := exec.Command("go", "test", "-bench="+pattern, "-benchtime=2s", "-benchmem", "./tests/performance/...")
	output, _ := cmd.CombinedOutput()

	return parseBenchmarkOutput(string(output))
}

func parseBenchmarkOutput(output string) []Benchmark {
	var benchmarks []Benchmark

	// Pattern: BenchmarkName-N    iterations    ns/op    bytes/op    allocs/op
	re := regexp.MustCompile(`(Benchmark[\w/]+)-\d+\s+(\d+)\s+([\d.]+)\s+ns/op\s+(\d+)\s+B/op\s+(\d+)\s+allocs/op`)

	matches := re.FindAllStringSubmatch(output, -1)
	for _, match := range matches {
		if len(match) >= 6 {
			nsPerOp, _ := strconv.ParseFloat(match[3], 64)
			bytesPerOp, _ := strconv.ParseInt(match[4], 10, 64)
			allocsPerOp, _ := strconv.ParseInt(match[5], 10, 64)

			opsPerSec := 0.0
			if nsPerOp > 0 {
				opsPerSec = 1e9 / nsPerOp
			}

			benchmarks = append(benchmarks, Benchmark{
				Name:        match[1],
				NsPerOp:     nsPerOp,
				OpsPerSec:   opsPerSec,
				BytesPerOp:  bytesPerOp,
				AllocsPerOp: allocsPerOp,
			})
		}
	}

	return benchmarks
}

func calculateSummary(suites map[string]Suite) Summary {
	summary := Summary{}

	if gen, ok := suites["generate"]; ok {
		for _, b := range gen.Benchmarks {
			if strings.Contains(b.Name, "ChatCompletion") && !strings.Contains(b.Name, "Concurrent") {
				summary.Generate.ChatOpsPerSec = b.OpsPerSec
				summary.Generate.ChatLatencyNs = b.NsPerOp
			}
			if strings.Contains(b.Name, "ConcurrentChatCompletions") {
				summary.Generate.ConcurrentOpsPerSec = b.OpsPerSec
			}
		}
		// Conservative claim: 80% of the measured single-goroutine rate
		summary.Generate.Claim = fmt.Sprintf("%.0fK+ req/s", summary.Generate.ChatOpsPerSec/1000*0.8)
	}

	if replay, ok := suites["replay"]; ok {
		for _, b := range replay.Benchmarks {
			if strings.Contains(b.Name, "Replay_Hit") && !strings.Contains(b.Name, "AmongMany") {
				summary.Replay.HitOpsPerSec = b.OpsPerSec
				summary.Replay.HitLatencyNs = b.NsPerOp
			}
		}
		summary.Replay.Claim = fmt.Sprintf("%.0fK+ replays/s", summary.Replay.HitOpsPerSec/1000*0.8)
	}

	if startup, ok := suites["startup"]; ok {
		for _, b := range startup.Benchmarks {
			if strings.Contains(b.Name, "ServerStartup") {
				summary.Startup.ServerNs = b.NsPerOp
			}
		}
		summary.Startup.Claim = fmt.Sprintf("<%.0fms startup", summary.Startup.ServerNs/1e6+1)
	}

	return summary
}

func writeJSON(results BenchmarkResults, path string) {
	data, err := json.MarshalIndent(results, "", "  ")
	if err != nil {
		fmt.Printf("Error marshaling JSON: %v\n", err)
		return
	}
	os.WriteFile(path, data, 0644)
}

func writeMarkdown(results BenchmarkResults, path string) {
	var sb strings.Builder

	sb.WriteString("# aoaisim Benchmark Results\n\n")
	sb.WriteString(fmt.Sprintf("**Generated**: %s\n\n", results.Timestamp))
	sb.WriteString("## Environment\n\n")
	sb.WriteString(fmt.Sprintf("- **OS**: %s/%s\n", results.Environment.OS, results.Environment.Arch))
	sb.WriteString(fmt.Sprintf("- **CPU**: %s (%d cores)\n", results.Environment.CPU, results.Environment.NumCPU))
	sb.WriteString(fmt.Sprintf("- **Go**: %s\n\n", results.Environment.GoVersion))

	sb.WriteString("## Summary\n\n")
	sb.WriteString("| Suite | Throughput | Latency | Claim |\n")
	sb.WriteString("|-------|------------|---------|-------|\n")
	sb.WriteString(fmt.Sprintf("| Generate (chat) | %.0f req/s | %.2fμs | %s |\n",
		results.Summary.Generate.ChatOpsPerSec,
		results.Summary.Generate.ChatLatencyNs/1000,
		results.Summary.Generate.Claim))
	sb.WriteString(fmt.Sprintf("| Replay hit | %.0f req/s | %.2fμs | %s |\n",
		results.Summary.Replay.HitOpsPerSec,
		results.Summary.Replay.HitLatencyNs/1000,
		results.Summary.Replay.Claim))
	sb.WriteString(fmt.Sprintf("| Startup | - | %.2fms (server) | %s |\n",
		results.Summary.Startup.ServerNs/1e6,
		results.Summary.Startup.Claim))
	sb.WriteString("\n")

	// Detailed results per suite
	for name, suite := range results.Suites {
		sb.WriteString(fmt.Sprintf("## %s\n\n", cases.Title(language.English).String(name)))
		sb.WriteString("| Benchmark | ops/sec | ns/op | B/op | allocs/op |\n")
		sb.WriteString("|-----------|---------|-------|------|----------|\n")
		for _, b := range suite.Benchmarks {
			sb.WriteString(fmt.Sprintf("| %s | %.0f | %.0f | %d | %d |\n",
				b.Name, b.OpsPerSec, b.NsPerOp, b.BytesPerOp, b.AllocsPerOp))
		}
		sb.WriteString("\n")
	}

	sb.WriteString("## Reproducing\n\n")
	sb.WriteString("```bash\n")
	sb.WriteString("go run benchmarks/run_benchmarks.go\n")
	sb.WriteString("# Or individual suites:\n")
	sb.WriteString("go test -bench=BenchmarkPipeline -benchtime=2s -benchmem ./tests/performance/...\n")
	sb.WriteString("go test -bench=BenchmarkReplay -benchtime=2s -benchmem ./tests/performance/...\n")
	sb.WriteString("go test -bench=BenchmarkServerStartup -benchtime=2s -benchmem ./tests/performance/...\n")
	sb.WriteString("```\n")

	os.WriteFile(path, []byte(sb.String()), 0644)
}

func printSummary(results BenchmarkResults) {
	fmt.Println()
	fmt.Println("==========================================")
	fmt.Println("              SUMMARY")
	fmt.Println("==========================================")
	fmt.Printf("Generate:  %.0f req/s (%.2fμs latency)\n",
		results.Summary.Generate.ChatOpsPerSec,
		results.Summary.Generate.ChatLatencyNs/1000)
	fmt.Printf("Parallel:  %.0f req/s\n",
		results.Summary.Generate.ConcurrentOpsPerSec)
	fmt.Printf("Replay:    %.0f req/s (%.2fμs latency)\n",
		results.Summary.Replay.HitOpsPerSec,
		results.Summary.Replay.HitLatencyNs/1000)
	fmt.Printf("Startup:   %.2fms server\n",
		results.Summary.Startup.ServerNs/1e6)
	fmt.Println("==========================================")
}
