package resources

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"testing"
)

func TestParseGPUQuery(t *testing.T) {
	cases := []struct {
		name   string
		output string
		want   GPUInfo
		ok     bool
	}{
		{
			name:   "single gpu",
			output: "NVIDIA GeForce RTX 3060, 12288\n",
			want:   GPUInfo{Name: "NVIDIA GeForce RTX 3060", MemoryMiB: 12288},
			ok:     true,
		},
		{
			name:   "multi gpu keeps first",
			output: "NVIDIA A100-SXM4-40GB, 40960\nNVIDIA A100-SXM4-40GB, 40960\n",
			want:   GPUInfo{Name: "NVIDIA A100-SXM4-40GB", MemoryMiB: 40960},
			ok:     true,
		},
		{
			name:   "name with comma",
			output: "NVIDIA, Custom Edition, 8192",
			want:   GPUInfo{Name: "NVIDIA, Custom Edition", MemoryMiB: 8192},
			ok:     true,
		},
		{name: "empty", output: "\n", ok: false},
		{name: "garbage", output: "No devices were found", ok: false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, ok := parseGPUQuery(tc.output)
			if ok != tc.ok {
				t.Fatalf("ok = %v, want %v", ok, tc.ok)
			}
			if ok && got != tc.want {
				t.Fatalf("parsed %+v, want %+v", got, tc.want)
			}
		})
	}
}

func TestProbeGPUUsesNvidiaSMI(t *testing.T) {
	original := commandContext
	commandContext = func(ctx context.Context, name string, args ...string) *exec.Cmd {
		if name != "nvidia-smi" {
			t.Fatalf("unexpected binary %q", name)
		}
		cmd := exec.CommandContext(ctx, os.Args[0], "-test.run=TestHelperProcess")
		cmd.Env = append(os.Environ(), "GO_WANT_HELPER_PROCESS=1", "PROBE_HELPER_MODE=gpu")
		return cmd
	}
	t.Cleanup(func() {
		commandContext = original
	})

	probe := NewProbe(nil)
	info, ok := probe.GPU(context.Background())
	if !ok {
		t.Fatal("expected gpu detection")
	}
	if info.Name != "NVIDIA GeForce RTX 4090" || info.MemoryMiB != 24564 {
		t.Fatalf("unexpected info: %+v", info)
	}
}

func TestProbeGPUMissingBinary(t *testing.T) {
	original := commandContext
	commandContext = func(ctx context.Context, name string, args ...string) *exec.Cmd {
		cmd := exec.CommandContext(ctx, os.Args[0], "-test.run=TestHelperProcess")
		cmd.Env = append(os.Environ(), "GO_WANT_HELPER_PROCESS=1", "PROBE_HELPER_MODE=fail")
		return cmd
	}
	t.Cleanup(func() {
		commandContext = original
	})

	probe := NewProbe(nil)
	if _, ok := probe.GPU(context.Background()); ok {
		t.Fatal("expected no gpu")
	}
}

func TestHelperProcess(t *testing.T) {
	if os.Getenv("GO_WANT_HELPER_PROCESS") != "1" {
		return
	}
	switch os.Getenv("PROBE_HELPER_MODE") {
	case "gpu":
		fmt.Println("NVIDIA GeForce RTX 4090, 24564")
		os.Exit(0)
	case "fail":
		fmt.Fprintln(os.Stderr, "NVIDIA-SMI has failed")
		os.Exit(9)
	default:
		os.Exit(0)
	}
}
