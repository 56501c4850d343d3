package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"runtime"

	"github.com/shirou/gopsutil/cpu"
	"github.com/shirou/gopsutil/host"
	"github.com/shirou/gopsutil/mem"
	"github.com/spf13/cobra"
)

type systemInfo struct {
	GoVersion     string `json:"go_version"`
	OS            string `json:"os"`
	Arch          string `json:"arch"`
	Platform      string `json:"platform"`
	KernelVersion string `json:"kernel_version"`
	CPUModel      string `json:"cpu_model"`
	PhysicalCores int    `json:"physical_cores"`
	LogicalCores  int    `json:"logical_cores"`
	GOMAXPROCS    int    `json:"gomaxprocs"`
	MemoryTotal   uint64 `json:"memory_total"`
	MemoryFree    uint64 `json:"memory_available"`
}

var infoCmd = &cobra.Command{
	Use:   "info",
	Short: "Print information about the machine the simulation runs on.",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		info, err := collectSystemInfo()
		if err != nil {
			return err
		}

		asJSON, _ := cmd.Flags().GetBool("json")
		if asJSON {
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")

			return enc.Encode(info)
		}

		printSystemInfo(cmd.OutOrStdout(), info)

		return nil
	},
}

func init() {
	infoCmd.Flags().Bool("json", false, "print the report as JSON")
	rootCmd.AddCommand(infoCmd)
}

func collectSystemInfo() (systemInfo, error) {
	info := systemInfo{
		GoVersion:  runtime.Version(),
		OS:         runtime.GOOS,
		Arch:       runtime.GOARCH,
		GOMAXPROCS: runtime.GOMAXPROCS(0),
	}

	h, err := host.Info()
	if err != nil {
		return info, fmt.Errorf("failed to read host info: %w", err)
	}

	info.Platform = fmt.Sprintf("%s %s", h.Platform, h.PlatformVersion)
	info.KernelVersion = h.KernelVersion

	cpus, err := cpu.Info()
	if err == nil && len(cpus) > 0 {
		info.CPUModel = cpus[0].ModelName
	}

	info.PhysicalCores, err = cpu.Counts(false)
	if err != nil {
		return info, fmt.Errorf("failed to count cores: %w", err)
	}

	info.LogicalCores, err = cpu.Counts(true)
	if err != nil {
		return info, fmt.Errorf("failed to count cores: %w", err)
	}

	vm, err := mem.VirtualMemory()
	if err != nil {
		return info, fmt.Errorf("failed to read memory info: %w", err)
	}

	info.MemoryTotal = vm.Total
	info.MemoryFree = vm.Available

	return info, nil
}

func printSystemInfo(w io.Writer, info systemInfo) {
	const mib = 1 << 20

	fmt.Fprintln(w, "Go:")
	fmt.Fprintf(w, "  Version:     %s\n", info.GoVersion)
	fmt.Fprintf(w, "  GOMAXPROCS:  %d\n", info.GOMAXPROCS)
	fmt.Fprintln(w, "Host:")
	fmt.Fprintf(w, "  System:      %s/%s\n", info.OS, info.Arch)
	fmt.Fprintf(w, "  Platform:    %s\n", info.Platform)
	fmt.Fprintf(w, "  Kernel:      %s\n", info.KernelVersion)
	fmt.Fprintln(w, "Hardware:")
	fmt.Fprintf(w, "  CPU:         %s\n", info.CPUModel)
	fmt.Fprintf(w, "  Cores:       %d physical, %d logical\n",
		info.PhysicalCores, info.LogicalCores)
	fmt.Fprintf(w, "  Memory:      %d MiB total, %d MiB available\n",
		info.MemoryTotal/mib, info.MemoryFree/mib)

	if info.GOMAXPROCS > 1 {
		fmt.Fprintln(w, "Lane workers can run in parallel on this machine.")
	} else {
		fmt.Fprintln(w, "Lane workers share a single processor on this machine.")
	}
}
