/*
Copyright © 2025 CODA Project
*/
package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"runtime"
	"runtime/debug"
	"strings"

	"github.com/spf13/cobra"

	"github.com/common-creation/chatpipe/internal/segment"
	"github.com/common-creation/chatpipe/internal/toolcall"
)

// Set at build time with -ldflags "-X github.com/common-creation/chatpipe/cmd.Version=..."
var (
	Version = "dev"
	Commit  = "unknown"
	Date    = "unknown"
)

var (
	verbose    bool
	jsonOutput bool
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Display version information",
	Long: `Display the chatpipe version. With --verbose it also prints the segment
schema version, the tool-call encodings the detector recognizes and the
storage drivers compiled in, which together decide whether stored messages
and recorded transcripts from another build are readable.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		info := getVersionInfo()
		out := cmd.OutOrStdout()
		switch {
		case jsonOutput:
			enc := json.NewEncoder(out)
			enc.SetIndent("", "  ")
			return enc.Encode(info)
		case verbose:
			writeVerbose(out, info)
		default:
			fmt.Fprintf(out, "chatpipe version %s\n", info.Version)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)

	versionCmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "show detailed version information")
	versionCmd.Flags().BoolVar(&jsonOutput, "json", false, "output version information as JSON")
}

// VersionInfo is the --json output of the version command.
type VersionInfo struct {
	Version        string   `json:"version"`
	Commit         string   `json:"commit"`
	Date           string   `json:"date"`
	GoVersion      string   `json:"go_version"`
	Platform       string   `json:"platform"`
	SegmentSchema  int      `json:"segment_schema"`
	Encodings      []string `json:"tool_call_encodings"`
	StorageDrivers []string `json:"storage_drivers"`
	Modified       bool     `json:"modified,omitempty"`
}

func getVersionInfo() VersionInfo {
	info := VersionInfo{
		Version:       Version,
		Commit:        Commit,
		Date:          Date,
		GoVersion:     runtime.Version(),
		Platform:      runtime.GOOS + "/" + runtime.GOARCH,
		SegmentSchema: segment.SchemaVersion,
		Encodings: []string{
			string(toolcall.EncodingXML),
			string(toolcall.EncodingUseMCPTool),
			string(toolcall.EncodingFenced),
			string(toolcall.EncodingBareJSON),
		},
		StorageDrivers: []string{"file", "sqlite"},
	}

	// go install builds carry VCS data instead of ldflags
	if bi, ok := debug.ReadBuildInfo(); ok {
		for _, s := range bi.Settings {
			switch s.Key {
			case "vcs.revision":
				if info.Commit == "unknown" {
					info.Commit = s.Value
				}
			case "vcs.time":
				if info.Date == "unknown" {
					info.Date = s.Value
				}
			case "vcs.modified":
				info.Modified = s.Value == "true"
			}
		}
	}
	return info
}

func writeVerbose(w io.Writer, info VersionInfo) {
	fmt.Fprintf(w, "chatpipe version %s\n", info.Version)
	fmt.Fprintf(w, "Commit: %s", info.Commit)
	if info.Modified {
		fmt.Fprint(w, " (modified)")
	}
	fmt.Fprintln(w)
	fmt.Fprintf(w, "Built: %s\n", info.Date)
	fmt.Fprintf(w, "Go version: %s\n", info.GoVersion)
	fmt.Fprintf(w, "Platform: %s\n", info.Platform)
	fmt.Fprintf(w, "\nSegment schema: v%d\n", info.SegmentSchema)
	fmt.Fprintf(w, "Tool-call encodings: %s\n", strings.Join(info.Encodings, ", "))
	fmt.Fprintf(w, "Storage drivers: %s\n", strings.Join(info.StorageDrivers, ", "))
}

// GetVersionString returns a formatted version string
func GetVersionString() string {
	if Version == "dev" {
		return fmt.Sprintf("chatpipe %s (commit: %s)", Version, getShortCommit())
	}
	return fmt.Sprintf("chatpipe %s", Version)
}

func getShortCommit() string {
	if len(Commit) >= 7 {
		return Commit[:7]
	}
	return Commit
}
